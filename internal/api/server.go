package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tycoon/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const sessionContextKey contextKey = "session"

var errInvalidSide = errors.New("side must be buy or sell")

type Server struct {
	log      *slog.Logger
	sessions *game.Registry
	mux      *chi.Mux
}

func New(logger *slog.Logger, sessions *game.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:      logger,
		sessions: sessions,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.sessions.Len()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/catalog", s.handleCatalog)
			r.Post("/sessions", s.handleStartSession)
		})

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(s.sessionMiddleware)
			// The stream outlives any request timeout.
			r.Get("/stream", s.handleStream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				r.Get("/", s.handleDashboard)
				r.Delete("/", s.handleEndSession)
				r.Get("/market", s.handleMarket)
				r.Get("/market/{symbol}", s.handleCoin)
				r.Get("/ledger", s.handleLedger)
				r.Get("/portfolio", s.handlePortfolio)
				r.Get("/history", s.handleHistory)
				r.Post("/orders", s.handleOrder)
				r.Get("/orders/max", s.handleMaxBuy)
				r.Post("/reset", s.handleReset)
				r.Post("/active", s.handleActive)
			})
		})
	})
}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(strings.TrimSpace(chi.URLParam(r, "id")))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (*game.Session, error) {
	sess, ok := ctx.Value(sessionContextKey).(*game.Session)
	if !ok || sess == nil {
		return nil, errors.New("missing session context")
	}
	return sess, nil
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": s.sessions.Catalog()})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.sessions.Start(in.DisplayName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Dashboard())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Dashboard())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.sessions.Remove(sess.Handle()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.MarketSnapshot())
}

func (s *Server) handleCoin(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	coin, err := sess.Coin(chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coin)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.LedgerSnapshot())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	d := sess.Dashboard()
	writeJSON(w, http.StatusOK, map[string]any{
		"cash_cents":           d.CashCents,
		"net_worth_cents":      d.NetWorthCents,
		"peak_net_worth_cents": d.PeakNetWorthCents,
		"starting_cash_cents":  d.StartingCashCents,
		"positions":            d.Positions,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": sess.NetWorthHistory()})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var in struct {
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Quantity any    `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	qty := parseQuantity(in.Quantity)
	var result game.OrderResult
	switch game.Side(strings.ToLower(strings.TrimSpace(in.Side))) {
	case game.SideBuy:
		result, err = sess.Buy(in.Symbol, qty)
	case game.SideSell:
		result, err = sess.Sell(in.Symbol, qty)
	default:
		err = fmt.Errorf("%w: %q", errInvalidSide, in.Side)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMaxBuy(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	symbol := game.NormalizeSymbol(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	units, err := sess.MaxBuy(symbol)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "max_units": units})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	d, err := sess.Reset()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var in struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}
	sess.SetActive(*in.Active)
	writeJSON(w, http.StatusOK, sess.Dashboard())
}

// parseQuantity accepts a JSON number or a numeric string. Anything else
// becomes 0, which the session treats as a no-op.
func parseQuantity(v any) int64 {
	switch q := v.(type) {
	case float64:
		return game.NormalizeQuantity(q)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(q), 64)
		if err != nil {
			return 0
		}
		return game.NormalizeQuantity(f)
	default:
		return 0
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, game.ErrUnknownAsset):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrOverflow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrDisplayNameRequired), errors.Is(err, game.ErrDisplayNameTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInvalidSymbol), errors.Is(err, errInvalidSide):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrSessionClosed):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
