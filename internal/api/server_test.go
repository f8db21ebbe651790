package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tycoon/internal/game"
)

func newTestServer(t *testing.T) (*Server, *game.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := game.NewRegistry(game.Options{
		Settings: game.Settings{StartingCashCents: 1_000_000},
		Logger:   logger,
	}, 0)
	t.Cleanup(reg.Close)
	return New(logger, reg), reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func startSession(t *testing.T, h http.Handler) game.Dashboard {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]any{"display_name": "trader"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[game.Dashboard](t, rec)
}

func priceOf(t *testing.T, h http.Handler, id, symbol string) int64 {
	t.Helper()
	rec := doJSON(t, h, http.MethodGet, "/v1/sessions/"+id+"/market", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[game.MarketSnapshot](t, rec)
	for _, q := range snap.Assets {
		if q.Symbol == symbol {
			return q.PriceCents
		}
	}
	t.Fatalf("no quote for %s", symbol)
	return 0
}

func TestHealthAndCatalog(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[struct {
		Assets []game.Asset `json:"assets"`
	}](t, rec)
	assert.Equal(t, game.DefaultCatalog(), out.Assets)
}

func TestStartSession(t *testing.T) {
	srv, reg := newTestServer(t)
	h := srv.Handler()

	d := startSession(t, h)
	assert.NotEmpty(t, d.SessionID)
	assert.NotEmpty(t, d.Player.ID)
	assert.Equal(t, "trader", d.Player.DisplayName)
	assert.Equal(t, int64(1_000_000), d.CashCents)
	assert.Equal(t, int64(1_000_000), d.NetWorthCents)
	assert.False(t, d.Active)
	assert.Len(t, d.Market.Assets, 5)
	assert.Equal(t, 1, reg.Len())

	rec := doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]any{"display_name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/sessions", `{"display_name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/sessions/nope/ledger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "session not found")
}

func TestOrders(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	id := startSession(t, h).SessionID
	base := "/v1/sessions/" + id
	price := priceOf(t, h, id, "BTC")

	rec := doJSON(t, h, http.MethodPost, base+"/orders", map[string]any{"symbol": "btc", "side": "buy", "quantity": 2.9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[game.OrderResult](t, rec)
	assert.Equal(t, game.FillFilled, res.Fill.Status)
	assert.Equal(t, int64(2), res.Fill.Units)
	assert.Equal(t, 1_000_000-2*price, res.Fill.CashCents)

	rec = doJSON(t, h, http.MethodPost, base+"/orders", map[string]any{"symbol": "BTC", "side": "sell", "quantity": "1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decodeBody[game.OrderResult](t, rec)
	assert.Equal(t, int64(1), res.Fill.Units)

	rec = doJSON(t, h, http.MethodPost, base+"/orders", map[string]any{"symbol": "BTC", "side": "buy", "quantity": "lots"})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeBody[game.OrderResult](t, rec)
	assert.Equal(t, game.FillNoop, res.Fill.Status)

	rec = doJSON(t, h, http.MethodGet, base+"/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	led := decodeBody[game.LedgerSnapshot](t, rec)
	assert.Equal(t, int64(1), led.Holdings["BTC"])
	assert.Equal(t, price, led.AvgCost["BTC"])
	assert.Equal(t, 1_000_000-price, led.CashCents)
}

func TestOrderErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	id := startSession(t, h).SessionID
	base := "/v1/sessions/" + id

	rec := doJSON(t, h, http.MethodPost, base+"/orders", map[string]any{"symbol": "ETH", "side": "buy", "quantity": 1_000_000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient funds")

	rec = doJSON(t, h, http.MethodPost, base+"/orders", map[string]any{"symbol": "XRP", "side": "buy", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, base+"/orders", map[string]any{"symbol": "ETH", "side": "short", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, base+"/orders", `{"symbol":"ETH","side":"buy","quantity":1,"limit":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, base+"/ledger", nil)
	led := decodeBody[game.LedgerSnapshot](t, rec)
	assert.Equal(t, int64(1_000_000), led.CashCents)
	assert.Empty(t, led.Holdings)
}

func TestCoinAndMaxBuy(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	id := startSession(t, h).SessionID
	base := "/v1/sessions/" + id
	price := priceOf(t, h, id, "SOL")

	rec := doJSON(t, h, http.MethodGet, base+"/orders/max?symbol=sol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[struct {
		Symbol   string `json:"symbol"`
		MaxUnits int64  `json:"max_units"`
	}](t, rec)
	assert.Equal(t, "SOL", out.Symbol)
	assert.Equal(t, 1_000_000/price, out.MaxUnits)

	rec = doJSON(t, h, http.MethodGet, base+"/orders/max", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, base+"/market/SOL", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	coin := decodeBody[game.CoinView](t, rec)
	assert.Equal(t, "Solana", coin.Name)
	assert.Equal(t, out.MaxUnits, coin.MaxBuyUnits)

	rec = doJSON(t, h, http.MethodGet, base+"/market/XRP", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActiveHistoryAndReset(t *testing.T) {
	srv, reg := newTestServer(t)
	h := srv.Handler()
	id := startSession(t, h).SessionID
	base := "/v1/sessions/" + id

	rec := doJSON(t, h, http.MethodPost, base+"/active", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, base+"/active", map[string]any{"active": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[game.Dashboard](t, rec).Active)

	sess, err := reg.Get(id)
	require.NoError(t, err)
	require.True(t, sess.Step())

	rec = doJSON(t, h, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decodeBody[struct {
		Points []game.NetWorthPoint `json:"points"`
	}](t, rec)
	assert.Len(t, hist.Points, 2)

	rec = doJSON(t, h, http.MethodGet, base+"/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)

	rec = doJSON(t, h, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decodeBody[game.Dashboard](t, rec)
	assert.False(t, d.Active)
	assert.Equal(t, int64(0), d.Tick)
	assert.Nil(t, d.LastNetWorthSample)
}

func TestResetClosedSession(t *testing.T) {
	srv, reg := newTestServer(t)
	h := srv.Handler()
	id := startSession(t, h).SessionID

	sess, err := reg.Get(id)
	require.NoError(t, err)
	sess.Close()

	rec := doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/reset", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.False(t, sess.Active())
}

func TestEndSession(t *testing.T) {
	srv, reg := newTestServer(t)
	h := srv.Handler()
	id := startSession(t, h).SessionID

	rec := doJSON(t, h, http.MethodDelete, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, reg.Len())

	rec = doJSON(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in   any
		want int64
	}{
		{in: 3.0, want: 3},
		{in: 3.99, want: 3},
		{in: "12", want: 12},
		{in: " 4.5 ", want: 4},
		{in: "abc", want: 0},
		{in: "NaN", want: 0},
		{in: -2.0, want: 0},
		{in: 0.5, want: 0},
		{in: true, want: 0},
		{in: nil, want: 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, parseQuantity(tc.in), "input %#v", tc.in)
	}
}

func TestStream(t *testing.T) {
	srv, reg := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	id := startSession(t, srv.Handler()).SessionID
	sess, err := reg.Get(id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/stream"
	conn, br, _, err := ws.Dial(ctx, url)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}

	read := func() game.Dashboard {
		msg, err := wsutil.ReadServerText(rw)
		require.NoError(t, err)
		var d game.Dashboard
		require.NoError(t, json.Unmarshal(msg, &d))
		return d
	}

	first := read()
	assert.Equal(t, id, first.SessionID)
	assert.Equal(t, int64(0), first.Tick)

	sess.SetActive(true)
	require.True(t, sess.Step())
	next := read()
	assert.Equal(t, int64(1), next.Tick)
	assert.True(t, next.Active)
}

func TestStreamAnswersPing(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	id := startSession(t, srv.Handler()).SessionID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/stream"
	conn, br, _, err := ws.Dial(ctx, url)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}

	require.NoError(t, wsutil.WriteClientMessage(conn, ws.OpPing, []byte("hi")))
	for i := 0; i < 4; i++ {
		f, err := ws.ReadFrame(r)
		require.NoError(t, err)
		if f.Header.OpCode == ws.OpPong {
			assert.Equal(t, "hi", string(f.Payload))
			return
		}
		assert.Equal(t, ws.OpText, f.Header.OpCode)
	}
	t.Fatal("no pong for ping")
}
