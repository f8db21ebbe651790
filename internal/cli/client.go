package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"tycoon/internal/game"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server, which for
// session routes means the session expired or was ended.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Portfolio struct {
	CashCents         int64               `json:"cash_cents"`
	NetWorthCents     int64               `json:"net_worth_cents"`
	PeakNetWorthCents int64               `json:"peak_net_worth_cents"`
	StartingCashCents int64               `json:"starting_cash_cents"`
	Positions         []game.PositionView `json:"positions"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func sessionPathFor(id string) string {
	return "/v1/sessions/" + url.PathEscape(id)
}

func (c *Client) Catalog(ctx context.Context) ([]game.Asset, error) {
	var out struct {
		Assets []game.Asset `json:"assets"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", nil, &out)
	return out.Assets, err
}

func (c *Client) StartSession(ctx context.Context, displayName string) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sessions", map[string]any{
		"display_name": displayName,
	}, &out)
	return out, err
}

func (c *Client) Dashboard(ctx context.Context, id string) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodGet, sessionPathFor(id), nil, &out)
	return out, err
}

func (c *Client) EndSession(ctx context.Context, id string) error {
	return c.jsonRequest(ctx, http.MethodDelete, sessionPathFor(id), nil, nil)
}

func (c *Client) Market(ctx context.Context, id string) (game.MarketSnapshot, error) {
	var out game.MarketSnapshot
	err := c.jsonRequest(ctx, http.MethodGet, sessionPathFor(id)+"/market", nil, &out)
	return out, err
}

func (c *Client) Coin(ctx context.Context, id, symbol string) (game.CoinView, error) {
	var out game.CoinView
	err := c.jsonRequest(ctx, http.MethodGet, sessionPathFor(id)+"/market/"+url.PathEscape(symbol), nil, &out)
	return out, err
}

func (c *Client) Ledger(ctx context.Context, id string) (game.LedgerSnapshot, error) {
	var out game.LedgerSnapshot
	err := c.jsonRequest(ctx, http.MethodGet, sessionPathFor(id)+"/ledger", nil, &out)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, id string) (Portfolio, error) {
	var out Portfolio
	err := c.jsonRequest(ctx, http.MethodGet, sessionPathFor(id)+"/portfolio", nil, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, id string) ([]game.NetWorthPoint, error) {
	var out struct {
		Points []game.NetWorthPoint `json:"points"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, sessionPathFor(id)+"/history", nil, &out)
	return out.Points, err
}

// PlaceOrder sends quantity as typed so the server decides what counts as
// a number.
func (c *Client) PlaceOrder(ctx context.Context, id, symbol string, side game.Side, quantity string) (game.OrderResult, error) {
	var out game.OrderResult
	err := c.jsonRequest(ctx, http.MethodPost, sessionPathFor(id)+"/orders", map[string]any{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
	}, &out)
	return out, err
}

func (c *Client) MaxBuy(ctx context.Context, id, symbol string) (int64, error) {
	var out struct {
		MaxUnits int64 `json:"max_units"`
	}
	path := sessionPathFor(id) + "/orders/max?symbol=" + url.QueryEscape(symbol)
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out.MaxUnits, err
}

func (c *Client) Reset(ctx context.Context, id string) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodPost, sessionPathFor(id)+"/reset", map[string]any{}, &out)
	return out, err
}

func (c *Client) SetActive(ctx context.Context, id string, active bool) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodPost, sessionPathFor(id)+"/active", map[string]any{
		"active": active,
	}, &out)
	return out, err
}

// Stream calls fn with every dashboard the server pushes until ctx ends,
// the server closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, id string, fn func(game.Dashboard) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + sessionPathFor(id) + "/stream"
	conn, br, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}
	for {
		msg, err := wsutil.ReadServerText(rw)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return nil
			}
			return err
		}
		var d game.Dashboard
		if err := json.Unmarshal(msg, &d); err != nil {
			return fmt.Errorf("decode stream frame: %w", err)
		}
		if err := fn(d); err != nil {
			return err
		}
	}
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
