package game

import "time"

type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Quote struct {
	Symbol      string       `json:"symbol"`
	Name        string       `json:"name"`
	PriceCents  int64        `json:"price_cents"`
	ChangeCents int64        `json:"change_cents"`
	ChangePct   float64      `json:"change_pct"`
	Series      []PricePoint `json:"series"`
}

type MarketSnapshot struct {
	Tick   int64   `json:"tick"`
	Assets []Quote `json:"assets"`
}

type LedgerSnapshot struct {
	CashCents int64            `json:"cash_cents"`
	Holdings  map[string]int64 `json:"holdings"`
	AvgCost   map[string]int64 `json:"avg_cost_cents"`
}

type PositionView struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	Units           int64   `json:"units"`
	AvgCostCents    int64   `json:"avg_cost_cents"`
	PriceCents      int64   `json:"price_cents"`
	ValueCents      int64   `json:"value_cents"`
	UnrealizedCents int64   `json:"unrealized_cents"`
	UnrealizedPct   float64 `json:"unrealized_pct"`
}

type CoinView struct {
	Quote
	Units         int64   `json:"units"`
	AvgCostCents  int64   `json:"avg_cost_cents"`
	ValueCents    int64   `json:"value_cents"`
	UnrealizedPct float64 `json:"unrealized_pct"`
	MaxBuyUnits   int64   `json:"max_buy_units"`
}

type NetWorthPoint struct {
	At         time.Time `json:"t"`
	ValueCents int64     `json:"value_cents"`
}

type Dashboard struct {
	SessionID          string         `json:"session_id"`
	Player             Player         `json:"player"`
	Tick               int64          `json:"tick"`
	Active             bool           `json:"active"`
	StartingCashCents  int64          `json:"starting_cash_cents"`
	CashCents          int64          `json:"cash_cents"`
	NetWorthCents      int64          `json:"net_worth_cents"`
	PeakNetWorthCents  int64          `json:"peak_net_worth_cents"`
	Positions          []PositionView `json:"positions"`
	Market             MarketSnapshot `json:"market"`
	LastNetWorthSample *NetWorthPoint `json:"last_net_worth_sample,omitempty"`
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type FillStatus string

const (
	FillFilled   FillStatus = "filled"
	FillRejected FillStatus = "rejected"
	FillNoop     FillStatus = "noop"
)

// Fill describes what a buy or sell actually did to the ledger.
type Fill struct {
	ID            string     `json:"id,omitempty"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Status        FillStatus `json:"status"`
	Requested     int64      `json:"requested_units"`
	Units         int64      `json:"units"`
	PriceCents    int64      `json:"price_cents"`
	NotionalCents int64      `json:"notional_cents"`
	CashCents     int64      `json:"cash_cents"`
}

type OrderResult struct {
	Fill          Fill  `json:"fill"`
	NetWorthCents int64 `json:"net_worth_cents"`
}
