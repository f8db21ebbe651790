package journal

import (
	"context"
	"time"
)

// TradeRecord is one filled order.
type TradeRecord struct {
	TradeID       string
	SessionID     string
	PlayerID      string
	Symbol        string
	Side          string
	Units         int64
	PriceCents    int64
	NotionalCents int64
	CashCents     int64
	At            time.Time
}

// NetWorthRecord is one net-worth sample taken on a market tick.
type NetWorthRecord struct {
	SessionID     string
	PlayerID      string
	Tick          int64
	CashCents     int64
	NetWorthCents int64
	At            time.Time
}

// Journal is a write-only audit sink. Nothing is ever read back into a
// running game.
type Journal interface {
	RecordTrade(ctx context.Context, rec TradeRecord) error
	RecordNetWorth(ctx context.Context, rec NetWorthRecord) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(context.Context, TradeRecord) error       { return nil }
func (Nop) RecordNetWorth(context.Context, NetWorthRecord) error { return nil }
func (Nop) Close() error                                         { return nil }
