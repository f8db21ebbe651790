package game

import (
	"slices"
	"time"
)

// ComputeNetWorth is cash plus every holding marked at its current price.
// A symbol the market no longer quotes is valued at zero.
func ComputeNetWorth(l Ledger, m Market) int64 {
	total := l.CashCents
	for sym, units := range l.Holdings {
		price, _ := m.Price(sym)
		total += units * price
	}
	return total
}

// History is the bounded net-worth series, oldest first.
type History []NetWorthPoint

// RecordSample returns h with one more sample, trimmed to the newest
// window entries. h itself is left untouched.
func RecordSample(h History, at time.Time, valueCents int64, window int) History {
	return appendBounded(h, NetWorthPoint{At: at, ValueCents: valueCents}, window)
}

func (h History) Last() (NetWorthPoint, bool) {
	if len(h) == 0 {
		return NetWorthPoint{}, false
	}
	return h[len(h)-1], true
}

func (h History) Points() []NetWorthPoint {
	return slices.Clone(h)
}
