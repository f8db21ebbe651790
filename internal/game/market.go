package game

import "slices"

type PricePoint struct {
	Tick       int64 `json:"t"`
	PriceCents int64 `json:"p"`
}

type MarketEntry struct {
	Asset
	PriceCents int64        `json:"price_cents"`
	Series     []PricePoint `json:"series"`
}

// Change compares the oldest and newest sample still in the series.
func (e MarketEntry) Change() (absCents int64, pct float64) {
	if len(e.Series) == 0 {
		return 0, 0
	}
	first := e.Series[0].PriceCents
	last := e.Series[len(e.Series)-1].PriceCents
	absCents = last - first
	if first != 0 {
		pct = float64(absCents) / float64(first) * 100
	}
	return absCents, pct
}

// Market is an immutable value: Advance returns a new Market and never
// touches the receiver's slices or map.
type Market struct {
	order   []string
	entries map[string]MarketEntry
}

func NewMarket(catalog []Asset, r RandSource) Market {
	m := Market{
		order:   make([]string, 0, len(catalog)),
		entries: make(map[string]MarketEntry, len(catalog)),
	}
	for _, a := range catalog {
		price := InitialPrice(r)
		m.order = append(m.order, a.Symbol)
		m.entries[a.Symbol] = MarketEntry{
			Asset:      a,
			PriceCents: price,
			Series:     []PricePoint{{Tick: 0, PriceCents: price}},
		}
	}
	return m
}

// Advance moves every asset one step, in catalog order so a seeded source
// replays identically.
func (m Market) Advance(tick int64, r RandSource, s Settings) Market {
	next := Market{
		order:   m.order,
		entries: make(map[string]MarketEntry, len(m.entries)),
	}
	for _, sym := range m.order {
		e := m.entries[sym]
		price := NextPrice(r, e.PriceCents, s.Drift, s.Volatility)
		e.PriceCents = price
		e.Series = appendBounded(e.Series, PricePoint{Tick: tick, PriceCents: price}, s.SeriesWindow)
		next.entries[sym] = e
	}
	return next
}

func (m Market) Price(symbol string) (int64, bool) {
	e, ok := m.entries[symbol]
	if !ok {
		return 0, false
	}
	return e.PriceCents, true
}

func (m Market) Entry(symbol string) (MarketEntry, bool) {
	e, ok := m.entries[symbol]
	return e, ok
}

func (m Market) Symbols() []string {
	return slices.Clone(m.order)
}

func (m Market) Snapshot(tick int64) MarketSnapshot {
	out := MarketSnapshot{Tick: tick, Assets: make([]Quote, 0, len(m.order))}
	for _, sym := range m.order {
		e := m.entries[sym]
		changeAbs, changePct := e.Change()
		out.Assets = append(out.Assets, Quote{
			Symbol:      e.Symbol,
			Name:        e.Name,
			PriceCents:  e.PriceCents,
			ChangeCents: changeAbs,
			ChangePct:   changePct,
			Series:      slices.Clone(e.Series),
		})
	}
	return out
}

// appendBounded returns a fresh slice holding s plus v, keeping only the
// newest window entries.
func appendBounded[T any](s []T, v T, window int) []T {
	n := len(s) + 1
	start := 0
	if window > 0 && n > window {
		start = n - window
	}
	out := make([]T, 0, n-start)
	if start < len(s) {
		out = append(out, s[start:]...)
	}
	return append(out, v)
}
