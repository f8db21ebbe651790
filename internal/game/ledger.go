package game

import (
	"fmt"
	"maps"
	"math"
	"math/big"
	"sort"
)

// Ledger holds a player's cash, whole-unit holdings and per-symbol average
// cost. A symbol is present in Holdings exactly when it is present in
// AvgCost. Buy and Sell never mutate the receiver.
type Ledger struct {
	CashCents int64
	Holdings  map[string]int64
	AvgCost   map[string]int64
}

func NewLedger(startingCashCents int64) Ledger {
	return Ledger{
		CashCents: startingCashCents,
		Holdings:  map[string]int64{},
		AvgCost:   map[string]int64{},
	}
}

func (l Ledger) clone() Ledger {
	next := Ledger{
		CashCents: l.CashCents,
		Holdings:  maps.Clone(l.Holdings),
		AvgCost:   maps.Clone(l.AvgCost),
	}
	if next.Holdings == nil {
		next.Holdings = map[string]int64{}
	}
	if next.AvgCost == nil {
		next.AvgCost = map[string]int64{}
	}
	return next
}

// Buy purchases qty units at priceCents. A non-positive qty is a no-op;
// an order costing more than the available cash is rejected whole.
func (l Ledger) Buy(symbol string, qty, priceCents int64) (Ledger, Fill, error) {
	fill := Fill{Symbol: symbol, Side: SideBuy, Requested: qty, PriceCents: priceCents, CashCents: l.CashCents}
	if qty <= 0 {
		fill.Requested = 0
		fill.Status = FillNoop
		return l, fill, nil
	}
	cost, err := notionalCents(priceCents, qty)
	if err != nil {
		fill.Status = FillRejected
		return l, fill, err
	}
	if cost > l.CashCents {
		fill.Status = FillRejected
		return l, fill, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, FormatCents(cost), FormatCents(l.CashCents))
	}

	prevUnits := l.Holdings[symbol]
	newUnits := prevUnits + qty
	newAvg := priceCents
	if prevUnits > 0 {
		newAvg, err = weightedAverage(l.AvgCost[symbol], prevUnits, priceCents, qty)
		if err != nil {
			fill.Status = FillRejected
			return l, fill, err
		}
	}

	next := l.clone()
	next.CashCents -= cost
	next.Holdings[symbol] = newUnits
	next.AvgCost[symbol] = newAvg

	fill.Status = FillFilled
	fill.Units = qty
	fill.NotionalCents = cost
	fill.CashCents = next.CashCents
	return next, fill, nil
}

// Sell liquidates up to qty units. Asking for more than is held sells
// everything held; a full exit drops the cost basis with the holding.
// Proceeds that would not fit the cash balance reject the order with
// ErrOverflow and leave the ledger as it was.
func (l Ledger) Sell(symbol string, qty, priceCents int64) (Ledger, Fill, error) {
	fill := Fill{Symbol: symbol, Side: SideSell, Requested: qty, PriceCents: priceCents, CashCents: l.CashCents}
	if qty <= 0 {
		fill.Requested = 0
		fill.Status = FillNoop
		return l, fill, nil
	}
	owned := l.Holdings[symbol]
	units := min(owned, qty)
	if units <= 0 {
		fill.Status = FillNoop
		return l, fill, nil
	}
	// Cheap units bought early can be worth more than an int64 of cents
	// once the price has run up toward MaxPriceCents.
	proceeds, err := notionalCents(priceCents, units)
	if err == nil && proceeds > math.MaxInt64-l.CashCents {
		err = ErrOverflow
	}
	if err != nil {
		fill.Status = FillRejected
		return l, fill, err
	}

	next := l.clone()
	next.CashCents += proceeds
	if remaining := owned - units; remaining > 0 {
		next.Holdings[symbol] = remaining
	} else {
		delete(next.Holdings, symbol)
		delete(next.AvgCost, symbol)
	}

	fill.Status = FillFilled
	fill.Units = units
	fill.NotionalCents = proceeds
	fill.CashCents = next.CashCents
	return next, fill, nil
}

// Check verifies the ledger invariants.
func (l Ledger) Check() error {
	if l.CashCents < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeCash, FormatCents(l.CashCents))
	}
	if len(l.Holdings) != len(l.AvgCost) {
		return fmt.Errorf("%w: %d holdings, %d cost entries", ErrLedgerDrift, len(l.Holdings), len(l.AvgCost))
	}
	for sym, units := range l.Holdings {
		avg, ok := l.AvgCost[sym]
		if !ok {
			return fmt.Errorf("%w: %s has no average cost", ErrLedgerDrift, sym)
		}
		if units <= 0 || avg <= 0 {
			return fmt.Errorf("%w: %s units=%d avg=%d", ErrLedgerDrift, sym, units, avg)
		}
	}
	return nil
}

func (l Ledger) Snapshot() LedgerSnapshot {
	return LedgerSnapshot{
		CashCents: l.CashCents,
		Holdings:  maps.Clone(l.Holdings),
		AvgCost:   maps.Clone(l.AvgCost),
	}
}

// Positions values every holding at the market's current price. Catalog
// symbols come first in catalog order, anything else follows sorted.
func (l Ledger) Positions(m Market) []PositionView {
	out := make([]PositionView, 0, len(l.Holdings))
	seen := make(map[string]struct{}, len(l.Holdings))
	add := func(sym string) {
		units, ok := l.Holdings[sym]
		if !ok {
			return
		}
		seen[sym] = struct{}{}
		pos := PositionView{Symbol: sym, Units: units, AvgCostCents: l.AvgCost[sym]}
		if e, ok := m.Entry(sym); ok {
			pos.Name = e.Name
			pos.PriceCents = e.PriceCents
		}
		pos.ValueCents = units * pos.PriceCents
		pos.UnrealizedCents = pos.ValueCents - units*pos.AvgCostCents
		pos.UnrealizedPct = pctChange(pos.AvgCostCents, pos.PriceCents)
		out = append(out, pos)
	}
	for _, sym := range m.Symbols() {
		add(sym)
	}
	var rest []string
	for sym := range l.Holdings {
		if _, ok := seen[sym]; !ok {
			rest = append(rest, sym)
		}
	}
	sort.Strings(rest)
	for _, sym := range rest {
		add(sym)
	}
	return out
}

// MaxAffordable is the largest whole quantity cash can pay for at priceCents.
func MaxAffordable(cashCents, priceCents int64) int64 {
	if priceCents <= 0 || cashCents <= 0 {
		return 0
	}
	return cashCents / priceCents
}

func pctChange(from, to int64) float64 {
	if from <= 0 {
		return 0
	}
	return float64(to-from) / float64(from) * 100
}

func notionalCents(priceCents, qty int64) (int64, error) {
	v := new(big.Int).Mul(big.NewInt(priceCents), big.NewInt(qty))
	if !v.IsInt64() {
		return 0, ErrOverflow
	}
	return v.Int64(), nil
}

// weightedAverage is (prevAvg*prevUnits + price*qty) / (prevUnits+qty),
// rounded half up to the cent.
func weightedAverage(prevAvg, prevUnits, priceCents, qty int64) (int64, error) {
	total := new(big.Int).Mul(big.NewInt(prevAvg), big.NewInt(prevUnits))
	total.Add(total, new(big.Int).Mul(big.NewInt(priceCents), big.NewInt(qty)))
	units := new(big.Int).Add(big.NewInt(prevUnits), big.NewInt(qty))
	total.Add(total, new(big.Int).Rsh(units, 1))
	total.Quo(total, units)
	if !total.IsInt64() {
		return 0, ErrOverflow
	}
	return total.Int64(), nil
}
