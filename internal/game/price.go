package game

import "math"

// RandSource is the subset of *math/rand.Rand the market draws from.
type RandSource interface {
	Float64() float64
	Int63n(n int64) int64
}

// NextPrice applies one bounded random-walk step to prevCents:
// shock is uniform in [-volatility, volatility) and the step factor is
// 1 + drift + shock. The result never drops below MinPriceCents.
func NextPrice(r RandSource, prevCents int64, drift, volatility float64) int64 {
	shock := (r.Float64()*2 - 1) * volatility
	step := 1 + drift + shock
	next := math.Round(float64(prevCents) * step)
	if next >= float64(MaxPriceCents) {
		return MaxPriceCents
	}
	if next < float64(MinPriceCents) {
		return MinPriceCents
	}
	return int64(next)
}

// InitialPrice draws a starting price uniformly from [100.00, 1100.00).
func InitialPrice(r RandSource) int64 {
	return MinInitialPriceCents + r.Int63n(InitialPriceSpanCents)
}
