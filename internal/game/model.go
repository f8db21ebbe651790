package game

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	CentsPerDollar = int64(100)

	StartingCashCents = int64(10_000) * CentsPerDollar

	MinPriceCents = int64(1) // 0.01
	MaxPriceCents = int64(1_000_000_000_000) * CentsPerDollar

	MinInitialPriceCents  = int64(100) * CentsPerDollar
	InitialPriceSpanCents = int64(1_000) * CentsPerDollar

	DefaultDrift      = 0.0005
	DefaultVolatility = 0.012

	DefaultTickEvery     = 900 * time.Millisecond
	DefaultSeriesWindow  = 120
	DefaultHistoryWindow = 300

	maxDisplayNameLen = 32
)

var (
	ErrInvalidSymbol        = errors.New("symbol must be 2-6 uppercase letters")
	ErrUnknownAsset         = errors.New("asset not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOverflow             = errors.New("order notional overflow")
	ErrLedgerDrift          = errors.New("holdings and average cost out of lock-step")
	ErrNegativeCash         = errors.New("cash balance is negative")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionClosed        = errors.New("session closed")
	ErrDisplayNameRequired  = errors.New("display name is required")
	ErrDisplayNameTooLong   = errors.New("display name is too long")
	ErrEmptyCatalog         = errors.New("asset catalog is empty")
	ErrDuplicateAssetSymbol = errors.New("duplicate asset symbol")
)

var symbolRE = regexp.MustCompile(`^[A-Z]{2,6}$`)

// Asset is a tradable entry of the static catalog.
type Asset struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Name   string `json:"name" yaml:"name"`
}

// DefaultCatalog returns the five coins the game ships with.
func DefaultCatalog() []Asset {
	return []Asset{
		{Symbol: "BTC", Name: "Bitcoin"},
		{Symbol: "ETH", Name: "Ethereum"},
		{Symbol: "SOL", Name: "Solana"},
		{Symbol: "DOGE", Name: "Dogecoin"},
		{Symbol: "ADA", Name: "Cardano"},
	}
}

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func ValidateCatalog(catalog []Asset) error {
	if len(catalog) == 0 {
		return ErrEmptyCatalog
	}
	seen := make(map[string]struct{}, len(catalog))
	for _, a := range catalog {
		if err := ValidateSymbol(a.Symbol); err != nil {
			return fmt.Errorf("%w: %q", err, a.Symbol)
		}
		if _, ok := seen[a.Symbol]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAssetSymbol, a.Symbol)
		}
		seen[a.Symbol] = struct{}{}
	}
	return nil
}

func ValidateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrDisplayNameRequired
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}

// NormalizeQuantity floors a requested quantity to whole units. Anything
// that is not a finite positive number becomes 0, which every command
// treats as a no-op.
func NormalizeQuantity(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 1 {
		return 0
	}
	f := math.Floor(v)
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

func DollarsToCents(v float64) int64 {
	return int64(math.Round(v * float64(CentsPerDollar)))
}

func CentsToDollars(v int64) float64 {
	return float64(v) / float64(CentsPerDollar)
}

// FormatCents renders cents as a plain two-decimal amount, e.g. -1234.05.
func FormatCents(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/CentsPerDollar, v%CentsPerDollar)
}

// Settings are the tunables of one game session.
type Settings struct {
	StartingCashCents int64
	// TickEvery <= 0 disables the internal timer; callers drive Step.
	TickEvery     time.Duration
	SeriesWindow  int
	HistoryWindow int
	Drift         float64
	Volatility    float64
}

func DefaultSettings() Settings {
	return Settings{
		StartingCashCents: StartingCashCents,
		TickEvery:         DefaultTickEvery,
		SeriesWindow:      DefaultSeriesWindow,
		HistoryWindow:     DefaultHistoryWindow,
		Drift:             DefaultDrift,
		Volatility:        DefaultVolatility,
	}
}

func (s Settings) withDefaults() Settings {
	if s.StartingCashCents <= 0 {
		s.StartingCashCents = StartingCashCents
	}
	if s.SeriesWindow <= 0 {
		s.SeriesWindow = DefaultSeriesWindow
	}
	if s.HistoryWindow <= 0 {
		s.HistoryWindow = DefaultHistoryWindow
	}
	if s.Volatility < 0 {
		s.Volatility = DefaultVolatility
	}
	return s
}
