package game

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"slices"
	"sync"
	"time"

	"tycoon/internal/id"
	"tycoon/internal/journal"
)

const journalTimeout = 2 * time.Second

type Options struct {
	Settings Settings
	Catalog  []Asset
	Rand     RandSource
	Now      func() time.Time
	NewID    func() string
	Logger   *slog.Logger
	Journal  journal.Journal
}

func (o Options) withDefaults() Options {
	o.Settings = o.Settings.withDefaults()
	if len(o.Catalog) == 0 {
		o.Catalog = DefaultCatalog()
	}
	if o.Rand == nil {
		o.Rand = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = id.New
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Journal == nil {
		o.Journal = journal.Nop{}
	}
	return o
}

// Session is one player's game. It is the only owner of its ledger and
// market; every command and every tick runs under one lock, so callers
// always observe whole states.
type Session struct {
	handle   string
	settings Settings
	catalog  []Asset
	now      func() time.Time
	newID    func() string
	log      *slog.Logger
	journal  journal.Journal

	mu       sync.Mutex
	rand     RandSource
	player   Player
	ledger   Ledger
	market   Market
	history  History
	peak     int64
	tick     int64
	active   bool
	closed   bool
	stop     chan struct{}
	lastSeen time.Time
	subs     map[int]chan Dashboard
	nextSub  int
}

func NewSession(handle, displayName string, opts Options) (*Session, error) {
	name, err := ValidateDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := ValidateCatalog(opts.Catalog); err != nil {
		return nil, err
	}
	s := &Session{
		handle:   handle,
		settings: opts.Settings,
		catalog:  slices.Clone(opts.Catalog),
		now:      opts.Now,
		newID:    opts.NewID,
		log:      opts.Logger.With("session", handle),
		journal:  opts.Journal,
		rand:     opts.Rand,
		player:   Player{DisplayName: name},
		subs:     map[int]chan Dashboard{},
	}
	s.resetLocked()
	s.lastSeen = s.now()
	return s, nil
}

func (s *Session) Handle() string { return s.handle }

func (s *Session) resetLocked() {
	s.player.ID = s.newID()
	s.ledger = NewLedger(s.settings.StartingCashCents)
	s.market = NewMarket(s.catalog, s.rand)
	s.history = nil
	s.peak = s.settings.StartingCashCents
	s.tick = 0
}

func (s *Session) touchLocked() {
	s.lastSeen = s.now()
}

// Buy places a market buy at the current price. Unknown symbols fail with
// ErrUnknownAsset; unaffordable orders fail with ErrInsufficientFunds and
// leave the ledger as it was.
func (s *Session) Buy(symbol string, qty int64) (OrderResult, error) {
	return s.trade(SideBuy, symbol, qty)
}

// Sell places a market sell at the current price, clamped to the units held.
func (s *Session) Sell(symbol string, qty int64) (OrderResult, error) {
	return s.trade(SideSell, symbol, qty)
}

func (s *Session) trade(side Side, symbol string, qty int64) (OrderResult, error) {
	symbol = NormalizeSymbol(symbol)

	out, playerID, at, err := s.tradeLocked(side, symbol, qty)
	if err != nil {
		return out, err
	}

	fill := out.Fill
	if fill.Status == FillFilled {
		s.log.Info("order filled", "side", side, "symbol", symbol, "units", fill.Units, "price_cents", fill.PriceCents)
		s.recordTrade(journal.TradeRecord{
			TradeID:       fill.ID,
			SessionID:     s.handle,
			PlayerID:      playerID,
			Symbol:        symbol,
			Side:          string(side),
			Units:         fill.Units,
			PriceCents:    fill.PriceCents,
			NotionalCents: fill.NotionalCents,
			CashCents:     fill.CashCents,
			At:            at,
		})
	}
	return out, nil
}

// tradeLocked applies one order under the session lock. Every read of the
// ledger and market, including the net worth on a rejected order, happens
// before the lock is released.
func (s *Session) tradeLocked(side Side, symbol string, qty int64) (OrderResult, string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return OrderResult{}, "", time.Time{}, ErrSessionClosed
	}
	s.touchLocked()
	price, ok := s.market.Price(symbol)
	if !ok {
		return OrderResult{}, "", time.Time{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}

	var (
		next Ledger
		fill Fill
		err  error
	)
	switch side {
	case SideBuy:
		next, fill, err = s.ledger.Buy(symbol, qty, price)
	default:
		next, fill, err = s.ledger.Sell(symbol, qty, price)
	}
	if err != nil {
		return OrderResult{Fill: fill, NetWorthCents: ComputeNetWorth(s.ledger, s.market)}, "", time.Time{}, err
	}
	s.ledger = next
	if fill.Status == FillFilled {
		fill.ID = s.newID()
	}
	out := OrderResult{Fill: fill, NetWorthCents: ComputeNetWorth(s.ledger, s.market)}
	return out, s.player.ID, s.now(), nil
}

// Reset starts the game over: starting cash, no holdings, a fresh player
// id, a freshly seeded market and an empty history. The session is paused.
// A closed session stays closed and returns ErrSessionClosed.
func (s *Session) Reset() (Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Dashboard{}, ErrSessionClosed
	}
	s.touchLocked()
	s.stopLoopLocked()
	s.active = false
	s.resetLocked()
	s.publishLocked()
	return s.dashboardLocked(), nil
}

// SetActive opens or closes the market screen. While inactive the market
// does not move. Becoming active records a fresh net-worth sample and, when
// TickEvery > 0, starts the tick timer.
func (s *Session) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if s.closed || s.active == active {
		return
	}
	s.active = active
	if !active {
		s.stopLoopLocked()
		s.log.Info("market paused", "tick", s.tick)
		return
	}
	s.recordLocked(s.now(), ComputeNetWorth(s.ledger, s.market))
	if s.settings.TickEvery > 0 {
		stop := make(chan struct{})
		s.stop = stop
		go s.loop(stop, s.settings.TickEvery)
	}
	s.log.Info("market resumed", "tick", s.tick, "tick_every", s.settings.TickEvery.String())
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) loop(stop chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.step(stop)
		}
	}
}

func (s *Session) stopLoopLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Step advances the simulation by one tick if the session is active and
// reports whether it did.
func (s *Session) Step() bool {
	return s.step(nil)
}

// step with a non-nil owner only runs while that timer is still the
// session's current one, so a timer stopped mid-tick cannot fire late.
func (s *Session) step(owner chan struct{}) bool {
	s.mu.Lock()
	if !s.active || s.closed || (owner != nil && s.stop != owner) {
		s.mu.Unlock()
		return false
	}
	s.tick++
	s.market = s.market.Advance(s.tick, s.rand, s.settings)
	value := ComputeNetWorth(s.ledger, s.market)
	at := s.now()
	s.recordLocked(at, value)
	s.publishLocked()
	rec := journal.NetWorthRecord{
		SessionID:     s.handle,
		PlayerID:      s.player.ID,
		Tick:          s.tick,
		CashCents:     s.ledger.CashCents,
		NetWorthCents: value,
		At:            at,
	}
	s.mu.Unlock()

	s.recordNetWorth(rec)
	return true
}

func (s *Session) recordLocked(at time.Time, value int64) {
	s.history = RecordSample(s.history, at, value, s.settings.HistoryWindow)
	if value > s.peak {
		s.peak = value
	}
}

// Subscribe returns a feed receiving a dashboard after every tick. Slow
// readers miss ticks rather than stall the market. Call cancel to stop.
func (s *Session) Subscribe(buffer int) (<-chan Dashboard, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Dashboard, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	key := s.nextSub
	s.nextSub++
	s.subs[key] = ch
	ch <- s.dashboardLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[key]; ok {
				delete(s.subs, key)
				close(c)
			}
		})
	}
}

func (s *Session) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	d := s.dashboardLocked()
	for _, ch := range s.subs {
		select {
		case ch <- d:
		default:
		}
	}
}

// Close stops the timer and ends every subscription. Commands fail with
// ErrSessionClosed afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.active = false
	s.stopLoopLocked()
	for key, ch := range s.subs {
		delete(s.subs, key)
		close(ch)
	}
}

// idleSince reports when the session was last used, and whether anyone is
// still streaming it.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen, len(s.subs) > 0
}

func (s *Session) MarketSnapshot() MarketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.market.Snapshot(s.tick)
}

func (s *Session) LedgerSnapshot() LedgerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.ledger.Snapshot()
}

func (s *Session) NetWorthHistory() []NetWorthPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.history.Points()
}

func (s *Session) NetWorth() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ComputeNetWorth(s.ledger, s.market)
}

func (s *Session) Positions() []PositionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.ledger.Positions(s.market)
}

func (s *Session) Dashboard() Dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.dashboardLocked()
}

func (s *Session) dashboardLocked() Dashboard {
	d := Dashboard{
		SessionID:         s.handle,
		Player:            s.player,
		Tick:              s.tick,
		Active:            s.active,
		StartingCashCents: s.settings.StartingCashCents,
		CashCents:         s.ledger.CashCents,
		NetWorthCents:     ComputeNetWorth(s.ledger, s.market),
		PeakNetWorthCents: s.peak,
		Positions:         s.ledger.Positions(s.market),
		Market:            s.market.Snapshot(s.tick),
	}
	if last, ok := s.history.Last(); ok {
		d.LastNetWorthSample = &last
	}
	return d
}

// Coin is the detail view of one asset joined with the player's position.
func (s *Session) Coin(symbol string) (CoinView, error) {
	symbol = NormalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	e, ok := s.market.Entry(symbol)
	if !ok {
		return CoinView{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	changeAbs, changePct := e.Change()
	units := s.ledger.Holdings[symbol]
	avg := s.ledger.AvgCost[symbol]
	return CoinView{
		Quote: Quote{
			Symbol:      e.Symbol,
			Name:        e.Name,
			PriceCents:  e.PriceCents,
			ChangeCents: changeAbs,
			ChangePct:   changePct,
			Series:      slices.Clone(e.Series),
		},
		Units:         units,
		AvgCostCents:  avg,
		ValueCents:    units * e.PriceCents,
		UnrealizedPct: pctChange(avg, e.PriceCents),
		MaxBuyUnits:   MaxAffordable(s.ledger.CashCents, e.PriceCents),
	}, nil
}

// MaxBuy is the largest quantity the current cash can buy of symbol.
func (s *Session) MaxBuy(symbol string) (int64, error) {
	symbol = NormalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	price, ok := s.market.Price(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return MaxAffordable(s.ledger.CashCents, price), nil
}

func (s *Session) recordTrade(rec journal.TradeRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.RecordTrade(ctx, rec); err != nil {
		s.log.Warn("journal trade failed", "trade_id", rec.TradeID, "err", err)
	}
}

func (s *Session) recordNetWorth(rec journal.NetWorthRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.journal.RecordNetWorth(ctx, rec); err != nil {
		s.log.Warn("journal net worth failed", "tick", rec.Tick, "err", err)
	}
}
