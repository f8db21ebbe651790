package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"tycoon/internal/journal"
)

type testJournal struct {
	mu     sync.Mutex
	trades []journal.TradeRecord
	worth  []journal.NetWorthRecord
	err    error
}

func (j *testJournal) RecordTrade(_ context.Context, rec journal.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, rec)
	return j.err
}

func (j *testJournal) RecordNetWorth(_ context.Context, rec journal.NetWorthRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.worth = append(j.worth, rec)
	return j.err
}

func (j *testJournal) Close() error { return nil }

func (j *testJournal) counts() (int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.trades), len(j.worth)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOptions(j journal.Journal) Options {
	n := 0
	var mu sync.Mutex
	return Options{
		Settings: Settings{StartingCashCents: 1_000_000},
		Rand:     rand.New(rand.NewSource(7)),
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return "id-" + strconv.Itoa(n)
		},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Journal: j,
	}
}

func newTestSession(t *testing.T, j journal.Journal) *Session {
	t.Helper()
	s, err := NewSession("sess-1", "  trader  ", testOptions(j))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// setPrice pins symbol to priceCents without touching any other asset.
func setPrice(t *testing.T, s *Session, symbol string, priceCents int64) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.market.entries[symbol]
	if !ok {
		t.Fatalf("unknown symbol %s", symbol)
	}
	next := Market{order: s.market.order, entries: make(map[string]MarketEntry, len(s.market.entries))}
	for k, v := range s.market.entries {
		next.entries[k] = v
	}
	e.PriceCents = priceCents
	e.Series = appendBounded(e.Series, PricePoint{Tick: s.tick, PriceCents: priceCents}, s.settings.SeriesWindow)
	next.entries[symbol] = e
	s.market = next
}

func TestSessionTradingScenario(t *testing.T) {
	j := &testJournal{}
	s := newTestSession(t, j)
	setPrice(t, s, "BTC", 100_000)

	res, err := s.Buy("btc", 5)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Fill.Status != FillFilled || res.Fill.CashCents != 500_000 {
		t.Fatalf("unexpected fill %+v", res.Fill)
	}
	led := s.LedgerSnapshot()
	if led.Holdings["BTC"] != 5 || led.AvgCost["BTC"] != 100_000 {
		t.Fatalf("after buy: %+v", led)
	}

	setPrice(t, s, "BTC", 120_000)
	if _, err := s.Sell("BTC", 2); err != nil {
		t.Fatalf("sell: %v", err)
	}
	led = s.LedgerSnapshot()
	if led.CashCents != 740_000 || led.Holdings["BTC"] != 3 || led.AvgCost["BTC"] != 100_000 {
		t.Fatalf("after partial sell: %+v", led)
	}

	res, err = s.Sell("BTC", 10)
	if err != nil {
		t.Fatalf("over-sell: %v", err)
	}
	if res.Fill.Units != 3 {
		t.Fatalf("over-sell sold %d units", res.Fill.Units)
	}
	led = s.LedgerSnapshot()
	if led.CashCents != 1_100_000 {
		t.Fatalf("cash = %d", led.CashCents)
	}
	if _, ok := led.Holdings["BTC"]; ok {
		t.Fatalf("BTC holding not removed")
	}
	if _, ok := led.AvgCost["BTC"]; ok {
		t.Fatalf("BTC avg cost not removed")
	}

	trades, _ := j.counts()
	if trades != 3 {
		t.Fatalf("journaled %d trades, want 3", trades)
	}
	if j.trades[0].SessionID != "sess-1" || j.trades[0].Side != "buy" || j.trades[0].TradeID == "" {
		t.Fatalf("unexpected trade record %+v", j.trades[0])
	}
}

func TestSessionRejectedOrderLeavesState(t *testing.T) {
	j := &testJournal{}
	s := newTestSession(t, j)
	setPrice(t, s, "ETH", 600_000)

	before := s.LedgerSnapshot()
	_, err := s.Buy("ETH", 2)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	after := s.LedgerSnapshot()
	if after.CashCents != before.CashCents || len(after.Holdings) != 0 {
		t.Fatalf("state changed: %+v", after)
	}
	if trades, _ := j.counts(); trades != 0 {
		t.Fatalf("rejected order was journaled")
	}
}

func TestSessionUnknownAsset(t *testing.T) {
	s := newTestSession(t, nil)
	if _, err := s.Buy("XRP", 1); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("buy: got %v", err)
	}
	if _, err := s.Sell("XRP", 1); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("sell: got %v", err)
	}
	if _, err := s.Coin("XRP"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("coin: got %v", err)
	}
	if _, err := s.MaxBuy("XRP"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("max: got %v", err)
	}
}

func TestSessionNoopOrder(t *testing.T) {
	s := newTestSession(t, nil)
	before := s.NetWorth()
	res, err := s.Buy("SOL", 0)
	if err != nil || res.Fill.Status != FillNoop || res.Fill.ID != "" {
		t.Fatalf("got %+v %v", res, err)
	}
	if s.NetWorth() != before {
		t.Fatalf("no-op changed net worth")
	}
}

func TestSessionStepGatedByActive(t *testing.T) {
	j := &testJournal{}
	s := newTestSession(t, j)
	before := s.MarketSnapshot()

	if s.Step() {
		t.Fatalf("paused session stepped")
	}
	after := s.MarketSnapshot()
	if after.Tick != 0 || after.Assets[0].PriceCents != before.Assets[0].PriceCents {
		t.Fatalf("paused market moved")
	}
	if len(s.NetWorthHistory()) != 0 {
		t.Fatalf("paused session recorded history")
	}

	s.SetActive(true)
	if got := len(s.NetWorthHistory()); got != 1 {
		t.Fatalf("activation recorded %d samples, want 1", got)
	}
	if !s.Step() || !s.Step() {
		t.Fatalf("active session did not step")
	}
	if tick := s.MarketSnapshot().Tick; tick != 2 {
		t.Fatalf("tick = %d", tick)
	}
	if _, worth := j.counts(); worth != 2 {
		t.Fatalf("journaled %d net worth samples, want 2", worth)
	}

	s.SetActive(false)
	if s.Step() {
		t.Fatalf("session stepped after pause")
	}
}

func TestSessionHistoryBounded(t *testing.T) {
	s := newTestSession(t, nil)
	s.SetActive(true)
	for i := 0; i < 400; i++ {
		s.Step()
	}
	hist := s.NetWorthHistory()
	if len(hist) != DefaultHistoryWindow {
		t.Fatalf("history has %d samples", len(hist))
	}
	for _, q := range s.MarketSnapshot().Assets {
		if len(q.Series) != DefaultSeriesWindow {
			t.Fatalf("%s series has %d samples", q.Symbol, len(q.Series))
		}
	}
	d := s.Dashboard()
	if d.PeakNetWorthCents < d.NetWorthCents {
		t.Fatalf("peak %d below current %d", d.PeakNetWorthCents, d.NetWorthCents)
	}
}

func TestSessionTimerTicks(t *testing.T) {
	opts := testOptions(nil)
	opts.Settings.TickEvery = 5 * time.Millisecond
	s, err := NewSession("timer", "trader", opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	feed, cancel := s.Subscribe(4)
	defer cancel()
	<-feed

	s.SetActive(true)
	select {
	case d := <-feed:
		if d.Tick < 1 {
			t.Fatalf("tick = %d", d.Tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timer never ticked")
	}
	s.SetActive(false)
}

func TestSessionSubscribe(t *testing.T) {
	s := newTestSession(t, nil)
	feed, cancel := s.Subscribe(8)

	first := <-feed
	if first.Tick != 0 || first.SessionID != "sess-1" || first.Player.DisplayName != "trader" {
		t.Fatalf("unexpected initial dashboard %+v", first)
	}

	s.SetActive(true)
	s.Step()
	if d := <-feed; d.Tick != 1 || !d.Active {
		t.Fatalf("unexpected tick dashboard %+v", d)
	}

	if _, streaming := s.idleSince(); !streaming {
		t.Fatalf("subscriber not counted")
	}
	cancel()
	cancel()
	if _, ok := <-feed; ok {
		t.Fatalf("feed still open after cancel")
	}
	if _, streaming := s.idleSince(); streaming {
		t.Fatalf("subscriber still counted after cancel")
	}
}

func TestSessionSlowSubscriberDoesNotBlock(t *testing.T) {
	s := newTestSession(t, nil)
	_, cancel := s.Subscribe(1)
	defer cancel()

	s.SetActive(true)
	for i := 0; i < 10; i++ {
		if !s.Step() {
			t.Fatalf("step %d blocked or refused", i)
		}
	}
}

func TestSessionReset(t *testing.T) {
	s := newTestSession(t, nil)
	firstPlayer := s.Dashboard().Player.ID
	setPrice(t, s, "BTC", 100_000)
	if _, err := s.Buy("BTC", 3); err != nil {
		t.Fatalf("buy: %v", err)
	}
	s.SetActive(true)
	s.Step()

	d, err := s.Reset()
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d.Active || d.Tick != 0 {
		t.Fatalf("reset left session running: %+v", d)
	}
	if d.CashCents != 1_000_000 || len(d.Positions) != 0 {
		t.Fatalf("reset ledger: %+v", d)
	}
	if d.Player.ID == firstPlayer || d.Player.DisplayName != "trader" {
		t.Fatalf("player after reset: %+v", d.Player)
	}
	if len(s.NetWorthHistory()) != 0 {
		t.Fatalf("history survived reset")
	}
	for _, q := range d.Market.Assets {
		if len(q.Series) != 1 {
			t.Fatalf("%s series not reseeded", q.Symbol)
		}
	}
}

func TestSessionCoinAndMaxBuy(t *testing.T) {
	s := newTestSession(t, nil)
	setPrice(t, s, "DOGE", 30_000)
	if _, err := s.Buy("DOGE", 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	setPrice(t, s, "DOGE", 33_000)

	c, err := s.Coin("doge")
	if err != nil {
		t.Fatalf("coin: %v", err)
	}
	if c.Units != 10 || c.AvgCostCents != 30_000 || c.ValueCents != 330_000 {
		t.Fatalf("unexpected coin view %+v", c)
	}
	if math.Abs(c.UnrealizedPct-10) > 1e-9 {
		t.Fatalf("unrealized pct = %v", c.UnrealizedPct)
	}
	units, err := s.MaxBuy("DOGE")
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if units != 700_000/33_000 || c.MaxBuyUnits != units {
		t.Fatalf("max = %d, coin max = %d", units, c.MaxBuyUnits)
	}
}

func TestSessionClosed(t *testing.T) {
	s := newTestSession(t, nil)
	feed, _ := s.Subscribe(2)
	<-feed
	s.Close()
	if _, ok := <-feed; ok {
		t.Fatalf("feed still open after close")
	}
	if _, err := s.Buy("BTC", 1); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("got %v", err)
	}
	s.SetActive(true)
	if s.Active() || s.Step() {
		t.Fatalf("closed session resumed")
	}
	late, _ := s.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("subscription to closed session delivered")
	}
	if _, err := s.Reset(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("reset after close: %v", err)
	}
	if s.Active() || s.Step() {
		t.Fatalf("reset revived a closed session")
	}
}

func TestSessionSellOverflowRejected(t *testing.T) {
	s := newTestSession(t, nil)
	setPrice(t, s, "DOGE", MinPriceCents)
	if _, err := s.Buy("DOGE", 1_000_000); err != nil {
		t.Fatalf("buy: %v", err)
	}
	setPrice(t, s, "DOGE", MaxPriceCents)
	before := s.LedgerSnapshot()

	res, err := s.Sell("DOGE", 1_000_000)
	if !errors.Is(err, ErrOverflow) || res.Fill.Status != FillRejected {
		t.Fatalf("got %+v %v", res, err)
	}
	after := s.LedgerSnapshot()
	if after.CashCents != before.CashCents || after.Holdings["DOGE"] != 1_000_000 {
		t.Fatalf("ledger changed: %+v", after)
	}
}

// checkDashboard fails if d mixes a ledger and a market from different
// moments: net worth and every position must agree with the quotes.
func checkDashboard(t *testing.T, d Dashboard) {
	t.Helper()
	quotes := make(map[string]int64, len(d.Market.Assets))
	for _, q := range d.Market.Assets {
		quotes[q.Symbol] = q.PriceCents
	}
	total := d.CashCents
	for _, p := range d.Positions {
		if quotes[p.Symbol] != p.PriceCents {
			t.Errorf("%s valued at %d, quoted at %d", p.Symbol, p.PriceCents, quotes[p.Symbol])
		}
		total += p.ValueCents
	}
	if total != d.NetWorthCents {
		t.Errorf("net worth %d, cash plus positions %d", d.NetWorthCents, total)
	}
}

// Run with -race: rejected orders read the ledger while ticks and fills
// replace it.
func TestSessionRejectedOrdersDuringTicks(t *testing.T) {
	s := newTestSession(t, nil)
	s.SetActive(true)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Step()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := s.Buy("ETH", 1); err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("buy: %v", err)
			}
			if _, err := s.Sell("ETH", 1); err != nil {
				t.Errorf("sell: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			res, err := s.Buy("BTC", math.MaxInt64/2)
			if err == nil || res.Fill.Status != FillRejected {
				t.Errorf("oversized buy went through: %+v", res)
			}
			if res.NetWorthCents <= 0 {
				t.Errorf("rejected order reported net worth %d", res.NetWorthCents)
			}
		}
	}()
	wg.Wait()
	if err := s.ledgerForTest().Check(); err != nil {
		t.Fatalf("ledger invariant: %v", err)
	}
}

// Run with -race: every public operation at once must leave the session
// consistent, with no torn dashboards and bounded series.
func TestSessionConcurrentOperations(t *testing.T) {
	s := newTestSession(t, nil)
	s.SetActive(true)
	symbols := s.MarketSnapshot().Assets

	var wg sync.WaitGroup
	worker := func(fn func(i int)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 150; i++ {
				fn(i)
			}
		}()
	}
	worker(func(int) { s.Step() })
	worker(func(int) { s.Step() })
	worker(func(i int) {
		sym := symbols[i%len(symbols)].Symbol
		if _, err := s.Buy(sym, int64(i%3+1)); err != nil && !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("buy %s: %v", sym, err)
		}
	})
	worker(func(i int) {
		sym := symbols[i%len(symbols)].Symbol
		if _, err := s.Sell(sym, 2); err != nil {
			t.Errorf("sell %s: %v", sym, err)
		}
	})
	worker(func(i int) {
		if i%25 == 0 {
			if _, err := s.Reset(); err != nil {
				t.Errorf("reset: %v", err)
			}
		}
		s.SetActive(i%10 != 0)
	})
	worker(func(int) {
		checkDashboard(t, s.Dashboard())
		_ = s.NetWorthHistory()
		_ = s.Positions()
	})
	wg.Wait()

	if err := s.ledgerForTest().Check(); err != nil {
		t.Fatalf("ledger invariant: %v", err)
	}
	checkDashboard(t, s.Dashboard())
	for _, q := range s.MarketSnapshot().Assets {
		if len(q.Series) == 0 || len(q.Series) > DefaultSeriesWindow {
			t.Fatalf("%s series length %d", q.Symbol, len(q.Series))
		}
	}
	if n := len(s.NetWorthHistory()); n > DefaultHistoryWindow {
		t.Fatalf("history length %d", n)
	}
}

func (s *Session) ledgerForTest() Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

func TestSessionJournalFailureIsNotFatal(t *testing.T) {
	j := &testJournal{err: errors.New("db down")}
	s := newTestSession(t, j)
	setPrice(t, s, "ADA", 1_000)
	if _, err := s.Buy("ADA", 1); err != nil {
		t.Fatalf("buy failed because of journal: %v", err)
	}
	s.SetActive(true)
	if !s.Step() {
		t.Fatalf("step failed because of journal")
	}
}

func TestNewSessionRejectsBadInput(t *testing.T) {
	if _, err := NewSession("x", "   ", Options{}); !errors.Is(err, ErrDisplayNameRequired) {
		t.Fatalf("got %v", err)
	}
	opts := Options{Catalog: []Asset{{Symbol: "BTC"}, {Symbol: "BTC"}}}
	if _, err := NewSession("x", "trader", opts); !errors.Is(err, ErrDuplicateAssetSymbol) {
		t.Fatalf("got %v", err)
	}
}
