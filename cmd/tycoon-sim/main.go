package main

import (
	"context"
	"log/slog"
	mathrand "math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tycoon/internal/config"
	"tycoon/internal/game"
	"tycoon/internal/journal"
)

// tycoon-sim replays a seeded market headlessly: it spreads the starting
// cash evenly across the catalog, holds for TYCOON_SIM_TICKS ticks and
// logs how the portfolio ended up.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ticks := envInt64("TYCOON_SIM_TICKS", 500)
	seed := envInt64("TYCOON_SIM_SEED", time.Now().UnixNano())

	var jr journal.Journal = journal.Nop{}
	if cfg.DatabaseURL != "" {
		pg, err := journal.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("journal connect failed", "err", err)
			os.Exit(1)
		}
		jr = pg
	}
	defer jr.Close()

	settings := cfg.Settings()
	settings.TickEvery = 0
	sess, err := game.NewSession("sim-"+strconv.FormatInt(seed, 10), "simulator", game.Options{
		Settings: settings,
		Catalog:  cfg.Catalog,
		Rand:     mathrand.New(mathrand.NewSource(seed)),
		Logger:   logger,
		Journal:  jr,
	})
	if err != nil {
		logger.Error("session init failed", "err", err)
		os.Exit(1)
	}
	defer sess.Close()

	start := sess.Dashboard()
	budget := start.CashCents / int64(max(len(start.Market.Assets), 1))
	for _, q := range start.Market.Assets {
		units := game.MaxAffordable(budget, q.PriceCents)
		if _, err := sess.Buy(q.Symbol, units); err != nil {
			logger.Error("initial buy failed", "symbol", q.Symbol, "err", err)
			os.Exit(1)
		}
	}

	logger.Info("simulation started", "seed", seed, "ticks", ticks, "volatility", settings.Volatility)
	sess.SetActive(true)
	for i := int64(0); i < ticks; i++ {
		select {
		case <-ctx.Done():
			logger.Info("simulation interrupted", "tick", i)
			return
		default:
		}
		sess.Step()
	}
	sess.SetActive(false)

	end := sess.Dashboard()
	for _, p := range end.Positions {
		logger.Info("position",
			"symbol", p.Symbol,
			"units", p.Units,
			"avg_cost", game.FormatCents(p.AvgCostCents),
			"price", game.FormatCents(p.PriceCents),
			"unrealized_pct", strconv.FormatFloat(p.UnrealizedPct, 'f', 2, 64),
		)
	}
	logger.Info("simulation complete",
		"seed", seed,
		"tick", end.Tick,
		"cash", game.FormatCents(end.CashCents),
		"net_worth", game.FormatCents(end.NetWorthCents),
		"peak_net_worth", game.FormatCents(end.PeakNetWorthCents),
		"return_pct", strconv.FormatFloat(pct(end.StartingCashCents, end.NetWorthCents), 'f', 2, 64),
	)
}

func pct(from, to int64) float64 {
	if from == 0 {
		return 0
	}
	return float64(to-from) / float64(from) * 100
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
