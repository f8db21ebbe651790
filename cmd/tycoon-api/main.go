package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tycoon/internal/api"
	"tycoon/internal/config"
	"tycoon/internal/game"
	"tycoon/internal/journal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var jr journal.Journal = journal.Nop{}
	if cfg.DatabaseURL != "" {
		pg, err := journal.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("journal connect failed", "err", err)
			os.Exit(1)
		}
		jr = pg
		logger.Info("trade journal enabled")
	}
	defer jr.Close()

	sessions := game.NewRegistry(game.Options{
		Settings: cfg.Settings(),
		Catalog:  cfg.Catalog,
		Logger:   logger,
		Journal:  jr,
	}, cfg.Sessions.IdleTTL)
	defer sessions.Close()

	if cfg.Sessions.IdleTTL > 0 {
		if err := sessions.StartSweeper(cfg.Sessions.SweepSchedule); err != nil {
			logger.Error("session sweeper failed", "err", err)
			os.Exit(1)
		}
	}

	server := api.New(logger, sessions)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("tycoon api listening",
		"addr", cfg.Addr,
		"tick_every", cfg.Game.TickEvery.String(),
		"idle_ttl", cfg.Sessions.IdleTTL.String(),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
