package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tycoon/internal/game"
)

type GameConfig struct {
	TickEvery     time.Duration `yaml:"tick_every"`
	StartingCash  float64       `yaml:"starting_cash"`
	SeriesWindow  int           `yaml:"series_window"`
	HistoryWindow int           `yaml:"history_window"`
	Drift         float64       `yaml:"drift"`
	Volatility    float64       `yaml:"volatility"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

type APIConfig struct {
	Addr        string        `yaml:"addr"`
	DatabaseURL string        `yaml:"database_url"`
	Game        GameConfig    `yaml:"game"`
	Sessions    SessionConfig `yaml:"sessions"`
	Catalog     []game.Asset  `yaml:"catalog"`
}

type CLIConfig struct {
	APIBaseURL string
}

func DefaultAPI() APIConfig {
	d := game.DefaultSettings()
	return APIConfig{
		Addr: ":8080",
		Game: GameConfig{
			TickEvery:     d.TickEvery,
			StartingCash:  game.CentsToDollars(d.StartingCashCents),
			SeriesWindow:  d.SeriesWindow,
			HistoryWindow: d.HistoryWindow,
			Drift:         d.Drift,
			Volatility:    d.Volatility,
		},
		Sessions: SessionConfig{
			IdleTTL:       30 * time.Minute,
			SweepSchedule: "@every 1m",
		},
	}
}

// LoadAPIFromEnv reads the optional YAML file named by TYCOON_CONFIG and
// then applies environment overrides.
func LoadAPIFromEnv() (APIConfig, error) {
	return LoadAPI(strings.TrimSpace(os.Getenv("TYCOON_CONFIG")))
}

func LoadAPI(path string) (APIConfig, error) {
	cfg := DefaultAPI()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	} else {
		cfg.Addr = envDefault("TYCOON_API_ADDR", cfg.Addr)
	}
	cfg.DatabaseURL = envDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.Game.TickEvery = envDurationDefault("TYCOON_TICK_EVERY", cfg.Game.TickEvery)
	cfg.Game.StartingCash = envFloatDefault("TYCOON_STARTING_CASH", cfg.Game.StartingCash)
	cfg.Game.SeriesWindow = envIntDefault("TYCOON_SERIES_WINDOW", cfg.Game.SeriesWindow)
	cfg.Game.HistoryWindow = envIntDefault("TYCOON_HISTORY_WINDOW", cfg.Game.HistoryWindow)
	cfg.Game.Drift = envFloatDefault("TYCOON_DRIFT", cfg.Game.Drift)
	cfg.Game.Volatility = envFloatDefault("TYCOON_VOLATILITY", cfg.Game.Volatility)
	cfg.Sessions.IdleTTL = envDurationDefault("TYCOON_SESSION_IDLE_TTL", cfg.Sessions.IdleTTL)
	cfg.Sessions.SweepSchedule = envDefault("TYCOON_SWEEP_SCHEDULE", cfg.Sessions.SweepSchedule)

	for i := range cfg.Catalog {
		cfg.Catalog[i].Symbol = game.NormalizeSymbol(cfg.Catalog[i].Symbol)
		cfg.Catalog[i].Name = strings.TrimSpace(cfg.Catalog[i].Name)
	}
	return cfg, cfg.Validate()
}

func (c APIConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Game.TickEvery < 0 {
		return fmt.Errorf("game.tick_every must not be negative")
	}
	if c.Game.StartingCash <= 0 {
		return fmt.Errorf("game.starting_cash must be positive")
	}
	if c.Game.SeriesWindow <= 0 {
		return fmt.Errorf("game.series_window must be positive")
	}
	if c.Game.HistoryWindow <= 0 {
		return fmt.Errorf("game.history_window must be positive")
	}
	if c.Game.Volatility < 0 {
		return fmt.Errorf("game.volatility must not be negative")
	}
	if c.Sessions.IdleTTL < 0 {
		return fmt.Errorf("sessions.idle_ttl must not be negative")
	}
	if c.Sessions.IdleTTL > 0 && c.Sessions.SweepSchedule == "" {
		return fmt.Errorf("sessions.sweep_schedule is required when idle_ttl is set")
	}
	if len(c.Catalog) > 0 {
		if err := game.ValidateCatalog(c.Catalog); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	return nil
}

// Settings converts the game section into engine settings.
func (c APIConfig) Settings() game.Settings {
	return game.Settings{
		StartingCashCents: game.DollarsToCents(c.Game.StartingCash),
		TickEvery:         c.Game.TickEvery,
		SeriesWindow:      c.Game.SeriesWindow,
		HistoryWindow:     c.Game.HistoryWindow,
		Drift:             c.Game.Drift,
		Volatility:        c.Game.Volatility,
	}
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TYCOON_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
