package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE SCHEMA IF NOT EXISTS journal;

CREATE TABLE IF NOT EXISTS journal.trades (
	trade_id       TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	player_id      TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	units          BIGINT NOT NULL,
	price_cents    BIGINT NOT NULL,
	notional_cents BIGINT NOT NULL,
	cash_cents     BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_session_idx ON journal.trades (session_id, created_at);

CREATE TABLE IF NOT EXISTS journal.net_worth (
	session_id      TEXT NOT NULL,
	player_id       TEXT NOT NULL,
	tick            BIGINT NOT NULL,
	cash_cents      BIGINT NOT NULL,
	net_worth_cents BIGINT NOT NULL,
	sampled_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS net_worth_session_idx ON journal.net_worth (session_id, sampled_at);
`

// Postgres appends journal rows through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a small pool, pings it and makes sure the journal tables
// exist.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	p := NewPostgres(pool)
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return p, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) RecordTrade(ctx context.Context, rec TradeRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO journal.trades
		    (trade_id, session_id, player_id, symbol, side, units, price_cents, notional_cents, cash_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (trade_id) DO NOTHING
	`, rec.TradeID, rec.SessionID, rec.PlayerID, rec.Symbol, rec.Side, rec.Units, rec.PriceCents, rec.NotionalCents, rec.CashCents, rec.At)
	return err
}

func (p *Postgres) RecordNetWorth(ctx context.Context, rec NetWorthRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO journal.net_worth (session_id, player_id, tick, cash_cents, net_worth_cents, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.SessionID, rec.PlayerID, rec.Tick, rec.CashCents, rec.NetWorthCents, rec.At)
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
