package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TimescaleSink writes the journal to TimescaleDB hypertables.
type TimescaleSink struct {
	db *pgxpool.Pool
}

// NewTimescaleSink wraps a pool. The sink owns the pool from here on.
func NewTimescaleSink(db *pgxpool.Pool) *TimescaleSink {
	return &TimescaleSink{db: db}
}

func (s *TimescaleSink) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_ticks (
			ts         TIMESTAMPTZ NOT NULL,
			price      NUMERIC NOT NULL,
			change_24h NUMERIC,
			volume_24h NUMERIC,
			source     TEXT NOT NULL,
			sequence   BIGINT NOT NULL,
			session_id TEXT NOT NULL,
			PRIMARY KEY (ts)
		)`,
		`SELECT create_hypertable('market_ticks', 'ts', if_not_exists => TRUE)`,
		`CREATE TABLE IF NOT EXISTS trade_events (
			trade_id   BIGINT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL,
			decision   TEXT NOT NULL,
			percentage NUMERIC NOT NULL,
			btc_price  NUMERIC NOT NULL,
			reason     TEXT NOT NULL,
			source     TEXT NOT NULL,
			session_id TEXT NOT NULL,
			PRIMARY KEY (trade_id, ts)
		)`,
		`SELECT create_hypertable('trade_events', 'ts', if_not_exists => TRUE)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// InsertTicks inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *TimescaleSink) InsertTicks(ctx context.Context, rows []TickRow) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO market_ticks (ts, price, change_24h, volume_24h, source, sequence, session_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (ts) DO NOTHING
		`, r.Time, r.Price, r.Change24h, r.Volume24h, r.Source, int64(r.Sequence), r.SessionID)
	}
	return s.send(ctx, batch)
}

// InsertTrades inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *TimescaleSink) InsertTrades(ctx context.Context, rows []TradeRow) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO trade_events (trade_id, ts, decision, percentage, btc_price, reason, source, session_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (trade_id, ts) DO NOTHING
		`, r.TradeID, r.Time, r.Decision, r.Percentage, r.BTCPrice, r.Reason, r.Source, r.SessionID)
	}
	return s.send(ctx, batch)
}

func (s *TimescaleSink) send(ctx context.Context, batch *pgx.Batch) (conflicts int, err error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

func (s *TimescaleSink) Close() error {
	s.db.Close()
	return nil
}
