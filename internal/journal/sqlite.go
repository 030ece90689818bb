package journal

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteSink writes the journal to a SQLite database. Timestamps are
// stored as unix microseconds and decimals as text.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink wraps an open database. The sink owns db from here on.
func NewSQLiteSink(db *sql.DB) *SQLiteSink {
	return &SQLiteSink{db: db}
}

func (s *SQLiteSink) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_ticks (
			ts_us      INTEGER PRIMARY KEY,
			price      TEXT NOT NULL,
			change_24h TEXT,
			volume_24h TEXT,
			source     TEXT NOT NULL,
			sequence   INTEGER NOT NULL,
			session_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_events (
			trade_id   INTEGER PRIMARY KEY,
			ts_us      INTEGER NOT NULL,
			decision   TEXT NOT NULL,
			percentage TEXT NOT NULL,
			btc_price  TEXT NOT NULL,
			reason     TEXT NOT NULL,
			source     TEXT NOT NULL,
			session_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_ts ON trade_events(ts_us)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteSink) InsertTicks(ctx context.Context, rows []TickRow) (int, error) {
	return s.insert(ctx, `INSERT OR IGNORE INTO market_ticks
		(ts_us, price, change_24h, volume_24h, source, sequence, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, len(rows), func(stmt *sql.Stmt, i int) (sql.Result, error) {
		r := rows[i]
		return stmt.ExecContext(ctx, r.Time.UnixMicro(), r.Price.String(),
			r.Change24h, r.Volume24h, r.Source, int64(r.Sequence), r.SessionID)
	})
}

func (s *SQLiteSink) InsertTrades(ctx context.Context, rows []TradeRow) (int, error) {
	return s.insert(ctx, `INSERT OR IGNORE INTO trade_events
		(trade_id, ts_us, decision, percentage, btc_price, reason, source, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, len(rows), func(stmt *sql.Stmt, i int) (sql.Result, error) {
		r := rows[i]
		return stmt.ExecContext(ctx, r.TradeID, r.Time.UnixMicro(), r.Decision,
			r.Percentage.String(), r.BTCPrice.String(), r.Reason, r.Source, r.SessionID)
	})
}

// insert runs n executions of query in one transaction.
func (s *SQLiteSink) insert(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) (sql.Result, error)) (conflicts int, err error) {
	if n == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		res, err := exec(stmt, i)
		if err != nil {
			return 0, err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			conflicts++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return conflicts, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
