package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nan0silver/AIBitcoinTrading/internal/config"
	"github.com/nan0silver/AIBitcoinTrading/internal/database"
)

// Table names, also used as metric labels.
const (
	TableTicks  = "market_ticks"
	TableTrades = "trade_events"
)

// TickRow is one committed market snapshot.
type TickRow struct {
	Time      time.Time
	Price     decimal.Decimal
	Change24h decimal.NullDecimal
	Volume24h decimal.NullDecimal
	Source    string
	Sequence  uint64
	SessionID string
}

// TradeRow is one trade event seen in the trade window.
type TradeRow struct {
	TradeID    int64
	Time       time.Time
	Decision   string
	Percentage decimal.Decimal
	BTCPrice   decimal.Decimal
	Reason     string
	Source     string
	SessionID  string
}

// Sink persists journal rows. Insert methods report how many rows were
// skipped because their key already existed.
type Sink interface {
	Migrate(ctx context.Context) error
	InsertTicks(ctx context.Context, rows []TickRow) (conflicts int, err error)
	InsertTrades(ctx context.Context, rows []TradeRow) (conflicts int, err error)
	Close() error
}

// NoopSink discards everything.
type NoopSink struct{}

func (NoopSink) Migrate(context.Context) error                        { return nil }
func (NoopSink) InsertTicks(context.Context, []TickRow) (int, error)   { return 0, nil }
func (NoopSink) InsertTrades(context.Context, []TradeRow) (int, error) { return 0, nil }
func (NoopSink) Close() error                                         { return nil }

// Open builds the sink selected by cfg.Driver and migrates its schema.
// appName labels database sessions.
func Open(ctx context.Context, cfg config.JournalConfig, appName string) (Sink, error) {
	var sink Sink
	switch cfg.Driver {
	case "", config.JournalNone:
		return NoopSink{}, nil
	case config.JournalSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		sink = NewSQLiteSink(db)
	case config.JournalTimescale:
		pool, err := database.Connect(ctx, cfg.Timescale, appName)
		if err != nil {
			return nil, fmt.Errorf("connect timescale: %w", err)
		}
		sink = NewTimescaleSink(pool)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}

	if err := sink.Migrate(ctx); err != nil {
		sink.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return sink, nil
}
