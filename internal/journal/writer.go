package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nan0silver/AIBitcoinTrading/internal/bus"
	"github.com/nan0silver/AIBitcoinTrading/internal/metrics"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// Subscriber is the part of a session the writer listens to.
type Subscriber interface {
	Subscribe(domain model.Domain, listener bus.Listener) (unsubscribe func(), err error)
}

// Config holds batch writer settings.
type Config struct {
	BatchSize     int           // Default: 500
	FlushInterval time.Duration // Default: 1s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Stats contains writer counters.
type Stats struct {
	Ticks     int64 // rows inserted
	Trades    int64
	Conflicts int64 // rows skipped as already journaled
	Flushes   int64
	Errors    int64
}

// Writer consumes committed market and trade entries and writes them to
// a Sink in batches.
type Writer struct {
	cfg       Config
	sink      Sink
	sessionID string
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// Input from the subscription bus
	input  *bus.Mailbox[model.StateEntry]
	unsubs []func()

	// Owned by the consume goroutine
	lastTick   time.Time
	seenTrades map[int64]struct{}

	// Batching
	batchMu sync.Mutex
	ticks   []TickRow
	trades  []TradeRow
	stats   Stats
	flushMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the clock driving periodic flushes.
func WithClock(c clockwork.Clock) Option {
	return func(w *Writer) { w.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// NewWriter creates a writer tagging rows with sessionID.
func NewWriter(cfg Config, sink Sink, sessionID string, opts ...Option) *Writer {
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if sink == nil {
		sink = NoopSink{}
	}

	w := &Writer{
		cfg:        cfg,
		sink:       sink,
		sessionID:  sessionID,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		input:      bus.NewMailbox[model.StateEntry](64),
		seenTrades: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "journal")
	return w
}

// Start subscribes to the market and trades domains and begins writing.
func (w *Writer) Start(ctx context.Context, sub Subscriber) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	for _, d := range []model.Domain{model.DomainMarket, model.DomainTrades} {
		unsub, err := sub.Subscribe(d, w.enqueue)
		if err != nil {
			w.unsubscribe()
			w.cancel()
			return err
		}
		w.unsubs = append(w.unsubs, unsub)
	}

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, writes everything already received, and returns
// once the final flush is done or ctx expires.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	w.unsubscribe()
	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	if err := w.flush(ctx); err != nil {
		return err
	}
	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) unsubscribe() {
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil
}

// enqueue runs on the bus delivery goroutine and never blocks.
func (w *Writer) enqueue(entry model.StateEntry) {
	w.input.Send(entry)
}

// consumeLoop turns entries into rows until the input is closed and drained.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		entry, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleEntry(entry)
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.Chan():
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) handleEntry(entry model.StateEntry) {
	var ticks []TickRow
	var trades []TradeRow

	switch rec := entry.Record.(type) {
	case model.MarketSnapshot:
		if row, ok := w.transformTick(entry, rec); ok {
			ticks = append(ticks, row)
		}
	case model.TradeWindow:
		trades = w.transformTrades(entry, rec)
	}
	if len(ticks) == 0 && len(trades) == 0 {
		return
	}

	w.batchMu.Lock()
	w.ticks = append(w.ticks, ticks...)
	w.trades = append(w.trades, trades...)
	shouldFlush := len(w.ticks)+len(w.trades) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transformTick skips entries whose snapshot was already journaled, such
// as stale-flag changes.
func (w *Writer) transformTick(entry model.StateEntry, m model.MarketSnapshot) (TickRow, bool) {
	if !m.Timestamp.After(w.lastTick) {
		return TickRow{}, false
	}
	w.lastTick = m.Timestamp

	return TickRow{
		Time:      m.Timestamp,
		Price:     m.Price,
		Change24h: m.Change24h,
		Volume24h: m.Volume24h,
		Source:    entry.Source.String(),
		Sequence:  entry.Sequence,
		SessionID: w.sessionID,
	}, true
}

// transformTrades returns the trades not present in the previous window.
func (w *Writer) transformTrades(entry model.StateEntry, win model.TradeWindow) []TradeRow {
	var rows []TradeRow
	seen := make(map[int64]struct{}, len(win.Trades))
	for _, t := range win.Trades {
		seen[t.ID] = struct{}{}
		if _, ok := w.seenTrades[t.ID]; ok {
			continue
		}
		rows = append(rows, TradeRow{
			TradeID:    t.ID,
			Time:       t.Timestamp,
			Decision:   t.Decision,
			Percentage: t.Percentage,
			BTCPrice:   t.BTCPrice,
			Reason:     t.Reason,
			Source:     entry.Source.String(),
			SessionID:  w.sessionID,
		})
	}
	w.seenTrades = seen
	return rows
}

// flush writes the current batch. A failed batch is dropped and counted.
func (w *Writer) flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	ticks, trades := w.ticks, w.trades
	w.ticks, w.trades = nil, nil
	w.batchMu.Unlock()

	if len(ticks) == 0 && len(trades) == 0 {
		return nil
	}

	start := time.Now()
	tickConflicts, tickErr := w.write(TableTicks, len(ticks), func() (int, error) {
		return w.sink.InsertTicks(ctx, ticks)
	})
	tradeConflicts, tradeErr := w.write(TableTrades, len(trades), func() (int, error) {
		return w.sink.InsertTrades(ctx, trades)
	})

	w.batchMu.Lock()
	w.stats.Flushes++
	if tickErr == nil {
		w.stats.Ticks += int64(len(ticks) - tickConflicts)
	}
	if tradeErr == nil {
		w.stats.Trades += int64(len(trades) - tradeConflicts)
	}
	w.stats.Conflicts += int64(tickConflicts + tradeConflicts)
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal",
		"ticks", len(ticks),
		"trades", len(trades),
		"conflicts", tickConflicts+tradeConflicts,
		"duration", time.Since(start),
	)
	return errors.Join(tickErr, tradeErr)
}

func (w *Writer) write(table string, n int, insert func() (int, error)) (int, error) {
	if n == 0 {
		return 0, nil
	}

	conflicts, err := insert()
	if err != nil {
		w.logger.Error("batch insert failed", "table", table, "error", err, "count", n)
		w.metrics.JournalRows(table, "error", n)
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return 0, err
	}

	w.metrics.JournalRows(table, "inserted", n-conflicts)
	w.metrics.JournalRows(table, "conflict", conflicts)
	return conflicts, nil
}
