package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/nan0silver/AIBitcoinTrading/internal/adapter"
	"github.com/nan0silver/AIBitcoinTrading/internal/api"
	"github.com/nan0silver/AIBitcoinTrading/internal/bus"
	"github.com/nan0silver/AIBitcoinTrading/internal/connection"
	"github.com/nan0silver/AIBitcoinTrading/internal/metrics"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
	"github.com/nan0silver/AIBitcoinTrading/internal/poller"
	"github.com/nan0silver/AIBitcoinTrading/internal/store"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyStarted = errors.New("session already started")
	ErrStopped        = errors.New("session stopped")
	ErrUnknownDomain  = errors.New("unknown domain")
)

// Fetcher builds the fetch function polling one domain.
type Fetcher interface {
	Fetcher(domain model.Domain, p api.FetcherParams) (api.FetchFunc, error)
}

// Config holds session configuration.
type Config struct {
	// Intervals maps each polled domain to its nominal interval. Domains
	// absent from the map are not polled.
	Intervals       map[model.Domain]time.Duration
	TradeLimit      int
	ReflectionLimit int
	ChartInterval   model.ChartInterval
	ChartCount      int // 0 picks the interval's default

	// Streams lists the push channels to open.
	Streams []model.Channel

	Store       store.Config
	Bus         bus.Config
	Poller      poller.Config
	Connections connection.ManagerConfig
}

// DefaultIntervals are the polling cadences of the dashboard panels.
func DefaultIntervals() map[model.Domain]time.Duration {
	return map[model.Domain]time.Duration{
		model.DomainMarket:      10 * time.Second,
		model.DomainFearGreed:   5 * time.Minute,
		model.DomainPortfolio:   30 * time.Second,
		model.DomainTrades:      30 * time.Second,
		model.DomainIndicators:  time.Minute,
		model.DomainStatistics:  time.Minute,
		model.DomainReflections: 5 * time.Minute,
		model.DomainChart:       time.Minute,
	}
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Intervals:       DefaultIntervals(),
		TradeLimit:      50,
		ReflectionLimit: 5,
		ChartInterval:   model.DefaultChartInterval,
		Streams:         model.Channels,
		Store:           store.DefaultConfig(),
		Bus:             bus.DefaultConfig(),
		Poller:          poller.DefaultConfig(),
		Connections:     connection.DefaultManagerConfig(),
	}
}

// Session owns the state of one dashboard session.
type Session struct {
	id      uuid.UUID
	cfg     Config
	fetcher Fetcher
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	bus     *bus.Bus
	store   *store.Store
	poller  *poller.Scheduler
	streams *connection.Manager

	chartInterval atomic.Pointer[model.ChartInterval]

	mu        sync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time
	active    atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock shared by the store, scheduler, and streams.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New builds a session. Nothing runs until Start.
func New(cfg Config, fetcher Fetcher, opts ...Option) (*Session, error) {
	if fetcher == nil {
		return nil, errors.New("session: nil fetcher")
	}
	if cfg.ChartInterval == "" {
		cfg.ChartInterval = model.DefaultChartInterval
	}
	if _, err := model.ParseChartInterval(string(cfg.ChartInterval)); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	for d := range cfg.Intervals {
		if !d.Valid() {
			return nil, fmt.Errorf("session: %w: %q", ErrUnknownDomain, d)
		}
	}

	s := &Session{
		id:      uuid.New(),
		cfg:     cfg,
		fetcher: fetcher,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id.String())

	iv := cfg.ChartInterval
	s.chartInterval.Store(&iv)

	s.bus = bus.New(cfg.Bus, s.logger)
	s.store = store.New(cfg.Store, s.bus,
		store.WithClock(s.clock),
		store.WithLogger(s.logger),
		store.WithMetrics(s.metrics),
	)
	s.poller = poller.New(cfg.Poller, s.store,
		poller.WithClock(s.clock),
		poller.WithLogger(s.logger),
		poller.WithMetrics(s.metrics),
	)
	s.streams = connection.NewManager(cfg.Connections,
		connection.WithClock(s.clock),
		connection.WithLogger(s.logger),
		connection.WithMetrics(s.metrics),
		connection.WithOnReconnect(s.resync),
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Start schedules every configured domain and opens the streams.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	params := api.FetcherParams{
		TradeLimit:      s.cfg.TradeLimit,
		ReflectionLimit: s.cfg.ReflectionLimit,
		ChartInterval:   s.ChartInterval,
		ChartCount:      s.cfg.ChartCount,
	}
	for _, d := range model.Domains {
		interval, ok := s.cfg.Intervals[d]
		if !ok || interval <= 0 {
			continue
		}
		fetch, err := s.fetcher.Fetcher(d, params)
		if err != nil {
			return fmt.Errorf("fetcher %s: %w", d, err)
		}
		if err := s.poller.Schedule(d, interval, poller.FetchFunc(fetch)); err != nil {
			return fmt.Errorf("schedule %s: %w", d, err)
		}
	}

	s.active.Store(true)
	s.started = true
	s.startedAt = s.clock.Now()

	if err := s.poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	for _, ch := range s.cfg.Streams {
		if err := s.streams.Open(ch, s.onFrame); err != nil {
			return fmt.Errorf("open %s: %w", ch, err)
		}
	}

	s.logger.Info("session started",
		"polled_domains", len(s.cfg.Intervals),
		"streams", s.cfg.Streams,
		"chart_interval", s.cfg.ChartInterval,
	)
	return nil
}

// Stop tears the session down. After Stop returns no entry is committed
// or delivered.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.active.Store(false)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.poller.Stop(gctx) })
	g.Go(func() error { return s.streams.Stop(gctx) })
	err := g.Wait()

	s.store.Close()
	if berr := s.bus.Close(ctx); berr != nil && err == nil {
		err = berr
	}

	s.logger.Info("session stopped", "err", err)
	return err
}

// Snapshot returns the current entry for domain.
func (s *Session) Snapshot(domain model.Domain) (model.StateEntry, bool) {
	return s.store.Snapshot(domain)
}

// SnapshotAll returns every domain's current entry.
func (s *Session) SnapshotAll() []model.StateEntry {
	return s.store.SnapshotAll()
}

// Subscribe registers listener for domain's committed entries.
func (s *Session) Subscribe(domain model.Domain, listener bus.Listener) (unsubscribe func(), err error) {
	if !domain.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	if listener == nil {
		return nil, errors.New("session: nil listener")
	}
	return s.bus.Subscribe(domain, listener), nil
}

// ChartInterval returns the candle width currently polled.
func (s *Session) ChartInterval() model.ChartInterval {
	return *s.chartInterval.Load()
}

// SetChartInterval switches the chart domain to a new candle width and
// polls it right away.
func (s *Session) SetChartInterval(interval string) error {
	iv, err := model.ParseChartInterval(interval)
	if err != nil {
		return err
	}
	if prev := s.chartInterval.Swap(&iv); *prev == iv {
		return nil
	}
	s.logger.Info("chart interval changed", "interval", iv)

	if !s.active.Load() {
		return nil
	}
	if err := s.poller.Invalidate(model.DomainChart); err != nil && !errors.Is(err, poller.ErrNotScheduled) {
		return err
	}
	return nil
}

// Refresh polls domain immediately.
func (s *Session) Refresh(domain model.Domain) error {
	if !s.active.Load() {
		return ErrNotStarted
	}
	return s.poller.Trigger(domain)
}

// Streams returns per-channel connection stats.
func (s *Session) Streams() map[model.Channel]connection.ChannelStats {
	return s.streams.Stats()
}

// Polls returns per-domain poll stats.
func (s *Session) Polls() map[model.Domain]poller.TaskStats {
	return s.poller.Stats()
}

// StoreStats returns per-domain store counters.
func (s *Session) StoreStats() map[model.Domain]store.DomainStats {
	return s.store.Stats()
}

// BusStats returns subscription bus counters.
func (s *Session) BusStats() bus.Stats {
	return s.bus.Stats()
}

// onFrame normalizes one pushed frame and applies it.
func (s *Session) onFrame(channel model.Channel, msg connection.TimestampedMessage) {
	if !s.active.Load() {
		return
	}

	rec, err := adapter.NormalizeFrame(channel, msg.Data, msg.ReceivedAt)
	switch {
	case errors.Is(err, adapter.ErrIgnoredFrame):
		s.metrics.Frame(string(channel), "ignored")
		return
	case err != nil:
		s.metrics.Frame(string(channel), "malformed")
		s.logger.Warn("malformed frame", "channel", channel, "err", err)
		return
	}

	_, err = s.store.Apply(channel.Domain(), rec, model.SourcePush)
	switch {
	case err == nil:
		s.metrics.Frame(string(channel), "applied")
	case errors.Is(err, store.ErrStaleUpdate):
		s.metrics.Frame(string(channel), "stale")
	case errors.Is(err, store.ErrClosed):
	default:
		s.logger.Error("failed to apply frame", "channel", channel, "err", err)
	}
}

// resync polls a channel's domain after its stream reconnects, covering
// frames missed during the gap.
func (s *Session) resync(channel model.Channel) {
	if !s.active.Load() {
		return
	}
	d := channel.Domain()
	if err := s.poller.Trigger(d); err != nil && !errors.Is(err, poller.ErrNotScheduled) {
		s.logger.Warn("resync trigger failed", "channel", channel, "err", err)
		return
	}
	s.logger.Info("resync requested", "channel", channel, "domain", d)
}
