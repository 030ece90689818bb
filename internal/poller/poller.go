package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nan0silver/AIBitcoinTrading/internal/adapter"
	"github.com/nan0silver/AIBitcoinTrading/internal/backoff"
	"github.com/nan0silver/AIBitcoinTrading/internal/metrics"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
	"github.com/nan0silver/AIBitcoinTrading/internal/store"
)

var (
	ErrAlreadyScheduled = errors.New("domain already scheduled")
	ErrNotScheduled     = errors.New("domain not scheduled")
	ErrStopped          = errors.New("scheduler stopped")
)

// FetchFunc retrieves the raw payload of one domain.
type FetchFunc func(ctx context.Context) ([]byte, error)

// NormalizeFunc turns a raw payload into a record. fetchedAt is the time
// the request was issued.
type NormalizeFunc func(domain model.Domain, raw []byte, fetchedAt time.Time) (model.Record, error)

// Store is the subset of the state store the scheduler writes to.
type Store interface {
	Apply(domain model.Domain, rec model.Record, source model.Source) (model.StateEntry, error)
	MarkStale(domain model.Domain) error
	ClearStale(domain model.Domain) error
}

// Config holds scheduler configuration.
type Config struct {
	MaxBackoff     time.Duration // Cap on the failure delay (default: 5m)
	Jitter         float64       // Random extra delay as a fraction of the delay (default: 0.1)
	StaleThreshold int           // Consecutive failures before MarkStale (default: 3)
	Timeout        time.Duration // Per-fetch timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBackoff:     5 * time.Minute,
		Jitter:         0.1,
		StaleThreshold: 3,
		Timeout:        10 * time.Second,
	}
}

// TaskStats contains per-domain counters.
type TaskStats struct {
	Interval            time.Duration
	Polls               int64
	Failures            int64
	ConsecutiveFailures int64
	Coalesced           int64
	LastSuccess         time.Time
	LastError           string
}

// Scheduler runs one poll task per domain.
type Scheduler struct {
	cfg       Config
	store     Store
	normalize NormalizeFunc
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	tasks   map[model.Domain]*task
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	active atomic.Bool
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock driving the task timers.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithNormalizer replaces adapter.Normalize.
func WithNormalizer(fn NormalizeFunc) Option {
	return func(s *Scheduler) { s.normalize = fn }
}

// New creates a Scheduler writing to st.
func New(cfg Config, st Store, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.StaleThreshold < 1 {
		cfg.StaleThreshold = def.StaleThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	s := &Scheduler{
		cfg:       cfg,
		store:     st,
		normalize: adapter.Normalize,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		tasks:     make(map[model.Domain]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "poller")
	return s
}

// Schedule registers a task polling domain every interval. Tasks
// scheduled after Start begin immediately.
func (s *Scheduler) Schedule(domain model.Domain, interval time.Duration, fetch FetchFunc) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", domain)
	}
	if fetch == nil {
		return fmt.Errorf("schedule %s: nil fetch func", domain)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.tasks[domain]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, domain)
	}

	t := &task{
		s:        s,
		domain:   domain,
		interval: interval,
		fetch:    fetch,
		trigger:  make(chan struct{}, 1),
		done:     make(chan error, 1),
		logger:   s.logger.With("domain", domain),
	}
	s.tasks[domain] = t

	if s.started {
		s.launch(t)
	}
	return nil
}

// Start launches every scheduled task. Each task polls once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.active.Store(true)

	for _, t := range s.tasks {
		s.launch(t)
	}

	s.logger.Info("poll scheduler started",
		"tasks", len(s.tasks),
		"max_backoff", s.cfg.MaxBackoff,
		"stale_threshold", s.cfg.StaleThreshold,
	)
	return nil
}

// Trigger requests an immediate poll of domain. If a fetch is already in
// flight or a trigger is pending the request is coalesced.
func (s *Scheduler) Trigger(domain model.Domain) error {
	s.mu.Lock()
	t, ok := s.tasks[domain]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotScheduled, domain)
	}

	select {
	case t.trigger <- struct{}{}:
	default:
		t.coalesced()
	}
	return nil
}

// Invalidate requests a poll of domain whose fetch starts after this call.
// Unlike Trigger it is not lost to a fetch already in flight: that fetch
// may have used outdated parameters, so another one follows it.
func (s *Scheduler) Invalidate(domain model.Domain) error {
	s.mu.Lock()
	t, ok := s.tasks[domain]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotScheduled, domain)
	}

	t.dirty.Store(true)
	select {
	case t.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Stop cancels every task and waits for them to exit. Results that
// arrive after Stop begins are discarded.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.active.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("poll scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns per-domain counters.
func (s *Scheduler) Stats() map[model.Domain]TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[model.Domain]TaskStats, len(s.tasks))
	for d, t := range s.tasks {
		out[d] = t.stats()
	}
	return out
}

// launch starts a task goroutine. Must hold s.mu.
func (s *Scheduler) launch(t *task) {
	s.wg.Add(1)
	go t.run(s.ctx)
}

// task polls one domain.
type task struct {
	s        *Scheduler
	domain   model.Domain
	interval time.Duration
	fetch    FetchFunc
	logger   *slog.Logger

	trigger  chan struct{}
	done     chan error // capacity 1; at most one fetch is in flight
	inFlight atomic.Bool
	dirty    atomic.Bool // a fetch must start after the current one

	polls        atomic.Int64
	failures     atomic.Int64
	consecutive  atomic.Int64
	coalescedCnt atomic.Int64
	lastSuccess  atomic.Int64 // unix nanos
	lastErr      atomic.Pointer[string]
}

// run is the task loop. The timer is armed when a result arrives, so the
// next tick is measured from the end of the previous fetch.
func (t *task) run(ctx context.Context) {
	defer t.s.wg.Done()

	var (
		timer clockwork.Timer
		tick  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	t.start(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			t.start(ctx)
		case <-t.trigger:
			t.start(ctx)
		case err := <-t.done:
			t.inFlight.Store(false)
			t.finish(err)

			if t.dirty.Load() {
				t.start(ctx)
				continue
			}

			d := t.nextDelay()
			if timer == nil {
				timer = t.s.clock.NewTimer(d)
				tick = timer.Chan()
			} else {
				resetTimer(timer, d)
			}
		}
	}
}

// start begins a fetch unless one is already in flight.
func (t *task) start(ctx context.Context) {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.coalesced()
		return
	}
	t.dirty.Store(false)

	t.s.wg.Add(1)
	go func() {
		defer t.s.wg.Done()
		t.done <- t.poll(ctx)
	}()
}

// poll fetches, normalizes, and applies one payload.
func (t *task) poll(ctx context.Context) error {
	fetchedAt := t.s.clock.Now()
	started := time.Now()

	fctx, cancel := context.WithTimeout(ctx, t.s.cfg.Timeout)
	defer cancel()

	raw, err := t.fetch(fctx)
	if err != nil {
		t.s.metrics.PollResult(string(t.domain), "error", time.Since(started))
		return fmt.Errorf("fetch: %w", err)
	}

	rec, err := t.s.normalize(t.domain, raw, fetchedAt)
	if err != nil {
		t.s.metrics.PollResult(string(t.domain), "malformed", time.Since(started))
		return err
	}
	t.s.metrics.PollResult(string(t.domain), "ok", time.Since(started))

	if ctx.Err() != nil || !t.s.active.Load() {
		return nil
	}

	entry, err := t.s.store.Apply(t.domain, rec, model.SourcePoll)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStaleUpdate):
		// Nothing new, but the backend answered.
		if entry.Stale {
			if err := t.s.store.ClearStale(t.domain); err != nil && !errors.Is(err, store.ErrClosed) {
				t.logger.Warn("failed to clear stale flag", "err", err)
			}
		}
	case errors.Is(err, store.ErrClosed):
	default:
		t.logger.Error("failed to apply poll", "err", err)
	}
	return nil
}

// finish records the outcome of a fetch. Runs on the task goroutine.
func (t *task) finish(err error) {
	t.polls.Add(1)

	if err == nil {
		if n := t.consecutive.Swap(0); n > 0 {
			t.logger.Info("poll recovered", "after_failures", n)
		}
		t.lastSuccess.Store(t.s.clock.Now().UnixNano())
		return
	}

	t.failures.Add(1)
	n := t.consecutive.Add(1)
	msg := err.Error()
	t.lastErr.Store(&msg)

	t.logger.Warn("poll failed",
		"err", err,
		"consecutive", n,
		"malformed", adapter.IsMalformed(err),
	)

	if n == int64(t.s.cfg.StaleThreshold) && t.s.active.Load() {
		if err := t.s.store.MarkStale(t.domain); err != nil && !errors.Is(err, store.ErrClosed) {
			t.logger.Warn("failed to mark stale", "err", err)
		}
	}
}

func (t *task) nextDelay() time.Duration {
	return backoff.Delay(t.interval, int(t.consecutive.Load()), t.s.cfg.MaxBackoff, t.s.cfg.Jitter)
}

func (t *task) coalesced() {
	t.coalescedCnt.Add(1)
	t.s.metrics.PollCoalesced(string(t.domain))
}

func (t *task) stats() TaskStats {
	st := TaskStats{
		Interval:            t.interval,
		Polls:               t.polls.Load(),
		Failures:            t.failures.Load(),
		ConsecutiveFailures: t.consecutive.Load(),
		Coalesced:           t.coalescedCnt.Load(),
	}
	if ns := t.lastSuccess.Load(); ns != 0 {
		st.LastSuccess = time.Unix(0, ns)
	}
	if p := t.lastErr.Load(); p != nil {
		st.LastError = *p
	}
	return st
}

// resetTimer re-arms timer, discarding a fire that was never received.
func resetTimer(timer clockwork.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
	timer.Reset(d)
}
