package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/nan0silver/AIBitcoinTrading/internal/metrics"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

var (
	// ErrStaleUpdate means the update carried nothing newer than the
	// stored record. It is expected traffic, not a failure.
	ErrStaleUpdate = errors.New("stale update")

	// ErrDuplicateTrade is a pushed trade whose ID is already in the window.
	ErrDuplicateTrade = fmt.Errorf("%w: duplicate trade id", ErrStaleUpdate)

	ErrClosed         = errors.New("store closed")
	ErrUnknownDomain  = errors.New("unknown domain")
	ErrDomainMismatch = errors.New("record does not belong to domain")
)

// Publisher receives every committed entry. Publish is called while the
// domain's writer lock is held, so entries arrive in sequence order.
type Publisher interface {
	Publish(model.StateEntry)
}

// Config holds StateStore configuration.
type Config struct {
	TradeWindowSize int // Default: 50
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{TradeWindowSize: 50}
}

// DomainStats contains per-domain counters.
type DomainStats struct {
	Sequence uint64
	Applied  int64
	Rejected int64
	Stale    bool
}

// slot holds one domain. mu serializes writers; entry is read lock-free.
type slot struct {
	mu       sync.Mutex
	entry    atomic.Pointer[model.StateEntry]
	applied  atomic.Int64
	rejected atomic.Int64
}

// Store is the single source of truth for dashboard state.
type Store struct {
	cfg     Config
	pub     Publisher
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Fixed at construction; never written afterwards.
	slots map[model.Domain]*slot

	active atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for LastUpdated.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store covering every domain in model.Domains. pub may be nil.
func New(cfg Config, pub Publisher, opts ...Option) *Store {
	if cfg.TradeWindowSize < 1 {
		cfg.TradeWindowSize = DefaultConfig().TradeWindowSize
	}

	s := &Store{
		cfg:    cfg,
		pub:    pub,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
		slots:  make(map[model.Domain]*slot, len(model.Domains)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")

	for _, d := range model.Domains {
		s.slots[d] = &slot{}
	}
	s.active.Store(true)
	return s
}

// Apply commits rec to domain if it is newer than the stored state.
//
// Snapshot records replace the stored record when their origin time is
// strictly later. Trade events and polled trade windows are merged by
// trade ID instead. On commit the sequence is incremented, the stale flag
// cleared, and the new entry published. Rejections return ErrStaleUpdate
// (possibly wrapped) together with the unchanged entry.
func (s *Store) Apply(domain model.Domain, rec model.Record, source model.Source) (model.StateEntry, error) {
	sl, err := s.writable(domain)
	if err != nil {
		return model.StateEntry{}, err
	}
	if rec == nil || rec.Domain() != domain {
		return model.StateEntry{}, fmt.Errorf("%w: %s", ErrDomainMismatch, domain)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	// Re-check under the lock so nothing commits after Close returns.
	if !s.active.Load() {
		return model.StateEntry{}, ErrClosed
	}

	cur := sl.current(domain)
	next, err := s.combine(cur.Record, rec)
	if err != nil {
		sl.rejected.Add(1)
		s.metrics.Rejected(string(domain), source.String(), rejectReason(err))
		s.logger.Debug("update rejected",
			"domain", domain,
			"source", source,
			"origin", rec.OriginTime(),
			"reason", err,
		)
		return cur, err
	}

	entry := model.StateEntry{
		Domain:      domain,
		Record:      next,
		LastUpdated: s.clock.Now(),
		Source:      source,
		Sequence:    cur.Sequence + 1,
		Stale:       false,
	}
	s.commit(sl, entry)
	sl.applied.Add(1)
	s.metrics.Applied(string(domain), source.String(), entry.Sequence)
	if cur.Stale {
		s.metrics.SetStale(string(domain), false)
	}
	return entry, nil
}

// MarkStale flags domain as stale without touching its record. The
// change is published with a new sequence; marking an already stale
// domain is a no-op.
func (s *Store) MarkStale(domain model.Domain) error {
	return s.setStale(domain, true)
}

// ClearStale removes the stale flag, e.g. after a poll succeeds with an
// unchanged payload.
func (s *Store) ClearStale(domain model.Domain) error {
	return s.setStale(domain, false)
}

func (s *Store) setStale(domain model.Domain, stale bool) error {
	sl, err := s.writable(domain)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !s.active.Load() {
		return ErrClosed
	}

	cur := sl.current(domain)
	if cur.Stale == stale {
		return nil
	}

	entry := cur
	entry.Stale = stale
	entry.Sequence = cur.Sequence + 1
	s.commit(sl, entry)
	s.metrics.SetStale(string(domain), stale)

	if stale {
		s.logger.Warn("domain marked stale", "domain", domain, "last_updated", cur.LastUpdated)
	} else {
		s.logger.Info("domain fresh again", "domain", domain)
	}
	return nil
}

// Snapshot returns the current entry for domain. ok is false when the
// domain is unknown or nothing has been published for it yet.
func (s *Store) Snapshot(domain model.Domain) (model.StateEntry, bool) {
	sl, known := s.slots[domain]
	if !known {
		return model.StateEntry{}, false
	}
	p := sl.entry.Load()
	if p == nil {
		return model.StateEntry{Domain: domain}, false
	}
	return *p, true
}

// SnapshotAll returns the entries of every domain that has one, in
// model.Domains order.
func (s *Store) SnapshotAll() []model.StateEntry {
	entries := make([]model.StateEntry, 0, len(model.Domains))
	for _, d := range model.Domains {
		if e, ok := s.Snapshot(d); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// Stats returns per-domain counters.
func (s *Store) Stats() map[model.Domain]DomainStats {
	out := make(map[model.Domain]DomainStats, len(s.slots))
	for d, sl := range s.slots {
		st := DomainStats{
			Applied:  sl.applied.Load(),
			Rejected: sl.rejected.Load(),
		}
		if p := sl.entry.Load(); p != nil {
			st.Sequence = p.Sequence
			st.Stale = p.Stale
		}
		out[d] = st
	}
	return out
}

// Close rejects all further writes. Entries remain readable. Writers
// already inside Apply finish before Close returns.
func (s *Store) Close() {
	s.active.Store(false)
	for _, sl := range s.slots {
		sl.mu.Lock()
		sl.mu.Unlock()
	}
}

func (s *Store) writable(domain model.Domain) (*slot, error) {
	if !s.active.Load() {
		return nil, ErrClosed
	}
	sl, ok := s.slots[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	return sl, nil
}

// commit swaps the entry in and publishes it. Must hold sl.mu.
func (s *Store) commit(sl *slot, entry model.StateEntry) {
	sl.entry.Store(&entry)
	if s.pub != nil {
		s.pub.Publish(entry)
	}
}

// current returns the stored entry or an empty one. Must hold sl.mu.
func (sl *slot) current(domain model.Domain) model.StateEntry {
	if p := sl.entry.Load(); p != nil {
		return *p
	}
	return model.StateEntry{Domain: domain}
}

// combine builds the record to commit from the stored record and an
// incoming one, or explains why nothing should change.
func (s *Store) combine(cur, rec model.Record) (model.Record, error) {
	switch r := rec.(type) {
	case model.TradeEvent:
		return mergeTrade(windowOf(cur), r, s.cfg.TradeWindowSize)
	case model.TradeWindow:
		return mergeWindow(cur, r, s.cfg.TradeWindowSize)
	}

	if rec.Kind() != model.KindSnapshot {
		return nil, fmt.Errorf("unsupported update kind for %s", rec.Domain())
	}
	if cur != nil && !rec.OriginTime().After(cur.OriginTime()) {
		return nil, ErrStaleUpdate
	}
	if c, ok := rec.(model.Completer); ok && cur != nil {
		return c.Complete(cur), nil
	}
	return rec, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateTrade):
		return "duplicate"
	case errors.Is(err, ErrStaleUpdate):
		return "stale"
	default:
		return "invalid"
	}
}
