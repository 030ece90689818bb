package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// Listener receives committed entries for one domain.
type Listener func(model.StateEntry)

// Config holds bus configuration.
type Config struct {
	MailboxSize int // initial per-subscriber capacity; grows on demand
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{MailboxSize: 16}
}

// Stats contains runtime statistics.
type Stats struct {
	Subscribers int
	Published   int64
	Delivered   int64
	Pending     int
	Panics      int64
}

// Bus fans committed entries out to per-domain subscribers.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[model.Domain]map[uint64]*subscriber
	nextID uint64
	closed bool

	wg sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	panics    atomic.Int64
}

type subscriber struct {
	id       uint64
	domain   model.Domain
	listener Listener
	mailbox  *Mailbox[model.StateEntry]

	mu     sync.Mutex
	active bool
	once   sync.Once
}

// New creates a bus.
func New(cfg Config, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MailboxSize < 1 {
		cfg.MailboxSize = DefaultConfig().MailboxSize
	}

	return &Bus{
		cfg:    cfg,
		logger: logger.With("component", "bus"),
		subs:   make(map[model.Domain]map[uint64]*subscriber),
	}
}

// Subscribe registers listener for domain. The listener runs on a
// dedicated goroutine and sees entries in commit order. The returned
// function unsubscribes; it is idempotent and may be called from inside
// the listener. After it returns no further delivery starts.
func (b *Bus) Subscribe(domain model.Domain, listener Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	s := &subscriber{
		id:       b.nextID,
		domain:   domain,
		listener: listener,
		mailbox:  NewMailbox[model.StateEntry](b.cfg.MailboxSize),
		active:   true,
	}
	if b.subs[domain] == nil {
		b.subs[domain] = make(map[uint64]*subscriber)
	}
	b.subs[domain][s.id] = s

	b.wg.Add(1)
	go b.run(s)

	return func() { b.unsubscribe(s) }
}

// Publish queues entry for every subscriber of its domain. Callers must
// publish a domain's entries in sequence order.
func (b *Bus) Publish(entry model.StateEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subs[entry.Domain] {
		s.mailbox.Send(entry)
	}
}

// Close unsubscribes everyone and waits for delivery goroutines to exit.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	var all []*subscriber
	for _, byID := range b.subs {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		b.unsubscribe(s)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.logger.Warn("bus close timed out waiting for listeners")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Panics:    b.panics.Load(),
	}
	for _, byID := range b.subs {
		st.Subscribers += len(byID)
		for _, s := range byID {
			st.Pending += s.mailbox.Len()
		}
	}
	return st
}

func (b *Bus) unsubscribe(s *subscriber) {
	s.once.Do(func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()

		s.mailbox.Discard()

		b.mu.Lock()
		if byID := b.subs[s.domain]; byID != nil {
			delete(byID, s.id)
			if len(byID) == 0 {
				delete(b.subs, s.domain)
			}
		}
		b.mu.Unlock()
	})
}

// run is the delivery goroutine of one subscriber.
func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()

	for {
		entry, ok := s.mailbox.Receive()
		if !ok {
			return
		}
		b.deliver(s, entry)
	}
}

func (b *Bus) deliver(s *subscriber, entry model.StateEntry) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("listener panicked",
				"domain", s.domain,
				"sequence", entry.Sequence,
				"panic", r,
			)
		}
	}()

	s.listener(entry)
	b.delivered.Add(1)
}
