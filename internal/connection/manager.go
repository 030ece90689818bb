package connection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nan0silver/AIBitcoinTrading/internal/backoff"
	"github.com/nan0silver/AIBitcoinTrading/internal/metrics"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// Manager runs one reconnecting stream per channel.
type Manager struct {
	cfg         ManagerConfig
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
	newClient   ClientFactory
	onReconnect func(model.Channel)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[model.Channel]*channelState
	stopped  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for backoff waits.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClientFactory replaces NewClient.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) { m.newClient = f }
}

// WithOnReconnect registers a hook run after every successful handshake
// that follows a drop. Frames missed during the gap are not replayed; the
// hook is where callers resync.
func WithOnReconnect(fn func(model.Channel)) Option {
	return func(m *Manager) { m.onReconnect = fn }
}

// NewManager creates a ConnectionManager. Channels are opened with Open.
func NewManager(cfg ManagerConfig, opts ...Option) *Manager {
	def := DefaultManagerConfig()
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	m := &Manager{
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		newClient: NewClient,
		channels:  make(map[model.Channel]*channelState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connection")
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// URL returns the stream URL of channel.
func (m *Manager) URL(channel model.Channel) string {
	return strings.TrimRight(m.cfg.WSURL, "/") + "/ws/" + string(channel)
}

// Open starts the connection state machine for channel. onFrame runs on
// the channel's goroutine for every frame of the current connection.
func (m *Manager) Open(channel model.Channel, onFrame FrameHandler) error {
	if channel.Domain() == "" {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	if onFrame == nil {
		return fmt.Errorf("open %s: nil frame handler", channel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}
	if cs, ok := m.channels[channel]; ok && cs.status() != StatusClosed {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, channel)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	cs := &channelState{
		channel: channel,
		url:     m.URL(channel),
		onFrame: onFrame,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  m.logger.With("channel", channel),
	}
	cs.state.Status = StatusConnecting
	m.channels[channel] = cs

	m.wg.Add(1)
	go m.run(ctx, cs)
	return nil
}

// Close stops channel and releases its socket, including while waiting
// in backoff. It is idempotent and returns once the channel's goroutine
// has exited. Close must not be called from the channel's frame handler.
func (m *Manager) Close(channel model.Channel) error {
	m.mu.Lock()
	cs, ok := m.channels[channel]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	cs.shutdown()
	<-cs.done
	return nil
}

// ForceDisconnect drops the current connection of channel as if the
// server had closed it. The state machine reconnects as usual.
func (m *Manager) ForceDisconnect(channel model.Channel) error {
	m.mu.Lock()
	cs, ok := m.channels[channel]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	cs.mu.Lock()
	c := cs.client
	cs.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.Close()
}

// State returns the current state of channel. Channels never opened
// report StatusClosed.
func (m *Manager) State(channel model.Channel) State {
	m.mu.Lock()
	cs, ok := m.channels[channel]
	m.mu.Unlock()
	if !ok {
		return State{Status: StatusClosed}
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// Stats returns per-channel counters.
func (m *Manager) Stats() map[model.Channel]ChannelStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[model.Channel]ChannelStats, len(m.channels))
	for ch, cs := range m.channels {
		cs.mu.Lock()
		st := cs.state
		cs.mu.Unlock()
		out[ch] = ChannelStats{
			State:         st,
			Connects:      cs.connects.Load(),
			Reconnects:    cs.reconnects.Load(),
			Frames:        cs.frames.Load(),
			DroppedFrames: cs.dropped.Load(),
		}
	}
	return out
}

// Stop closes every channel and waits for their goroutines.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	m.stopped = true
	channels := make([]*channelState, 0, len(m.channels))
	for _, cs := range m.channels {
		channels = append(channels, cs)
	}
	m.mu.Unlock()

	m.cancel()
	for _, cs := range channels {
		cs.shutdown()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, connections still draining")
		return ctx.Err()
	}
}

// run drives one channel until its context ends.
func (m *Manager) run(ctx context.Context, cs *channelState) {
	defer m.wg.Done()
	defer close(cs.done)
	defer m.metrics.StreamStatus(string(cs.channel), int(StatusClosed))
	defer cs.setClosed()

	retry := 0
	for ctx.Err() == nil {
		gen, ok := cs.beginConnect()
		if !ok {
			return
		}
		m.metrics.StreamStatus(string(cs.channel), int(StatusConnecting))

		cfg := m.cfg.Client
		cfg.URL = cs.url
		c := m.newClient(cfg, cs.logger)

		err := c.Connect(ctx)
		if err == nil && !cs.setOpen(gen, c, m.clock.Now()) {
			// Closed while dialing.
			c.Close()
			return
		}
		if err == nil {
			retry = 0
			m.metrics.StreamStatus(string(cs.channel), int(StatusOpen))
			if cs.connects.Add(1) > 1 {
				cs.reconnects.Add(1)
				m.metrics.StreamReconnected(string(cs.channel))
				cs.logger.Info("reconnected")
				if m.onReconnect != nil {
					m.onReconnect(cs.channel)
				}
			} else {
				cs.logger.Info("stream connected", "url", cs.url)
			}

			err = m.pump(ctx, cs, gen, c)
		}
		c.Close()

		if ctx.Err() != nil {
			return
		}

		delay := backoff.Delay(m.cfg.ReconnectBaseWait, retry, m.cfg.ReconnectMaxWait, m.cfg.Jitter)
		retry++
		cs.setBackoff(retry, m.clock.Now().Add(delay), err)
		m.metrics.StreamStatus(string(cs.channel), int(StatusBackoff))
		cs.logger.Warn("stream down, backing off",
			"err", err,
			"retry", retry,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(delay):
		}
	}
}

// pump forwards frames of client c until it fails or ctx ends.
func (m *Manager) pump(ctx context.Context, cs *channelState, gen uint64, c Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.Errors():
			// Frames read before the failure are still delivered.
			for {
				select {
				case msg := <-c.Messages():
					cs.deliver(gen, msg)
					continue
				default:
				}
				return err
			}
		case <-c.Done():
			return ErrNotConnected
		case msg := <-c.Messages():
			cs.deliver(gen, msg)
		}
	}
}

// channelState is the state machine of one channel.
type channelState struct {
	channel model.Channel
	url     string
	onFrame FrameHandler
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	client     Client

	connects   atomic.Int64
	reconnects atomic.Int64
	frames     atomic.Int64
	dropped    atomic.Int64
}

func (cs *channelState) status() Status {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state.Status
}

// beginConnect starts a new client generation unless the channel is closed.
func (cs *channelState) beginConnect() (uint64, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state.Status == StatusClosed {
		return 0, false
	}
	cs.generation++
	cs.state.Status = StatusConnecting
	cs.state.NextRetryAt = time.Time{}
	return cs.generation, true
}

// setOpen publishes c as the current client. It fails if the channel
// moved on (closed) while c was dialing.
func (cs *channelState) setOpen(gen uint64, c Client, now time.Time) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.generation != gen || cs.state.Status != StatusConnecting {
		return false
	}
	cs.client = c
	cs.state = State{Status: StatusOpen, ConnectedAt: now}
	return true
}

func (cs *channelState) setBackoff(retry int, next time.Time, err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state.Status == StatusClosed {
		return
	}
	cs.client = nil
	cs.state.Status = StatusBackoff
	cs.state.RetryCount = retry
	cs.state.NextRetryAt = next
	cs.state.ConnectedAt = time.Time{}
	if err != nil {
		cs.state.LastError = err.Error()
	}
}

func (cs *channelState) setClosed() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.generation++
	cs.client = nil
	cs.state.Status = StatusClosed
	cs.state.NextRetryAt = time.Time{}
	cs.state.ConnectedAt = time.Time{}
}

// shutdown moves the channel to Closed, invalidates the current
// generation, and releases the socket.
func (cs *channelState) shutdown() {
	cs.mu.Lock()
	cs.generation++
	c := cs.client
	cs.client = nil
	cs.state.Status = StatusClosed
	cs.state.NextRetryAt = time.Time{}
	cs.mu.Unlock()

	cs.cancel()
	if c != nil {
		c.Close()
	}
}

// deliver hands msg to the frame handler if gen is still current.
func (cs *channelState) deliver(gen uint64, msg TimestampedMessage) {
	if !cs.isCurrent(gen) {
		cs.dropped.Add(1)
		return
	}
	cs.frames.Add(1)
	cs.onFrame(cs.channel, msg)
}

// isCurrent reports whether gen is the open generation.
func (cs *channelState) isCurrent(gen uint64) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.generation == gen && cs.state.Status == StatusOpen
}
