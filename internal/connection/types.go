package connection

import (
	"errors"
	"time"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyOpen     = errors.New("channel already open")
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrManagerStopped  = errors.New("connection manager stopped")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// FrameHandler receives every frame of the channel's current connection.
type FrameHandler func(channel model.Channel, msg TimestampedMessage)

// Status is the state of one channel's connection.
type Status int

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusBackoff
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusBackoff:
		return "backoff"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a point-in-time view of a channel.
type State struct {
	Status Status `json:"status"`
	// RetryCount counts backoff waits since the last successful handshake.
	RetryCount  int       `json:"retry_count"`
	NextRetryAt time.Time `json:"next_retry_at,omitzero"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// ChannelStats contains per-channel counters.
type ChannelStats struct {
	State
	Connects      int64 `json:"connects"`
	Reconnects    int64 `json:"reconnects"`
	Frames        int64 `json:"frames"`
	DroppedFrames int64 `json:"dropped_frames"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:8000/ws/market)
	APIKey           string        // Optional bearer token
	PingInterval     time.Duration // How often to send a ping
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial handshake timeout
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the ConnectionManager.
type ManagerConfig struct {
	WSURL             string        // Stream base URL; channel URLs are WSURL + "/ws/" + channel
	ReconnectBaseWait time.Duration // Delay before the first retry
	ReconnectMaxWait  time.Duration // Cap on the retry delay
	Jitter            float64       // Random extra delay as a fraction of the delay
	Client            ClientConfig  // Template for each connection; URL is filled in per channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WSURL:             "ws://localhost:8000",
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		Jitter:            0.2,
		Client:            DefaultClientConfig(),
	}
}
