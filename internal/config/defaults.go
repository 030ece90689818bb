package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "http://localhost:8000/api"
	DefaultWSURL              = "ws://localhost:8000"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRateBurst          = 5
	DefaultMaxBackoff         = 5 * time.Minute
	DefaultPollJitter         = 0.1
	DefaultStaleThreshold     = 3
	DefaultPollTimeout        = 10 * time.Second
	DefaultTradeLimit         = 50
	DefaultReflectionLimit    = 5
	DefaultChartInterval      = "day"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultReconnectJitter    = 0.2
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 90 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 256
	DefaultTradeWindowSize    = 50
	DefaultJournalDriver      = JournalNone
	DefaultSQLitePath         = "dashboard-journal.db"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultRelayPort          = 8080
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
)

// DefaultStreams are the push channels opened when none are configured.
var DefaultStreams = []string{"market", "trades"}

func (c *DashboardConfig) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RateLimit > 0 && c.API.RateBurst == 0 {
		c.API.RateBurst = DefaultRateBurst
	}

	// Polling defaults
	if c.Polling.MaxBackoff == 0 {
		c.Polling.MaxBackoff = DefaultMaxBackoff
	}
	if c.Polling.Jitter == 0 {
		c.Polling.Jitter = DefaultPollJitter
	}
	if c.Polling.StaleThreshold == 0 {
		c.Polling.StaleThreshold = DefaultStaleThreshold
	}
	if c.Polling.Timeout == 0 {
		c.Polling.Timeout = DefaultPollTimeout
	}
	if c.Polling.TradeLimit == 0 {
		c.Polling.TradeLimit = DefaultTradeLimit
	}
	if c.Polling.ReflectionLimit == 0 {
		c.Polling.ReflectionLimit = DefaultReflectionLimit
	}
	if c.Polling.ChartInterval == "" {
		c.Polling.ChartInterval = DefaultChartInterval
	}

	// Connections defaults
	if c.Connections.WSURL == "" {
		c.Connections.WSURL = DefaultWSURL
	}
	if c.Connections.Streams == nil {
		c.Connections.Streams = append([]string(nil), DefaultStreams...)
	}
	if c.Connections.ReconnectBaseDelay == 0 {
		c.Connections.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.Jitter == 0 {
		c.Connections.Jitter = DefaultReconnectJitter
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.PingTimeout == 0 {
		c.Connections.PingTimeout = DefaultPingTimeout
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.BufferSize == 0 {
		c.Connections.BufferSize = DefaultBufferSize
	}

	// Store defaults
	if c.Store.TradeWindowSize == 0 {
		c.Store.TradeWindowSize = DefaultTradeWindowSize
	}

	// Journal defaults
	if c.Journal.Driver == "" {
		c.Journal.Driver = DefaultJournalDriver
	}
	if c.Journal.Driver == JournalSQLite && c.Journal.SQLitePath == "" {
		c.Journal.SQLitePath = DefaultSQLitePath
	}
	if c.Journal.Driver == JournalTimescale {
		applyDBDefaults(&c.Journal.Timescale)
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}

	// Relay and metrics defaults
	if c.Relay.Port == 0 {
		c.Relay.Port = DefaultRelayPort
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
