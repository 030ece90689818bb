package config

import (
	"log/slog"
	"time"
)

// DashboardConfig is the root configuration for a dashboard instance.
type DashboardConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	API         APIConfig         `yaml:"api"`
	Polling     PollingConfig     `yaml:"polling"`
	Connections ConnectionsConfig `yaml:"connections"`
	Store       StoreConfig       `yaml:"store"`
	Journal     JournalConfig     `yaml:"journal"`
	Relay       RelayConfig       `yaml:"relay"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// InstanceConfig identifies this dashboard.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds backend REST settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	APIKey     string        `yaml:"api_key"` // sent as a bearer token when set
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second; 0 disables
	RateBurst  int           `yaml:"rate_burst"`
}

// PollingConfig holds poll scheduler settings.
type PollingConfig struct {
	Intervals       map[string]time.Duration `yaml:"intervals"`
	MaxBackoff      time.Duration            `yaml:"max_backoff"`
	Jitter          float64                  `yaml:"jitter"`
	StaleThreshold  int                      `yaml:"stale_threshold"`
	Timeout         time.Duration            `yaml:"timeout"`
	TradeLimit      int                      `yaml:"trade_limit"`
	ReflectionLimit int                      `yaml:"reflection_limit"`
	ChartInterval   string                   `yaml:"chart_interval"`
	ChartCount      int                      `yaml:"chart_count"` // 0 picks the interval's default
}

// ConnectionsConfig holds stream connection settings.
type ConnectionsConfig struct {
	WSURL              string        `yaml:"ws_url"`
	Streams            []string      `yaml:"streams"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	Jitter             float64       `yaml:"jitter"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// StoreConfig holds state store settings.
type StoreConfig struct {
	TradeWindowSize int `yaml:"trade_window_size"`
}

// Journal drivers.
const (
	JournalNone      = "none"
	JournalSQLite    = "sqlite"
	JournalTimescale = "timescale"
)

// JournalConfig holds the optional tick and trade archive.
type JournalConfig struct {
	Driver        string        `yaml:"driver"`
	SQLitePath    string        `yaml:"sqlite_path"`
	Timescale     DBConfig      `yaml:"timescale"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RelayConfig holds the HTTP/WebSocket surface for UI components.
type RelayConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // empty allows any origin
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel returns the configured level. Unknown values fall back to info.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
