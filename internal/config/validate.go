package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *DashboardConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}

	if err := c.Polling.validate(); err != nil {
		return err
	}
	if err := c.Connections.validate(); err != nil {
		return err
	}

	if c.Store.TradeWindowSize < 1 {
		return errors.New("store.trade_window_size must be >= 1")
	}

	if err := c.Journal.validate(); err != nil {
		return err
	}

	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port must be between 1 and 65535, got %d", c.Relay.Port)
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if c.Metrics.Port == c.Relay.Port {
		return fmt.Errorf("metrics.port and relay.port must differ, both are %d", c.Metrics.Port)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level %q is invalid", c.Log.Level)
	}
	return nil
}

func (p *PollingConfig) validate() error {
	for name, interval := range p.Intervals {
		if _, err := model.ParseDomain(name); err != nil {
			return fmt.Errorf("polling.intervals: %w", err)
		}
		if interval < 0 {
			return fmt.Errorf("polling.intervals.%s must be >= 0", name)
		}
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("polling.jitter must be between 0 and 1, got %g", p.Jitter)
	}
	if p.StaleThreshold < 1 {
		return errors.New("polling.stale_threshold must be >= 1")
	}
	if p.TradeLimit < 1 {
		return errors.New("polling.trade_limit must be >= 1")
	}
	if p.ReflectionLimit < 1 {
		return errors.New("polling.reflection_limit must be >= 1")
	}
	if _, err := model.ParseChartInterval(p.ChartInterval); err != nil {
		return fmt.Errorf("polling.chart_interval: %w", err)
	}
	if p.ChartCount < 0 {
		return errors.New("polling.chart_count must be >= 0")
	}
	return nil
}

func (c *ConnectionsConfig) validate() error {
	if err := validateURL("connections.ws_url", c.WSURL, "ws", "wss"); err != nil {
		return err
	}
	for _, s := range c.Streams {
		if model.Channel(s).Domain() == "" {
			return fmt.Errorf("connections.streams: unknown channel %q", s)
		}
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("connections.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("connections.jitter must be between 0 and 1, got %g", c.Jitter)
	}
	if c.PingTimeout <= c.PingInterval {
		return errors.New("connections.ping_timeout must exceed ping_interval")
	}
	if c.BufferSize < 1 {
		return errors.New("connections.buffer_size must be >= 1")
	}
	return nil
}

func (j *JournalConfig) validate() error {
	switch j.Driver {
	case JournalNone:
		return nil
	case JournalSQLite:
		if j.SQLitePath == "" {
			return errors.New("journal.sqlite_path is required")
		}
	case JournalTimescale:
		if err := j.Timescale.validate("journal.timescale"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("journal.driver must be one of none, sqlite, timescale, got %q", j.Driver)
	}

	if j.BatchSize < 1 {
		return errors.New("journal.batch_size must be >= 1")
	}
	if j.FlushInterval <= 0 {
		return errors.New("journal.flush_interval must be > 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL, got %q", field, schemes[0], raw)
}
