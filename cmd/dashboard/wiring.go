package main

import (
	"fmt"

	"github.com/nan0silver/AIBitcoinTrading/internal/config"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
	"github.com/nan0silver/AIBitcoinTrading/internal/session"
)

// sessionConfig maps the file configuration onto the session. Configured
// intervals override the defaults per domain; an interval of 0 stops the
// domain from being polled.
func sessionConfig(cfg *config.DashboardConfig) (session.Config, error) {
	sc := session.DefaultConfig()

	for name, interval := range cfg.Polling.Intervals {
		d, err := model.ParseDomain(name)
		if err != nil {
			return session.Config{}, fmt.Errorf("polling.intervals: %w", err)
		}
		if interval <= 0 {
			delete(sc.Intervals, d)
			continue
		}
		sc.Intervals[d] = interval
	}

	sc.TradeLimit = cfg.Polling.TradeLimit
	sc.ReflectionLimit = cfg.Polling.ReflectionLimit
	sc.ChartCount = cfg.Polling.ChartCount
	if cfg.Polling.ChartInterval != "" {
		iv, err := model.ParseChartInterval(cfg.Polling.ChartInterval)
		if err != nil {
			return session.Config{}, fmt.Errorf("polling.chart_interval: %w", err)
		}
		sc.ChartInterval = iv
	}

	sc.Poller.MaxBackoff = cfg.Polling.MaxBackoff
	sc.Poller.Jitter = cfg.Polling.Jitter
	sc.Poller.StaleThreshold = cfg.Polling.StaleThreshold
	sc.Poller.Timeout = cfg.Polling.Timeout

	sc.Streams = make([]model.Channel, 0, len(cfg.Connections.Streams))
	for _, s := range cfg.Connections.Streams {
		ch := model.Channel(s)
		if ch.Domain() == "" {
			return session.Config{}, fmt.Errorf("connections.streams: unknown channel %q", s)
		}
		sc.Streams = append(sc.Streams, ch)
	}

	conn := &sc.Connections
	conn.WSURL = cfg.Connections.WSURL
	conn.ReconnectBaseWait = cfg.Connections.ReconnectBaseDelay
	conn.ReconnectMaxWait = cfg.Connections.ReconnectMaxDelay
	conn.Jitter = cfg.Connections.Jitter
	conn.Client.APIKey = cfg.API.APIKey
	conn.Client.PingInterval = cfg.Connections.PingInterval
	conn.Client.PingTimeout = cfg.Connections.PingTimeout
	conn.Client.WriteTimeout = cfg.Connections.WriteTimeout
	conn.Client.BufferSize = cfg.Connections.BufferSize

	sc.Store.TradeWindowSize = cfg.Store.TradeWindowSize
	return sc, nil
}
