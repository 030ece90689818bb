package main

import (
	"testing"
	"time"

	"github.com/nan0silver/AIBitcoinTrading/internal/config"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
	"github.com/nan0silver/AIBitcoinTrading/internal/session"
)

func TestSessionConfig_Defaults(t *testing.T) {
	sc, err := sessionConfig(config.Default())
	if err != nil {
		t.Fatalf("sessionConfig: %v", err)
	}

	if len(sc.Intervals) != len(session.DefaultIntervals()) {
		t.Errorf("intervals = %v, want every default", sc.Intervals)
	}
	if sc.ChartInterval != model.DefaultChartInterval {
		t.Errorf("chart interval = %q", sc.ChartInterval)
	}
	if len(sc.Streams) != 2 || sc.Streams[0] != model.ChannelMarket || sc.Streams[1] != model.ChannelTrades {
		t.Errorf("streams = %v", sc.Streams)
	}
	if sc.Connections.WSURL != config.DefaultWSURL {
		t.Errorf("ws url = %q", sc.Connections.WSURL)
	}
	if sc.Poller.StaleThreshold != config.DefaultStaleThreshold {
		t.Errorf("stale threshold = %d", sc.Poller.StaleThreshold)
	}
	if sc.Store.TradeWindowSize != config.DefaultTradeWindowSize {
		t.Errorf("trade window = %d", sc.Store.TradeWindowSize)
	}
}

func TestSessionConfig_IntervalOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Polling.Intervals = map[string]time.Duration{
		"market":      5 * time.Second,
		"reflections": 0,
	}
	cfg.Polling.ChartInterval = "minute60"
	cfg.API.APIKey = "secret"

	sc, err := sessionConfig(cfg)
	if err != nil {
		t.Fatalf("sessionConfig: %v", err)
	}

	if got := sc.Intervals[model.DomainMarket]; got != 5*time.Second {
		t.Errorf("market interval = %v, want 5s", got)
	}
	if _, ok := sc.Intervals[model.DomainReflections]; ok {
		t.Error("reflections should not be polled")
	}
	if got := sc.Intervals[model.DomainTrades]; got != session.DefaultIntervals()[model.DomainTrades] {
		t.Errorf("trades interval = %v, want default", got)
	}
	if sc.ChartInterval != "minute60" {
		t.Errorf("chart interval = %q", sc.ChartInterval)
	}
	if sc.Connections.Client.APIKey != "secret" {
		t.Error("api key not passed to streams")
	}
}

func TestSessionConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.DashboardConfig)
	}{
		{"unknown domain", func(c *config.DashboardConfig) {
			c.Polling.Intervals = map[string]time.Duration{"orderbook": time.Second}
		}},
		{"bad chart interval", func(c *config.DashboardConfig) { c.Polling.ChartInterval = "minute7" }},
		{"unknown stream", func(c *config.DashboardConfig) { c.Connections.Streams = []string{"portfolio"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			if _, err := sessionConfig(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
