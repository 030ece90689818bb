// streamtest connects to the backend push channels and prints every
// normalized frame to the console.
// Usage: go run ./cmd/streamtest --config configs/dashboard.local.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nan0silver/AIBitcoinTrading/internal/adapter"
	"github.com/nan0silver/AIBitcoinTrading/internal/config"
	"github.com/nan0silver/AIBitcoinTrading/internal/connection"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	verbose := flag.Bool("verbose", false, "print full record JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadAndValidate(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	connCfg := connection.DefaultManagerConfig()
	connCfg.WSURL = cfg.Connections.WSURL
	connCfg.ReconnectBaseWait = cfg.Connections.ReconnectBaseDelay
	connCfg.ReconnectMaxWait = cfg.Connections.ReconnectMaxDelay
	connCfg.Client.APIKey = cfg.API.APIKey

	var frames, failures atomic.Int64
	connMgr := connection.NewManager(connCfg,
		connection.WithLogger(logger),
		connection.WithOnReconnect(func(ch model.Channel) {
			logger.Info("channel reconnected", "channel", ch)
		}),
	)

	onFrame := func(ch model.Channel, msg connection.TimestampedMessage) {
		frames.Add(1)
		rec, err := adapter.NormalizeFrame(ch, msg.Data, msg.ReceivedAt)
		switch {
		case errors.Is(err, adapter.ErrIgnoredFrame):
			typ, _ := adapter.FrameType(msg.Data)
			logger.Debug("frame ignored", "channel", ch, "type", typ)
		case err != nil:
			failures.Add(1)
			logger.Warn("frame not normalized", "channel", ch, "error", err)
		default:
			printRecord(rec, *verbose)
		}
	}

	for _, s := range cfg.Connections.Streams {
		ch := model.Channel(s)
		logger.Info("opening channel", "channel", ch, "url", connMgr.URL(ch))
		if err := connMgr.Open(ch, onFrame); err != nil {
			logger.Error("failed to open channel", "channel", ch, "error", err)
			os.Exit(1)
		}
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for ch, st := range connMgr.Stats() {
					logger.Info("stats",
						"channel", ch,
						"status", st.Status,
						"reconnects", st.Reconnects,
						"frames", st.Frames,
						"dropped", st.DroppedFrames,
					)
				}
				logger.Info("totals", "frames", frames.Load(), "failures", failures.Load())
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	logger.Info("shutdown complete")
}

func printRecord(rec model.Record, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Printf("[%s] %s\n", rec.Domain(), data)
		return
	}

	switch r := rec.(type) {
	case model.MarketSnapshot:
		fmt.Printf("[MARKET] price=%s time=%s\n", r.Price, r.Timestamp.Format(time.RFC3339))
	case model.TradeEvent:
		fmt.Printf("[TRADE] id=%d decision=%s pct=%s price=%s time=%s\n",
			r.ID, r.Decision, r.Percentage, r.BTCPrice, r.Timestamp.Format(time.RFC3339))
	default:
		fmt.Printf("[%s] %T\n", rec.Domain(), rec)
	}
}
