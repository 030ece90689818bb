// dashboard keeps the BTC trading dashboard state in sync with the
// backend and serves it to UI components.
// Usage: go run ./cmd/dashboard --config configs/dashboard.local.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nan0silver/AIBitcoinTrading/internal/api"
	"github.com/nan0silver/AIBitcoinTrading/internal/config"
	"github.com/nan0silver/AIBitcoinTrading/internal/journal"
	"github.com/nan0silver/AIBitcoinTrading/internal/metrics"
	"github.com/nan0silver/AIBitcoinTrading/internal/relay"
	"github.com/nan0silver/AIBitcoinTrading/internal/session"
	"github.com/nan0silver/AIBitcoinTrading/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting dashboard",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
		"ws_url", cfg.Connections.WSURL,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("dashboard failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dashboard stopped")
}

func loadConfig(path string) (*config.DashboardConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func run(cfg *config.DashboardConfig, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	appName := "btc-dashboard-" + cfg.Instance.ID

	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.API.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
		api.WithUserAgent(version.UserAgent()),
	)

	sessCfg, err := sessionConfig(cfg)
	if err != nil {
		return err
	}
	sess, err := session.New(sessCfg, apiClient,
		session.WithLogger(logger),
		session.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	// Journal first, so the first committed entries are archived.
	sink, err := journal.Open(ctx, cfg.Journal, appName)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer sink.Close()

	writer := journal.NewWriter(journal.Config{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
	}, sink, sess.ID().String(),
		journal.WithLogger(logger),
		journal.WithMetrics(m),
	)
	if err := writer.Start(ctx, sess); err != nil {
		return fmt.Errorf("start journal: %w", err)
	}
	logger.Info("journal started", "driver", cfg.Journal.Driver)

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	rly := relay.New(relay.Config{
		Port:           cfg.Relay.Port,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		WriteTimeout:   cfg.Connections.WriteTimeout,
	}, sess, apiClient, logger)

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(cfg.Metrics.Path, sess, writer, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(rly.Start)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return errors.Join(
			rly.Shutdown(shutdownCtx),
			sess.Stop(shutdownCtx),
			writer.Stop(shutdownCtx),
			healthServer.Shutdown(shutdownCtx),
		)
	})

	logger.Info("dashboard running",
		"session", sess.ID(),
		"relay_url", fmt.Sprintf("http://localhost:%d", cfg.Relay.Port),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)
	return g.Wait()
}
