package main

import (
	"encoding/json"
	"net/http"

	"github.com/nan0silver/AIBitcoinTrading/internal/journal"
	"github.com/nan0silver/AIBitcoinTrading/internal/metrics"
	"github.com/nan0silver/AIBitcoinTrading/internal/session"
)

// createHealthHandler serves Prometheus metrics, health and debug stats.
func createHealthHandler(metricsPath string, sess *session.Session, writer *journal.Writer, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := sess.Health()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == session.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"store":   sess.StoreStats(),
			"bus":     sess.BusStats(),
			"polls":   sess.Polls(),
			"streams": sess.Streams(),
			"journal": writer.Stats(),
		})
	})

	return mux
}
