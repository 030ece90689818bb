// Package api provides the REST client for the trading dashboard backend.
//
// Polled endpoints (relative to the configured base URL, e.g. http://localhost:8000/api):
//   - GET /market, /fear-greed, /indicators, /statistics, /portfolio
//   - GET /trades?limit=N, /reflections?limit=N
//   - GET /chart/ohlcv?interval=day&count=30
//
// One-shot actions (never retried, never cached):
//   - POST /ai-analysis?include_balance=true|false
//   - POST /manual-trade?decision=buy|sell&percentage=1..100
//   - POST /ai-trade
//
// GET responses are returned as raw bytes; decoding belongs to the adapter package.
package api
