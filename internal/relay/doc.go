// Package relay exposes session state to browser components over HTTP
// and WebSocket.
//
// Routes:
//   - GET  /health                  session health, 503 when unhealthy
//   - GET  /api/state               every committed entry
//   - GET  /api/state/:domain       one entry
//   - GET  /api/connections         stream and poll counters
//   - POST /api/chart-interval      switch the chart candle width
//   - POST /api/refresh/:domain     poll a domain now
//   - POST /api/actions/...         one-shot backend actions, never cached
//   - GET  /ws                      current entries, then every commit
//
// WebSocket clients receive {"type":"state",...} messages. Each client
// subscribes before reading the snapshot and drops anything not newer
// than what it already sent, so a domain's sequence never goes backwards
// on the wire.
package relay
