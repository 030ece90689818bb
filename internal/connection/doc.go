// Package connection implements the ConnectionManager component.
//
// The ConnectionManager:
//   - Maintains one WebSocket connection per push channel (market, trades)
//   - Runs a per-channel state machine: Connecting, Open, Backoff, Closed
//   - Reconnects with capped exponential backoff plus jitter
//   - Drops frames from any client generation that is not the current open one
//   - Notifies a hook after each reconnect so the session can resync by polling
package connection
