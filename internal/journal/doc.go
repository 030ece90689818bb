// Package journal archives committed market ticks and trade events.
//
// A Writer subscribes to the market and trades domains, turns each
// committed entry into rows, and flushes them in batches to a Sink:
//   - NoopSink: journaling disabled
//   - SQLiteSink: local file (modernc.org/sqlite)
//   - TimescaleSink: hypertables via pgx batches
//
// The journal is append-only and never read back into dashboard state.
// Inserts ignore rows whose key already exists, so restarts and
// overlapping sessions do not duplicate history.
package journal
