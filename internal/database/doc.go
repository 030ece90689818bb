// Package database opens the stores backing the optional journal.
//
//   - TimescaleDB: market ticks and trade events as hypertables (pgxpool)
//   - SQLite: the same tables in a local file for single-host setups
//
// Nothing here is read back into dashboard state.
package database
