// Package model defines the canonical records shared across the dashboard sync core.
//
// Conventions:
//   - Money and prices: shopspring/decimal (KRW and BTC amounts)
//   - Timestamps: time.Time, UTC when the backend sends naive ISO strings
//   - Trade IDs: int64 row IDs assigned by the trading backend
//
// Records are immutable once built. The store hands them to readers by
// value inside a StateEntry; callers must not modify slices or maps
// reachable from a record.
package model
