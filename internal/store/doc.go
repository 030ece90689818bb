// Package store implements the StateStore.
//
// The StateStore:
//   - Holds one StateEntry per domain behind an atomic pointer
//   - Serializes writers per domain; readers never lock
//   - Rejects updates whose origin time is not newer than the stored record
//   - Merges trade events and polled trade windows by trade ID
//   - Publishes every committed entry, and every stale flag change, to the bus
package store
