// Package poller implements the PollScheduler.
//
// The PollScheduler:
//   - Runs one independent task per domain, each with its own timer
//   - Fetches the raw payload, normalizes it, and applies it to the store as a poll
//   - Keeps at most one fetch in flight per domain; overlapping ticks are coalesced
//   - Backs off exponentially on failure and returns to the nominal interval on success
//   - Marks a domain stale after a run of consecutive failures
//   - Accepts Trigger requests for an immediate resync
package poller
