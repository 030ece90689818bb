// Package bus implements the Subscription Bus.
//
// The Subscription Bus:
//   - Delivers each committed StateEntry to the subscribers of its domain
//   - Preserves commit order per subscriber (strictly increasing sequence)
//   - Never drops: each subscriber has an unbounded Mailbox and its own goroutine
//   - Stops delivery synchronously on unsubscribe, including queued entries
package bus
