// Package adapter converts raw backend payloads into canonical model records.
//
// Two entry points:
//   - Normalize: REST response bodies, one decoder per domain
//   - NormalizeFrame: WebSocket frames ({"type": ..., "data": ...})
//
// Adapters are pure. A payload with a missing or ill-typed required field
// fails with *AdapterError and never produces a partial record. Frames of
// an unrecognized type yield ErrIgnoredFrame.
package adapter
