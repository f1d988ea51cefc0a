// Package metrics provides Prometheus metrics for the sync engine.
//
// Key metrics:
//   - Frames received per kind and outcome, decode errors
//   - Connection state and reconnect attempts
//   - Pending writes and coalesced write outcomes per channel
//   - Broadcast merge outcomes per kind
package metrics
