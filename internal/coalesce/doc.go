// Package coalesce implements the Write Coalescer.
//
// Local mutation intents are rate limited per key by a Throttle: a burst of
// intents inside one idle window becomes a single request carrying the
// latest value. Every dispatched request increments the room's
// PendingCounter and decrements it exactly once when it settles.
package coalesce
