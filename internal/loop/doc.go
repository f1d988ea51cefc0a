// Package loop implements the single logical event loop the sync engine runs on.
//
// Every mutation of room state happens inside a closure posted to a Loop:
//   - inbound websocket frames and connection lifecycle events
//   - completions of outbound REST writes
//   - timer expiries (connect timeout, reconnect delay, write throttle window)
//
// Closures run one at a time in posting order, so room state needs no locks.
// Blocking work (dials, HTTP requests) runs on its own goroutine and posts its
// result back to the loop.
package loop
