// Package session owns the lifetime of the active room.
//
// An Engine is created once per identity. Engine.Enter fetches the room
// snapshot and builds a Session: a pending-write counter, a coalescer, a
// reconciler store, a resync poller and the dispatcher subscriptions of the
// current connection. Entering another room, leaving, or the room being
// deleted tears the session down in a fixed order:
//
//  1. release broadcast subscriptions
//  2. cancel scheduled writes (in-flight writes settle against the discarded session)
//  3. stop the resync poller
//  4. close the connection with a normal closure
//
// Session methods block until the loop has run them and must not be called
// from loop callbacks such as OnChange.
package session
