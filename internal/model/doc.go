// Package model defines the room, user, and todo types shared across the sync engine.
//
// All types mirror the JSON snapshot the server broadcasts over the room websocket and
// returns from the REST API.
//
// Conventions:
//   - IDs: int64 assigned by the server; provisional todos carry negative IDs until created
//   - Order: dense, zero-based position of a todo within its owner's list
//   - A user's todo list is scoped to (room, user); other rooms are never materialized
package model
