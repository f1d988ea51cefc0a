// Package reconcile implements the State Reconciler.
//
// A Store is the single source of truth for the active room. Local edits
// are applied optimistically and forwarded to the write path; server
// broadcasts are merged by kind:
//
//   - todos_updated replaces all todos, but only while no writes are pending
//   - user_joined replaces members and todos
//   - user_left replaces members and signals OnLeaveRoom when the local identity is gone
//   - room_name_updated replaces the name
//   - room_deleted signals OnRoomGone and terminates the store
//
// Store methods must be called on the loop.
package reconcile
