package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrAdminNotMember is returned by Room.Validate when the admin is missing from the member list.
var ErrAdminNotMember = errors.New("room admin is not a member")

// -----------------------------------------------------------------------------
// Snapshot Types
// -----------------------------------------------------------------------------

// Room is a shared space whose members each own an ordered todo list.
type Room struct {
	ID      int64  `json:"ID"`
	Name    string `json:"name"`
	AdminID int64  `json:"adminId"`
	Users   []User `json:"users"`
}

// User is a room member.
type User struct {
	ID       int64  `json:"ID"`
	Username string `json:"username"`
	Todos    []Todo `json:"todos"`
}

// Todo is a single item in a user's list.
type Todo struct {
	ID          int64  `json:"ID"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"isCompleted"`
	UserID      int64  `json:"userId"`
	RoomID      int64  `json:"roomId"`
	Order       int    `json:"order"`
}

// OrderUpdate is one entry of a reorder request.
type OrderUpdate struct {
	ID    int64 `json:"id"`
	Order int   `json:"order"`
}

// HasMember reports whether userID is in the member list.
func (r Room) HasMember(userID int64) bool {
	for _, u := range r.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// Member returns the member with the given username.
func (r Room) Member(username string) (User, bool) {
	for _, u := range r.Users {
		if u.Username == username {
			return u, true
		}
	}
	return User{}, false
}

// Validate checks the admin membership invariant. A snapshot without members
// (e.g. a room_deleted payload) is not checked.
func (r Room) Validate() error {
	if len(r.Users) == 0 {
		return nil
	}
	if !r.HasMember(r.AdminID) {
		return fmt.Errorf("room %d admin %d: %w", r.ID, r.AdminID, ErrAdminNotMember)
	}
	return nil
}

// FlattenTodos returns every member's todos that belong to this room.
func (r Room) FlattenTodos() []Todo {
	var out []Todo
	for _, u := range r.Users {
		for _, t := range u.Todos {
			if t.RoomID == r.ID {
				out = append(out, t)
			}
		}
	}
	return out
}

// MembersOnly returns a copy of the member list with todos stripped.
// The reconciler keeps todos in a single flat collection.
func (r Room) MembersOnly() []User {
	out := make([]User, len(r.Users))
	for i, u := range r.Users {
		out[i] = User{ID: u.ID, Username: u.Username}
	}
	return out
}

// -----------------------------------------------------------------------------
// Ordering
// -----------------------------------------------------------------------------

// SortByOrder sorts todos by Order, keeping the existing relative position of equal orders.
func SortByOrder(todos []Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		return todos[i].Order < todos[j].Order
	})
}

// Reindex assigns Order = index for every todo in the slice.
func Reindex(todos []Todo) {
	for i := range todos {
		todos[i].Order = i
	}
}

// IsDense reports whether the orders, once sorted, are exactly 0..n-1.
func IsDense(todos []Todo) bool {
	seen := make([]bool, len(todos))
	for _, t := range todos {
		if t.Order < 0 || t.Order >= len(todos) || seen[t.Order] {
			return false
		}
		seen[t.Order] = true
	}
	return true
}

// OwnedBy returns the todos owned by userID, preserving slice order.
func OwnedBy(todos []Todo, userID int64) []Todo {
	var out []Todo
	for _, t := range todos {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Wire Types
// -----------------------------------------------------------------------------

// MessageType identifies a broadcast kind.
type MessageType string

const (
	MsgUserJoined      MessageType = "user_joined"
	MsgUserLeft        MessageType = "user_left"
	MsgTodosUpdated    MessageType = "todos_updated"
	MsgRoomNameUpdated MessageType = "room_name_updated"
	MsgRoomDeleted     MessageType = "room_deleted"
)

// MessageTypes lists every broadcast kind the server emits.
var MessageTypes = []MessageType{
	MsgUserJoined,
	MsgUserLeft,
	MsgTodosUpdated,
	MsgRoomNameUpdated,
	MsgRoomDeleted,
}

// Known reports whether t is one of the broadcast kinds.
func (t MessageType) Known() bool {
	for _, k := range MessageTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Envelope is the frame format of every server broadcast.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
