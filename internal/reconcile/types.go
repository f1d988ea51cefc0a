package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// Errors
var (
	ErrTerminated      = errors.New("room session terminated")
	ErrUnknownIdentity = errors.New("local identity is not a room member")
	ErrEmptyTitle      = errors.New("todo title is empty")
	ErrEmptyName       = errors.New("room name is empty")
	ErrUnknownTodo     = errors.New("unknown todo")
	ErrInvalidOrder    = errors.New("ordering must list each of the user's todos exactly once")
	ErrProvisional     = errors.New("todo has not been created on the server yet")
	ErrUnknownMember   = errors.New("unknown member")
)

// Broadcast outcomes reported to the Observer.
const (
	OutcomeApplied     = "applied"
	OutcomeSuppressed  = "suppressed"
	OutcomeIgnored     = "ignored"
	OutcomeDecodeError = "decode_error"
)

// Backend performs the non-coalesced writes.
type Backend interface {
	CreateTodo(ctx context.Context, roomID int64, title string, order int, idempotencyKey string) (model.Todo, error)
	DeleteTodo(ctx context.Context, roomID, todoID int64) error
	UpdateRoomName(ctx context.Context, roomID int64, name string) error
	RemoveMember(ctx context.Context, roomID int64, username string) error
}

// Writes receives rate-limited mutation intents.
type Writes interface {
	Reorder(userID int64, updates []model.OrderUpdate)
	Toggle(todoID int64, completed bool)
	// ReorderQueued reports whether a reorder for userID is waiting to be sent.
	ReorderQueued(userID int64) bool
}

// Pending reports whether writes are in flight for the room.
type Pending interface {
	Idle() bool
	Value() int
}

// Observer receives broadcast merge outcomes.
type Observer interface {
	ObserveBroadcast(kind, outcome string)
}

// Config identifies the room and the acting identity.
type Config struct {
	RoomID         int64
	Identity       string
	RequestTimeout time.Duration
}

// View is an immutable copy of the local room state.
type View struct {
	RoomID     int64
	Name       string
	AdminID    int64
	Users      []model.User
	Todos      []model.Todo
	UserID     int64
	Progress   float64
	Pending    int
	Terminated bool
}

// IsAdmin reports whether the acting user administers the room.
func (v View) IsAdmin() bool {
	return v.UserID != 0 && v.UserID == v.AdminID
}

// TodosOf returns userID's todos sorted by order.
func (v View) TodosOf(userID int64) []model.Todo {
	out := model.OwnedBy(v.Todos, userID)
	model.SortByOrder(out)
	return out
}

// Provisional reports whether the todo is still awaiting creation.
func Provisional(t model.Todo) bool {
	return t.ID < 0
}
