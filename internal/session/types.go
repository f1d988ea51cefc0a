package session

import (
	"context"
	"errors"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/coalesce"
	"github.com/actuallyakshat/realtime-todos/internal/connection"
	"github.com/actuallyakshat/realtime-todos/internal/model"
	"github.com/actuallyakshat/realtime-todos/internal/poller"
	"github.com/actuallyakshat/realtime-todos/internal/reconcile"
)

// Errors
var (
	ErrClosed       = errors.New("session closed")
	ErrNoUsername   = errors.New("username is required")
	ErrEngineClosed = errors.New("engine closed")
)

// Backend is the REST surface the engine needs.
type Backend interface {
	coalesce.Writer
	reconcile.Backend
	poller.RoomSource
	LeaveRoom(ctx context.Context, roomID int64, username string) error
	AddMember(ctx context.Context, roomID int64, username string) (model.User, error)
}

// Observer instruments every layer of the engine.
type Observer interface {
	connection.Observer
	coalesce.Observer
	reconcile.Observer
	SetPending(n int)
}

// Config holds engine configuration.
type Config struct {
	Username       string
	Manager        connection.ManagerConfig
	Writes         coalesce.Config
	Poller         poller.Config
	RequestTimeout time.Duration
}
