package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/actuallyakshat/realtime-todos/internal/connection"
	"github.com/actuallyakshat/realtime-todos/internal/dispatch"
	"github.com/actuallyakshat/realtime-todos/internal/loop"
	"github.com/actuallyakshat/realtime-todos/internal/model"
	"github.com/actuallyakshat/realtime-todos/internal/reconcile"
)

// Engine drives room sessions for one identity.
type Engine struct {
	cfg      Config
	ctx      context.Context
	loop     *loop.Loop
	backend  Backend
	manager  *connection.Manager
	logger   *slog.Logger
	observer Observer

	// Loop-owned.
	current *Session
	closed  bool

	// OnChange is called on the loop after every change to the active room.
	OnChange func(reconcile.View)
	// OnLeaveRoom is called on the loop once the identity has left roomID.
	OnLeaveRoom func(roomID int64)
	// OnRoomGone is called on the loop once roomID has been deleted.
	OnRoomGone func(roomID int64)
	// OnStatus is called on the loop on every connection status change.
	OnStatus func(connection.Status)
}

type engineOptions struct {
	observer Observer
	dialer   connection.Dialer
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithObserver instruments the engine.
func WithObserver(o Observer) Option {
	return func(opts *engineOptions) { opts.observer = o }
}

// WithDialer overrides how websocket clients are created.
func WithDialer(d connection.Dialer) Option {
	return func(opts *engineOptions) { opts.dialer = d }
}

// NewEngine creates an Engine. ctx bounds every request the engine makes;
// l must be running for the engine to make progress.
func NewEngine(ctx context.Context, cfg Config, l *loop.Loop, backend Backend, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg.Username == "" {
		return nil, ErrNoUsername
	}
	if logger == nil {
		logger = slog.Default()
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		cfg:      cfg,
		ctx:      ctx,
		loop:     l,
		backend:  backend,
		logger:   logger.With("username", cfg.Username),
		observer: o.observer,
	}

	var mopts []connection.ManagerOption
	if o.dialer != nil {
		mopts = append(mopts, connection.WithDialer(o.dialer))
	}
	if o.observer != nil {
		mopts = append(mopts, connection.WithObserver(o.observer))
	}
	e.manager = connection.NewManager(cfg.Manager, l, e.logger, mopts...)
	e.manager.OnOpen = e.handleOpen
	e.manager.OnStatus = e.handleStatus

	return e, nil
}

// Enter fetches roomID and makes it the active room, tearing down the
// previous session first.
func (e *Engine) Enter(ctx context.Context, roomID int64) (*Session, error) {
	room, err := e.backend.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("enter room %d: %w", roomID, err)
	}

	var s *Session
	var enterErr error
	if err := e.loop.Call(func() { s, enterErr = e.enter(roomID, room) }); err != nil {
		return nil, err
	}
	return s, enterErr
}

// Current returns the active session, or nil.
func (e *Engine) Current() *Session {
	var s *Session
	_ = e.loop.Call(func() { s = e.current })
	return s
}

// Status returns the connection status.
func (e *Engine) Status() connection.Status {
	return e.manager.Status()
}

// Close tears down the active session. The engine accepts no further rooms.
func (e *Engine) Close() error {
	return e.loop.Call(func() {
		e.closed = true
		if e.current != nil {
			e.current.teardown(true)
			e.current = nil
		}
	})
}

func (e *Engine) enter(roomID int64, room model.Room) (*Session, error) {
	if e.closed {
		return nil, ErrEngineClosed
	}
	if prev := e.current; prev != nil {
		// For a different room, Manager.Connect closes the old socket with
		// "Switching rooms". Re-entering the same room needs a fresh
		// connection so the new store gets attached.
		prev.teardown(prev.roomID == roomID)
		e.current = nil
	}

	s := newSession(e, roomID)
	if err := s.store.LoadSnapshot(room); err != nil {
		return nil, fmt.Errorf("load room %d: %w", roomID, err)
	}
	if s.store.View().UserID == 0 {
		s.logger.Warn("identity not found in room snapshot")
	}

	e.current = s
	e.manager.Connect(roomID, e.cfg.Username)
	if err := s.poller.Start(e.ctx); err != nil {
		s.logger.Warn("failed to start resync poller", "error", err)
	}

	s.logger.Info("entered room", "name", room.Name, "users", len(room.Users))
	return s, nil
}

// end tears s down after the room ended for this client and notifies the host.
func (e *Engine) end(s *Session, gone bool) {
	if e.current != s {
		return
	}
	s.teardown(true)
	e.current = nil

	if gone {
		s.logger.Info("room deleted")
		if e.OnRoomGone != nil {
			e.OnRoomGone(s.roomID)
		}
		return
	}
	s.logger.Info("left room")
	if e.OnLeaveRoom != nil {
		e.OnLeaveRoom(s.roomID)
	}
}

func (e *Engine) handleOpen(roomID int64, d *dispatch.Dispatcher) {
	s := e.current
	if s == nil || s.closed || s.roomID != roomID {
		return
	}
	s.attach(d)
}

func (e *Engine) handleStatus(st connection.Status) {
	if e.OnStatus != nil {
		e.OnStatus(st)
	}
}
