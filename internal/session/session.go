package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/coalesce"
	"github.com/actuallyakshat/realtime-todos/internal/connection"
	"github.com/actuallyakshat/realtime-todos/internal/dispatch"
	"github.com/actuallyakshat/realtime-todos/internal/loop"
	"github.com/actuallyakshat/realtime-todos/internal/model"
	"github.com/actuallyakshat/realtime-todos/internal/poller"
	"github.com/actuallyakshat/realtime-todos/internal/reconcile"
)

const pollerStopTimeout = time.Second

// Session is the state of one room for one identity.
type Session struct {
	engine *Engine
	roomID int64
	logger *slog.Logger

	counter *coalesce.PendingCounter
	coal    *coalesce.Coalescer
	store   *reconcile.Store
	poller  *poller.Poller

	// Loop-owned.
	scope  *dispatch.Scope
	closed bool
}

func newSession(e *Engine, roomID int64) *Session {
	s := &Session{
		engine: e,
		roomID: roomID,
		logger: e.logger.With("room_id", roomID),
	}

	var (
		coalObs  coalesce.Observer
		storeObs reconcile.Observer
	)
	if e.observer != nil {
		coalObs = e.observer
		storeObs = e.observer
	}

	s.counter = coalesce.NewPendingCounter(s.logger, func(n int) {
		if e.observer != nil {
			e.observer.SetPending(n)
		}
	})
	s.coal = coalesce.New(e.ctx, roomID, e.cfg.Writes, e.loop, e.backend, s.counter, e.logger, coalObs)
	s.store = reconcile.New(e.ctx, reconcile.Config{
		RoomID:         roomID,
		Identity:       e.cfg.Username,
		RequestTimeout: e.cfg.RequestTimeout,
	}, e.loop, e.backend, s.coal, s.counter, e.logger, storeObs)

	s.coal.OnReorderSettled = s.store.ReorderSettled
	s.store.OnChange = func(v reconcile.View) {
		if !s.closed && e.OnChange != nil {
			e.OnChange(v)
		}
	}
	// Teardown is posted so it never runs inside a dispatcher callback.
	s.store.OnLeaveRoom = func() {
		e.loop.Post(func() { e.end(s, false) })
	}
	s.store.OnRoomGone = func() {
		e.loop.Post(func() { e.end(s, true) })
	}

	s.poller = poller.New(e.cfg.Poller, roomID, e.backend, s.resyncAllowed,
		poller.SnapshotHandlerFunc(s.resync), e.logger)

	return s
}

// RoomID returns the session's room.
func (s *Session) RoomID() int64 {
	return s.roomID
}

// Pending returns the number of coalesced writes in flight.
func (s *Session) Pending() int {
	return s.counter.Value()
}

// Status returns the connection status.
func (s *Session) Status() connection.Status {
	return s.engine.manager.Status()
}

// View returns a copy of the room state.
func (s *Session) View() (reconcile.View, error) {
	var v reconcile.View
	err := s.do(func() error {
		v = s.store.View()
		return nil
	})
	return v, err
}

// Add creates a todo optimistically and returns its provisional copy.
func (s *Session) Add(title string) (model.Todo, error) {
	var t model.Todo
	err := s.do(func() error {
		var err error
		t, err = s.store.ApplyLocalAdd(title)
		return err
	})
	return t, err
}

// Reorder sets the full ordering of the acting user's todos.
func (s *Session) Reorder(ids []int64) error {
	return s.do(func() error { return s.store.ApplyLocalReorder(ids) })
}

// Move moves one of the acting user's todos to position to.
func (s *Session) Move(todoID int64, to int) error {
	return s.do(func() error { return s.store.MoveTodo(todoID, to) })
}

// Toggle flips a todo's completion flag.
func (s *Session) Toggle(todoID int64) error {
	return s.do(func() error { return s.store.ApplyLocalToggle(todoID) })
}

// Delete removes a todo optimistically.
func (s *Session) Delete(todoID int64) error {
	return s.do(func() error { return s.store.ApplyLocalDelete(todoID) })
}

// Rename renames the room optimistically.
func (s *Session) Rename(name string) error {
	return s.do(func() error { return s.store.ApplyLocalRename(name) })
}

// RemoveMember removes username from the room optimistically.
func (s *Session) RemoveMember(username string) error {
	return s.do(func() error { return s.store.ApplyLocalRemoveMember(username) })
}

// AddMember adds username to the room. The member list updates when the
// server's user_joined broadcast arrives.
func (s *Session) AddMember(ctx context.Context, username string) (model.User, error) {
	if err := s.do(func() error { return nil }); err != nil {
		return model.User{}, err
	}
	u, err := s.engine.backend.AddMember(ctx, s.roomID, username)
	if err != nil {
		return model.User{}, err
	}
	s.logger.Info("member added", "member", username)
	return u, nil
}

// Leave removes the identity from the room, then ends the session and
// signals OnLeaveRoom.
func (s *Session) Leave(ctx context.Context) error {
	if err := s.do(func() error { return nil }); err != nil {
		return err
	}
	if err := s.engine.backend.LeaveRoom(ctx, s.roomID, s.engine.cfg.Username); err != nil {
		return fmt.Errorf("leave room %d: %w", s.roomID, err)
	}
	return s.do(func() error {
		s.store.Leave()
		return nil
	})
}

// Close ends the session without leaving the room.
func (s *Session) Close() error {
	e := s.engine
	return e.loop.Call(func() {
		if e.current == s {
			e.current = nil
		}
		s.teardown(true)
	})
}

// do runs fn on the loop unless the session has ended.
func (s *Session) do(fn func() error) error {
	var err error
	if callErr := s.engine.loop.Call(func() {
		if s.closed {
			err = ErrClosed
			return
		}
		err = fn()
	}); callErr != nil {
		if callErr == loop.ErrStopped {
			return ErrClosed
		}
		return callErr
	}
	return err
}

// attach subscribes the store to a new connection's dispatcher.
func (s *Session) attach(d *dispatch.Dispatcher) {
	if s.scope != nil {
		s.scope.Release()
	}
	s.scope = s.store.Attach(d)
	s.logger.Debug("store attached to connection")
}

// teardown releases the session's resources. Must run on the loop.
func (s *Session) teardown(disconnect bool) {
	if s.closed {
		return
	}
	s.closed = true

	if s.scope != nil {
		s.scope.Release()
	}
	s.coal.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), pollerStopTimeout)
	if err := s.poller.Stop(ctx); err != nil {
		s.logger.Warn("resync poller did not stop", "error", err)
	}
	cancel()

	if disconnect {
		s.engine.manager.Disconnect()
	}
	s.logger.Debug("session torn down", "pending", s.counter.Value())
}

// resyncAllowed reports whether a REST snapshot may replace local state:
// no writes in flight and no live connection delivering broadcasts.
func (s *Session) resyncAllowed() bool {
	return s.counter.Idle() && s.engine.manager.Status().State != connection.StateOpen
}

// resync applies a polled snapshot on the loop, re-checking the gate there.
func (s *Session) resync(room model.Room) error {
	if !s.engine.loop.Post(func() {
		if s.closed || !s.resyncAllowed() {
			return
		}
		if err := s.store.LoadSnapshot(room); err != nil {
			s.logger.Debug("resync dropped", "error", err)
			return
		}
		s.logger.Info("room resynced from snapshot")
	}) {
		return loop.ErrStopped
	}
	return nil
}
