package coalesce

import (
	"context"
	"log/slog"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/loop"
	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// Channel names.
const (
	ChannelReorder = "reorder"
	ChannelToggle  = "toggle"
)

// Writer sends coalesced mutations to the server.
type Writer interface {
	PatchTodoOrder(ctx context.Context, roomID int64, updates []model.OrderUpdate) error
	PatchTodoCompletion(ctx context.Context, roomID, todoID int64, completed bool) error
}

// Config holds Coalescer timing.
type Config struct {
	ThrottleInterval time.Duration
	RequestTimeout   time.Duration
}

// DefaultConfig returns the 500ms write window.
func DefaultConfig() Config {
	return Config{
		ThrottleInterval: 500 * time.Millisecond,
		RequestTimeout:   10 * time.Second,
	}
}

// ReorderIntent is the full ordering of one user's todos.
type ReorderIntent struct {
	UserID  int64
	Updates []model.OrderUpdate
}

// Coalescer owns the reorder and completion-toggle channels of one room.
// All methods must be called on the loop.
type Coalescer struct {
	roomID  int64
	counter *PendingCounter
	logger  *slog.Logger

	reorder *Throttle[int64, ReorderIntent]
	toggle  *Throttle[int64, bool]

	// OnReorderSettled is called on the loop when a reorder request settles.
	// err is nil when the server accepted the ordering.
	OnReorderSettled func(userID int64, updates []model.OrderUpdate, err error)
}

// New creates a Coalescer for roomID. ctx bounds every request.
func New(
	ctx context.Context,
	roomID int64,
	cfg Config,
	l *loop.Loop,
	w Writer,
	counter *PendingCounter,
	logger *slog.Logger,
	observer Observer,
) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room_id", roomID)

	c := &Coalescer{
		roomID:  roomID,
		counter: counter,
		logger:  logger,
	}

	tcfg := ThrottleConfig{Window: cfg.ThrottleInterval, RequestTimeout: cfg.RequestTimeout}

	c.reorder = NewThrottle(ctx, ChannelReorder, tcfg, l, counter,
		func(ctx context.Context, roomID int64, in ReorderIntent) error {
			return w.PatchTodoOrder(ctx, roomID, in.Updates)
		},
		func(_ int64, in ReorderIntent, err error) {
			if c.OnReorderSettled != nil {
				c.OnReorderSettled(in.UserID, in.Updates, err)
			}
		},
		logger, observer,
	)

	c.toggle = NewThrottle(ctx, ChannelToggle, tcfg, l, counter,
		func(ctx context.Context, todoID int64, completed bool) error {
			return w.PatchTodoCompletion(ctx, roomID, todoID, completed)
		},
		nil,
		logger, observer,
	)

	return c
}

// Reorder queues the full ordering of userID's todos.
func (c *Coalescer) Reorder(userID int64, updates []model.OrderUpdate) {
	c.reorder.Submit(c.roomID, ReorderIntent{
		UserID:  userID,
		Updates: append([]model.OrderUpdate(nil), updates...),
	})
}

// Toggle queues the completion flag of todoID.
func (c *Coalescer) Toggle(todoID int64, completed bool) {
	c.toggle.Submit(todoID, completed)
}

// ReorderQueued reports whether a reorder for userID is waiting to be sent.
func (c *Coalescer) ReorderQueued(userID int64) bool {
	in, ok := c.reorder.Queued(c.roomID)
	return ok && in.UserID == userID
}

// Cancel stops all scheduled writes. In-flight writes settle normally.
func (c *Coalescer) Cancel() {
	c.reorder.Cancel()
	c.toggle.Cancel()
}

// Pending returns the number of writes in flight for the room.
func (c *Coalescer) Pending() int {
	return c.counter.Value()
}

// ReorderPhase returns the reorder channel's phase.
func (c *Coalescer) ReorderPhase() Phase {
	return c.reorder.Phase(c.roomID)
}

// TogglePhase returns the toggle channel's phase for todoID.
func (c *Coalescer) TogglePhase(todoID int64) Phase {
	return c.toggle.Phase(todoID)
}
