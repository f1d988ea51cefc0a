package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// RoomSource fetches room snapshots.
type RoomSource interface {
	GetRoom(ctx context.Context, roomID int64) (model.Room, error)
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(room model.Room) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(model.Room) error

func (f SnapshotHandlerFunc) HandleSnapshot(r model.Room) error {
	return f(r)
}

// Gate reports whether a resync may run now. It must be safe to call from
// any goroutine.
type Gate func() bool

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval; zero disables the poller
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Polls   int64
	Skipped int64
	Errors  int64
}

// Poller periodically resyncs one room via the REST API.
type Poller struct {
	cfg     Config
	roomID  int64
	source  RoomSource
	gate    Gate
	handler SnapshotHandler
	logger  *slog.Logger

	polls   atomic.Int64
	skipped atomic.Int64
	errors  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. A nil gate always allows polling.
func New(cfg Config, roomID int64, source RoomSource, gate Gate, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:     cfg,
		roomID:  roomID,
		source:  source,
		gate:    gate,
		handler: handler,
		logger:  logger.With("room_id", roomID),
	}
}

// Start begins the polling loop. It is a no-op when the interval is zero.
func (p *Poller) Start(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("resync poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("resync poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of poller statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:   p.polls.Load(),
		Skipped: p.skipped.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop. The room was loaded on entry, so the first
// poll waits a full interval.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll fetches and hands off one snapshot if the gate allows.
func (p *Poller) poll() {
	if p.gate != nil && !p.gate() {
		p.skipped.Add(1)
		p.logger.Debug("resync skipped")
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	room, err := p.source.GetRoom(ctx, p.roomID)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.errors.Add(1)
		p.logger.Warn("failed to fetch room snapshot", "error", err)
		return
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(room); err != nil {
			p.errors.Add(1)
			p.logger.Warn("failed to apply room snapshot", "error", err)
			return
		}
	}

	p.polls.Add(1)
	p.logger.Debug("resync complete",
		"users", len(room.Users),
		"duration", time.Since(start),
	)
}
