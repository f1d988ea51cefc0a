package coalesce

import (
	"context"
	"log/slog"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/loop"
)

// Phase is the state of one throttled key.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseInFlight
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScheduled:
		return "scheduled"
	case PhaseInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Outcomes reported to the Observer.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Observer receives write outcomes per channel.
type Observer interface {
	ObserveWrite(channel, outcome string)
}

// SendFunc performs the request for key carrying v. It runs off the loop.
type SendFunc[K comparable, V any] func(ctx context.Context, key K, v V) error

// SettleFunc is called on the loop when the request for key settles.
type SettleFunc[K comparable, V any] func(key K, v V, err error)

// ThrottleConfig holds timing for a Throttle.
type ThrottleConfig struct {
	Window         time.Duration
	RequestTimeout time.Duration
}

type slot[V any] struct {
	phase Phase
	value V
	dirty bool
	timer *loop.Timer
}

// Throttle coalesces values per key: idle -> scheduled -> in flight -> idle.
//
// Submit (re)starts the key's idle window; when the window expires one
// request carrying the latest value is sent. Values submitted while a
// request is in flight are kept and sent in a new window after it settles.
// All methods must be called on the loop.
type Throttle[K comparable, V any] struct {
	name     string
	cfg      ThrottleConfig
	ctx      context.Context
	loop     *loop.Loop
	counter  *PendingCounter
	send     SendFunc[K, V]
	settle   SettleFunc[K, V]
	logger   *slog.Logger
	observer Observer

	slots     map[K]*slot[V]
	cancelled bool
	sent      int
}

// NewThrottle creates a Throttle. ctx bounds every request it sends.
func NewThrottle[K comparable, V any](
	ctx context.Context,
	name string,
	cfg ThrottleConfig,
	l *loop.Loop,
	counter *PendingCounter,
	send SendFunc[K, V],
	settle SettleFunc[K, V],
	logger *slog.Logger,
	observer Observer,
) *Throttle[K, V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle[K, V]{
		name:     name,
		cfg:      cfg,
		ctx:      ctx,
		loop:     l,
		counter:  counter,
		send:     send,
		settle:   settle,
		logger:   logger.With("channel", name),
		observer: observer,
		slots:    make(map[K]*slot[V]),
	}
}

// Submit records v as the latest value for key.
func (t *Throttle[K, V]) Submit(key K, v V) {
	if t.cancelled {
		return
	}

	s, ok := t.slots[key]
	if !ok {
		s = &slot[V]{}
		t.slots[key] = s
	}
	s.value = v
	s.dirty = true

	if s.phase == PhaseInFlight {
		return
	}
	t.schedule(key, s)
}

// Phase returns the current phase of key.
func (t *Throttle[K, V]) Phase(key K) Phase {
	if s, ok := t.slots[key]; ok {
		return s.phase
	}
	return PhaseIdle
}

// Queued returns the value waiting to be sent for key, if any.
func (t *Throttle[K, V]) Queued(key K) (V, bool) {
	s, ok := t.slots[key]
	if !ok || !s.dirty || t.cancelled {
		var zero V
		return zero, false
	}
	return s.value, true
}

// Sent returns how many requests have been dispatched.
func (t *Throttle[K, V]) Sent() int {
	return t.sent
}

// Cancel stops all scheduled windows. Requests already in flight run to
// completion and still settle the counter.
func (t *Throttle[K, V]) Cancel() {
	if t.cancelled {
		return
	}
	t.cancelled = true
	for key, s := range t.slots {
		s.timer.Stop()
		s.timer = nil
		if s.phase == PhaseScheduled {
			delete(t.slots, key)
		}
	}
}

func (t *Throttle[K, V]) schedule(key K, s *slot[V]) {
	s.timer.Stop()
	s.phase = PhaseScheduled
	s.timer = t.loop.AfterFunc(t.cfg.Window, func() {
		if t.cancelled || t.slots[key] != s {
			return
		}
		s.timer = nil
		t.dispatch(key, s)
	})
}

func (t *Throttle[K, V]) dispatch(key K, s *slot[V]) {
	v := s.value
	s.dirty = false
	s.phase = PhaseInFlight
	t.sent++
	t.counter.Inc()

	t.logger.Debug("dispatching write", "key", key, "pending", t.counter.Value())

	go func() {
		ctx := t.ctx
		if t.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.cfg.RequestTimeout)
			defer cancel()
		}
		err := t.send(ctx, key, v)

		if !t.loop.Post(func() { t.complete(key, s, v, err) }) {
			// Loop is gone; settle the counter anyway.
			t.counter.Dec()
		}
	}()
}

func (t *Throttle[K, V]) complete(key K, s *slot[V], v V, err error) {
	t.counter.Dec()

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
		t.logger.Warn("write failed", "key", key, "error", err)
	} else {
		t.logger.Debug("write settled", "key", key)
	}
	if t.observer != nil {
		t.observer.ObserveWrite(t.name, outcome)
	}

	// Results of a cancelled channel only settle the counter.
	if t.settle != nil && !t.cancelled {
		t.settle(key, v, err)
	}

	if t.slots[key] != s {
		return
	}
	if s.dirty && !t.cancelled {
		t.schedule(key, s)
		return
	}
	delete(t.slots, key)
}
