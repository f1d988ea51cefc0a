package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher routes decoded envelopes to subscribers by message type.
type Dispatcher struct {
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	nextID uint64
	subs   map[model.MessageType][]subscription
	closed bool

	// Stats
	received    int64
	routed      int64
	parseErrors int64
	unknown     int64
}

// New creates a Dispatcher. observer may be nil.
func New(logger *slog.Logger, observer Observer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		observer: observer,
		subs:     make(map[model.MessageType][]subscription),
	}
}

// Subscribe registers handler for kind and returns the action that removes it.
// Subscribing to a closed dispatcher is a no-op.
func (d *Dispatcher) Subscribe(kind model.MessageType, handler Handler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return func() {}
	}

	d.nextID++
	id := d.nextID
	d.subs[kind] = append(d.subs[kind], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(kind, id) })
	}
}

func (d *Dispatcher) remove(kind model.MessageType, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[kind]
	for i, s := range subs {
		if s.id == id {
			// Copy so an in-progress dispatch keeps its snapshot intact.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			d.subs[kind] = next
			break
		}
	}
	if len(d.subs[kind]) == 0 {
		delete(d.subs, kind)
	}
}

// Dispatch decodes one frame and invokes the matching handlers synchronously.
func (d *Dispatcher) Dispatch(data []byte, receivedAt time.Time) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.observe("", OutcomeInert)
		return
	}
	d.received++
	d.mu.Unlock()

	env, err := decode(data)
	if err != nil {
		d.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
		d.mu.Lock()
		d.parseErrors++
		d.mu.Unlock()
		d.observe("", OutcomeDecodeError)
		return
	}

	if !env.Type.Known() {
		d.logger.Debug("skipping message type", "type", env.Type)
		d.mu.Lock()
		d.unknown++
		d.mu.Unlock()
		d.observe(string(env.Type), OutcomeUnknown)
		return
	}

	d.mu.Lock()
	handlers := d.subs[env.Type]
	if len(handlers) > 0 {
		d.routed++
	}
	d.mu.Unlock()

	if len(handlers) == 0 {
		d.logger.Debug("no subscribers for message", "type", env.Type)
		d.observe(string(env.Type), OutcomeUnhandled)
		return
	}

	msg := Message{Type: env.Type, Payload: env.Payload, ReceivedAt: receivedAt}
	for _, s := range handlers {
		// A handler may close the dispatcher (e.g. on room_deleted).
		if d.Closed() {
			break
		}
		s.handler(msg)
	}
	d.observe(string(env.Type), OutcomeRouted)
}

// Close makes the dispatcher inert: no handler runs after Close returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.subs = make(map[model.MessageType][]subscription)
}

// Closed reports whether Close has been called.
func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Subscribers returns the number of handlers registered for kind.
func (d *Dispatcher) Subscribers(kind model.MessageType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[kind])
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Received:    d.received,
		Routed:      d.routed,
		ParseErrors: d.parseErrors,
		Unknown:     d.unknown,
	}
}

func (d *Dispatcher) observe(kind, outcome string) {
	if d.observer != nil {
		d.observer.ObserveFrame(kind, outcome)
	}
}

// decode parses the envelope of a frame.
func decode(data []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return model.Envelope{}, ErrEmptyType
	}
	return env, nil
}
