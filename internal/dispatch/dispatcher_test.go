package dispatch

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveFrame(kind, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, kind+":"+outcome)
}

func frame(t *testing.T, kind model.MessageType, payload any) []byte {
	t.Helper()
	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(model.Envelope{Type: kind, Payload: p})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestDispatcher_RoutesByType(t *testing.T) {
	d := New(nil, nil)

	var got []model.MessageType
	d.Subscribe(model.MsgTodosUpdated, func(m Message) { got = append(got, m.Type) })
	d.Subscribe(model.MsgRoomNameUpdated, func(m Message) { got = append(got, m.Type) })

	d.Dispatch(frame(t, model.MsgTodosUpdated, model.Room{ID: 1}), time.Now())
	d.Dispatch(frame(t, model.MsgRoomNameUpdated, model.Room{ID: 1, Name: "x"}), time.Now())
	d.Dispatch(frame(t, model.MsgUserJoined, model.Room{ID: 1}), time.Now())

	if len(got) != 2 || got[0] != model.MsgTodosUpdated || got[1] != model.MsgRoomNameUpdated {
		t.Errorf("got %v", got)
	}

	stats := d.Stats()
	if stats.Received != 3 {
		t.Errorf("Received = %d, want 3", stats.Received)
	}
	if stats.Routed != 2 {
		t.Errorf("Routed = %d, want 2", stats.Routed)
	}
}

func TestDispatcher_PayloadDelivered(t *testing.T) {
	d := New(nil, nil)

	var room model.Room
	d.Subscribe(model.MsgRoomNameUpdated, func(m Message) {
		if err := json.Unmarshal(m.Payload, &room); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
	})

	d.Dispatch(frame(t, model.MsgRoomNameUpdated, model.Room{ID: 4, Name: "renamed"}), time.Now())

	if room.ID != 4 || room.Name != "renamed" {
		t.Errorf("room = %+v", room)
	}
}

func TestDispatcher_RegistrationOrder(t *testing.T) {
	d := New(nil, nil)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		d.Subscribe(model.MsgUserJoined, func(Message) { order = append(order, i) })
	}

	d.Dispatch(frame(t, model.MsgUserJoined, model.Room{}), time.Now())

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("len(order) = %d, want 5", len(order))
	}
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := New(nil, nil)

	calls := 0
	unsub := d.Subscribe(model.MsgUserLeft, func(Message) { calls++ })
	d.Dispatch(frame(t, model.MsgUserLeft, model.Room{}), time.Now())

	unsub()
	unsub() // idempotent
	d.Dispatch(frame(t, model.MsgUserLeft, model.Room{}), time.Now())

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := d.Subscribers(model.MsgUserLeft); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

func TestDispatcher_MalformedFramesDropped(t *testing.T) {
	obs := &recordingObserver{}
	d := New(nil, obs)

	calls := 0
	d.Subscribe(model.MsgTodosUpdated, func(Message) { calls++ })

	frames := [][]byte{
		[]byte(`not json`),
		[]byte(`{"payload": {}}`),
		[]byte(`{"type": 5}`),
	}
	for _, f := range frames {
		d.Dispatch(f, time.Now())
	}

	// A good frame after bad ones is still delivered.
	d.Dispatch(frame(t, model.MsgTodosUpdated, model.Room{}), time.Now())

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if pe := d.Stats().ParseErrors; pe != 3 {
		t.Errorf("ParseErrors = %d, want 3", pe)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.outcomes) != 4 || obs.outcomes[0] != ":"+OutcomeDecodeError || obs.outcomes[3] != "todos_updated:"+OutcomeRouted {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestDispatcher_UnknownType(t *testing.T) {
	d := New(nil, nil)
	d.Dispatch([]byte(`{"type":"ping","payload":null}`), time.Now())

	if u := d.Stats().Unknown; u != 1 {
		t.Errorf("Unknown = %d, want 1", u)
	}
}

func TestDispatcher_CloseMakesInert(t *testing.T) {
	d := New(nil, nil)

	calls := 0
	d.Subscribe(model.MsgTodosUpdated, func(Message) { calls++ })
	d.Close()

	d.Dispatch(frame(t, model.MsgTodosUpdated, model.Room{}), time.Now())
	d.Subscribe(model.MsgTodosUpdated, func(Message) { calls++ })()
	d.Dispatch(frame(t, model.MsgTodosUpdated, model.Room{}), time.Now())

	if calls != 0 {
		t.Errorf("calls = %d after Close, want 0", calls)
	}
	if !d.Closed() {
		t.Error("Closed() = false")
	}
}

func TestDispatcher_HandlerClosingStopsDelivery(t *testing.T) {
	d := New(nil, nil)

	second := false
	d.Subscribe(model.MsgRoomDeleted, func(Message) { d.Close() })
	d.Subscribe(model.MsgRoomDeleted, func(Message) { second = true })

	d.Dispatch(frame(t, model.MsgRoomDeleted, model.Room{}), time.Now())

	if second {
		t.Error("handler ran after dispatcher was closed mid-delivery")
	}
}

func TestScope_Release(t *testing.T) {
	d := New(nil, nil)
	s := NewScope()

	calls := 0
	for _, k := range model.MessageTypes {
		s.Subscribe(d, k, func(Message) { calls++ })
	}
	if s.Len() != len(model.MessageTypes) {
		t.Fatalf("Len() = %d", s.Len())
	}

	s.Release()
	s.Release()

	for _, k := range model.MessageTypes {
		d.Dispatch(frame(t, k, model.Room{}), time.Now())
	}
	if calls != 0 {
		t.Errorf("calls = %d after Release, want 0", calls)
	}

	s.Subscribe(d, model.MsgUserJoined, func(Message) { calls++ })
	if d.Subscribers(model.MsgUserJoined) != 0 {
		t.Error("released scope accepted a new subscription")
	}
}
