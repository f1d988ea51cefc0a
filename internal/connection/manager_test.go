package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/actuallyakshat/realtime-todos/internal/dispatch"
	"github.com/actuallyakshat/realtime-todos/internal/loop"
	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// dialRecord is one handshake attempt seen by roomServer.
type dialRecord struct {
	at       time.Time
	path     string
	username string
	accepted bool
}

// roomServer is a websocket server that records every dial and every
// close frame it receives.
type roomServer struct {
	*httptest.Server

	// accept decides whether the nth dial (1-based) is upgraded.
	accept func(n int) bool
	// onConn runs after upgrade. Returning false drops the connection
	// without a close frame.
	onConn func(n int, conn *websocket.Conn) bool

	mu     sync.Mutex
	dials  []dialRecord
	closes []websocket.CloseError
}

func newRoomServer(t *testing.T, accept func(int) bool, onConn func(int, *websocket.Conn) bool) *roomServer {
	t.Helper()

	rs := &roomServer{accept: accept, onConn: onConn}
	upgrader := websocket.Upgrader{}

	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		n := len(rs.dials) + 1
		ok := rs.accept == nil || rs.accept(n)
		rs.dials = append(rs.dials, dialRecord{
			at:       time.Now(),
			path:     r.URL.Path,
			username: r.URL.Query().Get("username"),
			accepted: ok,
		})
		rs.mu.Unlock()

		if !ok {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if rs.onConn != nil && !rs.onConn(n, conn) {
			return
		}
		if ce := drain(conn); ce != nil {
			rs.mu.Lock()
			rs.closes = append(rs.closes, *ce)
			rs.mu.Unlock()
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *roomServer) dialCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.dials)
}

func (rs *roomServer) dialLog() []dialRecord {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]dialRecord(nil), rs.dials...)
}

func (rs *roomServer) closeLog() []websocket.CloseError {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]websocket.CloseError(nil), rs.closes...)
}

// statusLog records every status reported through OnStatus.
type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (s *statusLog) record(st Status) {
	s.mu.Lock()
	s.statuses = append(s.statuses, st)
	s.mu.Unlock()
}

func (s *statusLog) errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, st := range s.statuses {
		if st.LastError != "" && (len(out) == 0 || out[len(out)-1] != st.LastError) {
			out = append(out, st.LastError)
		}
	}
	return out
}

func startLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l := loop.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testManagerConfig(server *httptest.Server) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.WSURL = wsURL(server)
	cfg.ConnectTimeout = time.Second
	cfg.ReconnectDelay = 50 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *loop.Loop, *statusLog) {
	t.Helper()
	l := startLoop(t)
	m := NewManager(cfg, l, nil)
	log := &statusLog{}
	m.OnStatus = log.record
	t.Cleanup(func() { l.Call(m.Disconnect) })
	return m, l, log
}

func call(t *testing.T, l *loop.Loop, fn func()) {
	t.Helper()
	if err := l.Call(fn); err != nil {
		t.Fatalf("loop call failed: %v", err)
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		base     string
		roomID   int64
		identity string
		want     string
	}{
		{"ws://localhost:8080", 42, "alice", "ws://localhost:8080/ws/42?username=alice"},
		{"ws://localhost:8080/", 7, "bob", "ws://localhost:8080/ws/7?username=bob"},
		{"wss://todos.example", 1, `o'brien "the" dev`, "wss://todos.example/ws/1?username=obrien+the+dev"},
		{"ws://h", 3, "a&b=c", "ws://h/ws/3?username=a%26b%3Dc"},
	}

	for _, tt := range tests {
		if got := BuildURL(tt.base, tt.roomID, tt.identity); got != tt.want {
			t.Errorf("BuildURL(%q, %d, %q) = %q, want %q", tt.base, tt.roomID, tt.identity, got, tt.want)
		}
	}
}

func TestManager_ConnectRoutesFrames(t *testing.T) {
	payload, _ := json.Marshal(model.Room{ID: 5, Name: "Renamed"})
	frame, _ := json.Marshal(model.Envelope{Type: model.MsgRoomNameUpdated, Payload: payload})

	server := newRoomServer(t, nil, func(n int, conn *websocket.Conn) bool {
		conn.WriteMessage(websocket.TextMessage, frame)
		return true
	})

	m, l, _ := newTestManager(t, testManagerConfig(server.Server))

	got := make(chan string, 1)
	var opened atomic.Int32
	m.OnOpen = func(roomID int64, d *dispatch.Dispatcher) {
		opened.Add(1)
		if roomID != 5 {
			t.Errorf("OnOpen roomID = %d, want 5", roomID)
		}
		d.Subscribe(model.MsgRoomNameUpdated, func(msg dispatch.Message) {
			var room model.Room
			json.Unmarshal(msg.Payload, &room)
			got <- room.Name
		})
	}

	call(t, l, func() { m.Connect(5, "alice") })

	select {
	case name := <-got:
		if name != "Renamed" {
			t.Errorf("name = %q, want Renamed", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for routed frame")
	}

	st := m.Status()
	if !st.Connected() || st.RoomID != 5 || st.Identity != "alice" {
		t.Errorf("Status = %+v, want open on room 5 as alice", st)
	}
	if opened.Load() != 1 {
		t.Errorf("OnOpen called %d times, want 1", opened.Load())
	}

	dials := server.dialLog()
	if len(dials) != 1 || dials[0].path != "/ws/5" || dials[0].username != "alice" {
		t.Errorf("dials = %+v, want one dial to /ws/5 as alice", dials)
	}
}

func TestManager_ConnectSameRoomIsNoop(t *testing.T) {
	server := newRoomServer(t, nil, nil)
	m, l, _ := newTestManager(t, testManagerConfig(server.Server))

	call(t, l, func() { m.Connect(1, "alice") })
	waitFor(t, 2*time.Second, "open", func() bool { return m.Status().Connected() })

	call(t, l, func() { m.Connect(1, "alice") })
	time.Sleep(50 * time.Millisecond)

	if n := server.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestManager_SwitchingRooms(t *testing.T) {
	server := newRoomServer(t, nil, nil)
	m, l, _ := newTestManager(t, testManagerConfig(server.Server))

	var mu sync.Mutex
	var dispatchers []*dispatch.Dispatcher
	m.OnOpen = func(_ int64, d *dispatch.Dispatcher) {
		mu.Lock()
		dispatchers = append(dispatchers, d)
		mu.Unlock()
	}

	call(t, l, func() { m.Connect(1, "alice") })
	waitFor(t, 2*time.Second, "room 1 open", func() bool { return m.Status().Connected() })

	call(t, l, func() { m.Connect(2, "alice") })
	waitFor(t, 2*time.Second, "room 2 open", func() bool {
		st := m.Status()
		return st.Connected() && st.RoomID == 2
	})
	waitFor(t, 2*time.Second, "close frame", func() bool { return len(server.closeLog()) == 1 })

	ce := server.closeLog()[0]
	if ce.Code != CloseNormal || ce.Text != ReasonSwitchingRooms {
		t.Errorf("close = %d %q, want %d %q", ce.Code, ce.Text, CloseNormal, ReasonSwitchingRooms)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dispatchers) != 2 {
		t.Fatalf("OnOpen called %d times, want 2", len(dispatchers))
	}
	if !dispatchers[0].Closed() {
		t.Error("dispatcher of replaced connection should be closed")
	}
	if dispatchers[1].Closed() {
		t.Error("dispatcher of live connection should be open")
	}

	dials := server.dialLog()
	if dials[0].path != "/ws/1" || dials[1].path != "/ws/2" {
		t.Errorf("dial paths = %q, %q", dials[0].path, dials[1].path)
	}
}

func TestManager_Disconnect(t *testing.T) {
	server := newRoomServer(t, nil, nil)
	m, l, _ := newTestManager(t, testManagerConfig(server.Server))

	var d *dispatch.Dispatcher
	m.OnOpen = func(_ int64, disp *dispatch.Dispatcher) { d = disp }

	call(t, l, func() { m.Connect(3, "alice") })
	waitFor(t, 2*time.Second, "open", func() bool { return m.Status().Connected() })

	call(t, l, m.Disconnect)
	waitFor(t, 2*time.Second, "close frame", func() bool { return len(server.closeLog()) == 1 })

	ce := server.closeLog()[0]
	if ce.Code != CloseNormal || ce.Text != ReasonDisconnect {
		t.Errorf("close = %d %q, want %d %q", ce.Code, ce.Text, CloseNormal, ReasonDisconnect)
	}

	st := m.Status()
	if st.State != StateAbsent || st.RoomID != 0 || st.LastError != "" {
		t.Errorf("Status after Disconnect = %+v, want absent", st)
	}

	var closed bool
	call(t, l, func() { closed = d.Closed() })
	if !closed {
		t.Error("dispatcher should be closed after Disconnect")
	}

	time.Sleep(100 * time.Millisecond)
	if n := server.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after intentional close)", n)
	}
}

func TestManager_ServerNormalCloseDoesNotReconnect(t *testing.T) {
	server := newRoomServer(t, nil, func(n int, conn *websocket.Conn) bool {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"),
			time.Now().Add(time.Second))
		drain(conn)
		return false
	})
	m, _, _ := newTestManager(t, testManagerConfig(server.Server))

	call(t, m.loop, func() { m.Connect(4, "alice") })
	waitFor(t, 2*time.Second, "closed", func() bool { return m.Status().State == StateClosed })

	time.Sleep(150 * time.Millisecond)

	if n := server.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if st := m.Status(); st.LastError != "" || st.Attempts != 0 {
		t.Errorf("Status = %+v, want no error and no attempts", st)
	}
}

func TestManager_ReconnectCeiling(t *testing.T) {
	var acceptAll atomic.Bool
	server := newRoomServer(t,
		func(n int) bool { return n == 1 || acceptAll.Load() },
		func(n int, conn *websocket.Conn) bool {
			if n == 1 {
				// Drop the first connection without a close frame.
				time.Sleep(20 * time.Millisecond)
				return false
			}
			return true
		},
	)

	cfg := testManagerConfig(server.Server)
	m, l, log := newTestManager(t, cfg)

	var opens atomic.Int32
	m.OnOpen = func(int64, *dispatch.Dispatcher) { opens.Add(1) }

	call(t, l, func() { m.Connect(9, "alice") })

	waitFor(t, 3*time.Second, "give up", func() bool {
		st := m.Status()
		return st.State == StateClosed && st.LastError == MsgGaveUp
	})

	// One successful dial, then exactly three reconnect attempts.
	time.Sleep(150 * time.Millisecond)
	dials := server.dialLog()
	if len(dials) != 4 {
		t.Fatalf("dials = %d, want 4", len(dials))
	}
	for i := 2; i < len(dials); i++ {
		gap := dials[i].at.Sub(dials[i-1].at)
		if gap < cfg.ReconnectDelay-10*time.Millisecond {
			t.Errorf("attempt %d came %v after the previous, want >= %v", i, gap, cfg.ReconnectDelay)
		}
	}
	if opens.Load() != 1 {
		t.Errorf("OnOpen called %d times, want 1", opens.Load())
	}

	want := []string{
		"Connection lost. Attempt 1/3 to reconnect...",
		MsgSocketError,
		"Connection lost. Attempt 2/3 to reconnect...",
		MsgSocketError,
		"Connection lost. Attempt 3/3 to reconnect...",
		MsgSocketError,
		MsgGaveUp,
	}
	got := log.errors()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("errors =\n  %q\nwant\n  %q", got, want)
	}

	// A fresh Connect after giving up starts over with a clean budget.
	acceptAll.Store(true)
	call(t, l, func() { m.Connect(9, "alice") })
	waitFor(t, 2*time.Second, "reopen", func() bool { return m.Status().Connected() })

	if st := m.Status(); st.Attempts != 0 || st.LastError != "" {
		t.Errorf("Status after reopen = %+v, want attempts 0 and no error", st)
	}
}

func TestManager_ReconnectSucceeds(t *testing.T) {
	server := newRoomServer(t, nil, func(n int, conn *websocket.Conn) bool {
		return n != 1
	})
	m, l, _ := newTestManager(t, testManagerConfig(server.Server))

	var opens atomic.Int32
	m.OnOpen = func(int64, *dispatch.Dispatcher) { opens.Add(1) }

	call(t, l, func() { m.Connect(2, "alice") })

	waitFor(t, 2*time.Second, "second open", func() bool {
		return opens.Load() == 2 && m.Status().Connected()
	})

	st := m.Status()
	if st.Attempts != 0 || st.LastError != "" {
		t.Errorf("Status = %+v, want attempts reset and error cleared on open", st)
	}
}

func TestManager_ConnectTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := testManagerConfig(server)
	cfg.ConnectTimeout = 50 * time.Millisecond
	cfg.MaxReconnectAttempts = 0

	m, l, log := newTestManager(t, cfg)

	call(t, l, func() { m.Connect(1, "alice") })
	waitFor(t, 2*time.Second, "closed", func() bool { return m.Status().State == StateClosed })

	got := log.errors()
	want := []string{MsgConnectTimeout, MsgGaveUp}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("errors = %q, want %q", got, want)
	}
}

func TestManager_SwitchCancelsPendingReconnect(t *testing.T) {
	server := newRoomServer(t, nil, func(n int, conn *websocket.Conn) bool {
		return n != 1
	})

	cfg := testManagerConfig(server.Server)
	cfg.ReconnectDelay = 200 * time.Millisecond
	m, l, _ := newTestManager(t, cfg)

	call(t, l, func() { m.Connect(1, "alice") })
	waitFor(t, 2*time.Second, "reconnecting", func() bool { return m.Status().State == StateReconnecting })

	call(t, l, func() { m.Connect(2, "alice") })
	waitFor(t, 2*time.Second, "room 2 open", func() bool {
		st := m.Status()
		return st.Connected() && st.RoomID == 2
	})

	time.Sleep(300 * time.Millisecond)
	for _, d := range server.dialLog()[1:] {
		if d.path != "/ws/2" {
			t.Errorf("unexpected dial to %s after switching rooms", d.path)
		}
	}
}

type countingObserver struct {
	mu         sync.Mutex
	states     []State
	reconnects int
	frames     int
}

func (o *countingObserver) ObserveFrame(kind, outcome string) {
	o.mu.Lock()
	o.frames++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveState(s State) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *countingObserver) ObserveReconnectAttempt() {
	o.mu.Lock()
	o.reconnects++
	o.mu.Unlock()
}

func TestManager_Observer(t *testing.T) {
	server := newRoomServer(t, nil, func(n int, conn *websocket.Conn) bool {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"room_deleted","payload":{}}`))
		return true
	})

	obs := &countingObserver{}
	l := startLoop(t)
	m := NewManager(testManagerConfig(server.Server), l, nil, WithObserver(obs))
	t.Cleanup(func() { l.Call(m.Disconnect) })

	call(t, l, func() { m.Connect(1, "alice") })
	waitFor(t, 2*time.Second, "frame observed", func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.frames == 1
	})

	call(t, l, m.Disconnect)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []State{StateConnecting, StateOpen, StateAbsent}
	if len(obs.states) != len(want) {
		t.Fatalf("states = %v, want %v", obs.states, want)
	}
	for i := range want {
		if obs.states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, obs.states[i], want[i])
		}
	}
}

// failingClient never connects.
type failingClient struct {
	err error
}

func (c *failingClient) Connect(context.Context) error { return c.err }
func (c *failingClient) Close(int, string) error { return nil }
func (c *failingClient) Frames() <-chan TimestampedMessage { return nil }
func (c *failingClient) Closed() <-chan CloseEvent { return nil }
func (c *failingClient) IsConnected() bool { return false }

func TestManager_DialerOverride(t *testing.T) {
	l := startLoop(t)
	boom := errors.New("boom")

	cfg := DefaultManagerConfig()
	cfg.WSURL = "ws://unused"
	cfg.MaxReconnectAttempts = 0

	var urls []string
	m := NewManager(cfg, l, nil, WithDialer(func(c ClientConfig, _ *slog.Logger) Client {
		urls = append(urls, c.URL)
		return &failingClient{err: boom}
	}))

	call(t, l, func() { m.Connect(8, "carol") })
	waitFor(t, time.Second, "closed", func() bool { return m.Status().State == StateClosed })

	if len(urls) != 1 || urls[0] != "ws://unused/ws/8?username=carol" {
		t.Errorf("dialed %q", urls)
	}
}
