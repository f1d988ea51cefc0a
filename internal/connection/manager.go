package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/actuallyakshat/realtime-todos/internal/dispatch"
	"github.com/actuallyakshat/realtime-todos/internal/loop"
)

// Observer receives connection lifecycle events. It also observes frames
// routed by every per-connection dispatcher.
type Observer interface {
	dispatch.Observer
	ObserveState(state State)
	ObserveReconnectAttempt()
}

// conn tracks one physical connection attempt. Fields are owned by the loop.
type conn struct {
	id         uint64
	roomID     int64
	identity   string
	client     Client
	dispatcher *dispatch.Dispatcher
	cancelDial context.CancelFunc
	timeout    *loop.Timer
	stop       chan struct{}
	open       bool
	finished   bool
}

// Manager maintains at most one live connection for a single identity.
//
// Connect, Disconnect and the hooks run on the loop. Status may be read
// from any goroutine.
type Manager struct {
	cfg      ManagerConfig
	loop     *loop.Loop
	logger   *slog.Logger
	dial     Dialer
	observer Observer

	// Loop-owned state
	current  *conn
	roomID   int64
	identity string
	attempts int
	retry    *loop.Timer
	seq      uint64

	// OnOpen is called for every newly opened connection, including
	// reconnections, with the dispatcher that will route its frames.
	OnOpen func(roomID int64, d *dispatch.Dispatcher)

	// OnStatus is called whenever the status changes.
	OnStatus func(Status)

	mu     sync.RWMutex
	status Status
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer overrides how clients are created.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) { m.dial = d }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a Manager bound to l.
func NewManager(cfg ManagerConfig, l *loop.Loop, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		loop:   l,
		logger: logger,
		dial:   NewClient,
		status: Status{State: StateAbsent},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns a snapshot of the connection status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Connect opens a connection to roomID as identity. A live connection to a
// different room or identity is closed with "Switching rooms" first. Calling
// Connect for the room that is already live is a no-op.
func (m *Manager) Connect(roomID int64, identity string) {
	if m.current != nil {
		if m.current.roomID == roomID && m.current.identity == identity {
			return
		}
		m.closeCurrent(CloseNormal, ReasonSwitchingRooms)
	}
	m.retry.Stop()
	m.retry = nil

	m.roomID = roomID
	m.identity = identity
	m.attempts = 0
	m.open()
}

// Disconnect closes the connection with "Room disconnection requested" and
// clears all room state.
func (m *Manager) Disconnect() {
	m.retry.Stop()
	m.retry = nil
	if m.current != nil {
		m.closeCurrent(CloseNormal, ReasonDisconnect)
	}

	m.logger.Info("disconnected", "room_id", m.roomID)

	m.roomID = 0
	m.identity = ""
	m.attempts = 0
	m.setStatus(Status{State: StateAbsent})
}

// open dials the current target in a goroutine and arms the connect timeout.
func (m *Manager) open() {
	m.seq++
	c := &conn{
		id:       m.seq,
		roomID:   m.roomID,
		identity: m.identity,
		stop:     make(chan struct{}),
	}

	clientCfg := m.cfg.Client
	clientCfg.URL = BuildURL(m.cfg.WSURL, m.roomID, m.identity)
	clientCfg.Token = m.cfg.Token
	logger := m.logger.With("conn_id", c.id, "room_id", c.roomID)
	c.client = m.dial(clientCfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	m.current = c

	state := StateConnecting
	if m.attempts > 0 {
		state = StateReconnecting
	}
	m.updateStatus(func(s *Status) {
		s.State = state
		s.RoomID = c.roomID
		s.Identity = c.identity
		s.Attempts = m.attempts
		s.ConnID = c.id
	})

	if m.cfg.ConnectTimeout > 0 {
		c.timeout = m.loop.AfterFunc(m.cfg.ConnectTimeout, func() {
			if c.open || c.finished {
				return
			}
			logger.Warn("connect timeout", "timeout", m.cfg.ConnectTimeout)
			m.setError(MsgConnectTimeout)
			m.handleClose(c, CloseEvent{Code: CloseAbnormal, Err: ErrConnectTimeout})
		})
	}

	logger.Debug("connecting", "attempt", m.attempts)

	go func() {
		err := c.client.Connect(ctx)
		m.loop.Post(func() {
			if err != nil {
				if c.finished {
					return
				}
				logger.Warn("connect failed", "error", err)
				m.setError(MsgSocketError)
				m.handleClose(c, CloseEvent{Code: CloseAbnormal, Err: err})
				return
			}
			m.handleOpen(c)
		})
	}()
}

func (m *Manager) handleOpen(c *conn) {
	if c.finished || m.current != c {
		// Superseded while dialing.
		go c.client.Close(CloseNormal, ReasonSwitchingRooms)
		return
	}

	c.timeout.Stop()
	c.open = true
	m.attempts = 0
	c.dispatcher = dispatch.New(m.logger.With("conn_id", c.id, "room_id", c.roomID), m.observer)

	m.updateStatus(func(s *Status) {
		s.State = StateOpen
		s.Attempts = 0
		s.LastError = ""
	})
	m.logger.Info("connected", "room_id", c.roomID, "conn_id", c.id)

	go m.pump(c)

	if m.OnOpen != nil {
		m.OnOpen(c.roomID, c.dispatcher)
	}
}

// pump forwards frames and the close event of c onto the loop, in order.
func (m *Manager) pump(c *conn) {
	post := func(msg TimestampedMessage) {
		m.loop.Post(func() {
			if c.finished {
				return
			}
			c.dispatcher.Dispatch(msg.Data, msg.ReceivedAt)
		})
	}

	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.client.Frames():
			post(msg)
		case ev := <-c.client.Closed():
			// Frames read before the close must be routed before it.
		drain:
			for {
				select {
				case msg := <-c.client.Frames():
					post(msg)
				default:
					break drain
				}
			}
			m.loop.Post(func() { m.handleClose(c, ev) })
			return
		}
	}
}

// handleClose processes the end of c. Only the first call per connection
// has any effect.
func (m *Manager) handleClose(c *conn, ev CloseEvent) {
	if c.finished {
		return
	}
	m.finish(c)
	go c.client.Close(CloseNormal, "")

	if m.current != c {
		return
	}
	m.current = nil

	logger := m.logger.With("conn_id", c.id, "room_id", c.roomID)

	if ev.Intentional() {
		logger.Info("connection closed by server", "reason", ev.Reason)
		m.updateStatus(func(s *Status) { s.State = StateClosed })
		return
	}

	if m.attempts < m.cfg.MaxReconnectAttempts {
		m.attempts++
		msg := fmt.Sprintf("Connection lost. Attempt %d/%d to reconnect...", m.attempts, m.cfg.MaxReconnectAttempts)
		logger.Warn("connection lost, scheduling reconnect",
			"code", ev.Code,
			"error", ev.Err,
			"attempt", m.attempts,
			"delay", m.cfg.ReconnectDelay,
		)
		m.updateStatus(func(s *Status) {
			s.State = StateReconnecting
			s.Attempts = m.attempts
			s.LastError = msg
		})
		if m.observer != nil {
			m.observer.ObserveReconnectAttempt()
		}

		roomID, identity := c.roomID, c.identity
		m.retry = m.loop.AfterFunc(m.cfg.ReconnectDelay, func() {
			m.retry = nil
			if m.current != nil || m.roomID != roomID || m.identity != identity {
				return
			}
			m.open()
		})
		return
	}

	logger.Error("giving up on connection",
		"code", ev.Code,
		"error", ev.Err,
		"attempts", m.attempts,
	)
	m.updateStatus(func(s *Status) {
		s.State = StateClosed
		s.LastError = MsgGaveUp
	})
}

// closeCurrent closes the live connection on purpose. No reconnect follows.
func (m *Manager) closeCurrent(code int, reason string) {
	c := m.current
	m.current = nil
	m.finish(c)
	m.logger.Info("closing connection", "conn_id", c.id, "room_id", c.roomID, "reason", reason)
	go c.client.Close(code, reason)
}

// finish marks c as done and makes its dispatcher inert.
func (m *Manager) finish(c *conn) {
	c.finished = true
	c.timeout.Stop()
	c.cancelDial()
	close(c.stop)
	if c.dispatcher != nil {
		c.dispatcher.Close()
	}
}

func (m *Manager) setError(msg string) {
	m.updateStatus(func(s *Status) { s.LastError = msg })
}

func (m *Manager) updateStatus(fn func(*Status)) {
	m.mu.Lock()
	s := m.status
	fn(&s)
	m.mu.Unlock()
	m.setStatus(s)
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	prev := m.status
	m.status = s
	m.mu.Unlock()

	if prev == s {
		return
	}
	if m.observer != nil && prev.State != s.State {
		m.observer.ObserveState(s.State)
	}
	if m.OnStatus != nil {
		m.OnStatus(s)
	}
}

// BuildURL returns the room websocket endpoint for identity. Quote
// characters are stripped from the username before escaping.
func BuildURL(base string, roomID int64, identity string) string {
	username := strings.NewReplacer(`'`, "", `"`, "").Replace(identity)
	q := url.Values{"username": {username}}
	return strings.TrimRight(base, "/") + "/ws/" + strconv.FormatInt(roomID, 10) + "?" + q.Encode()
}
