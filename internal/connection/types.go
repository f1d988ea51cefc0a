package connection

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrConnectTimeout  = errors.New("connect timeout")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Close codes. Only CloseNormal is treated as intentional.
const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure
)

// Close reasons sent with CloseNormal.
const (
	ReasonSwitchingRooms = "Switching rooms"
	ReasonDisconnect     = "Room disconnection requested"
)

// User-facing error messages recorded in Status.LastError.
const (
	MsgConnectTimeout = "Connection timeout - please try again"
	MsgSocketError    = "Connection error occurred. Please check your network connection."
	MsgGaveUp         = "Connection failed after multiple attempts. Please try again later."
)

// State is the connection lifecycle state of a Manager.
type State string

const (
	StateAbsent       State = "absent"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// States lists every State, in lifecycle order.
var States = []State{StateAbsent, StateConnecting, StateOpen, StateReconnecting, StateClosed}

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// CloseEvent describes how the read side of a connection ended.
type CloseEvent struct {
	Code   int
	Reason string
	Err    error
}

// Intentional reports whether the peer closed with a normal closure.
func (e CloseEvent) Intentional() bool {
	return e.Code == CloseNormal
}

// Status is a point-in-time snapshot of a Manager.
type Status struct {
	State     State
	RoomID    int64
	Identity  string
	Attempts  int
	LastError string
	ConnID    uint64
}

// Connected reports whether the current connection is open.
func (s Status) Connected() bool {
	return s.State == StateOpen
}

// ClientConfig holds configuration for a single websocket client.
type ClientConfig struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	WSURL                string
	Token                string
	ConnectTimeout       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Client               ClientConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WSURL:                "ws://localhost:8080",
		ConnectTimeout:       5 * time.Second,
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 3,
		Client:               DefaultClientConfig(),
	}
}
