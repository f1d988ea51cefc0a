package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/actuallyakshat/realtime-todos/internal/model"
)

// Errors
var (
	ErrEmptyType = errors.New("envelope has no type")
)

// Frame outcomes reported to an Observer.
const (
	OutcomeRouted      = "routed"
	OutcomeUnhandled   = "unhandled"
	OutcomeUnknown     = "unknown"
	OutcomeDecodeError = "decode_error"
	OutcomeInert       = "inert"
)

// Message is a decoded broadcast delivered to handlers.
type Message struct {
	Type       model.MessageType
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Handler receives messages of the kind it subscribed to.
type Handler func(Message)

// Observer is notified of every frame the dispatcher sees.
type Observer interface {
	ObserveFrame(kind string, outcome string)
}

// Stats contains runtime statistics.
type Stats struct {
	Received    int64
	Routed      int64
	ParseErrors int64
	Unknown     int64
}
