package core

import "time"

// Lifecycle topics emitted by Connect and Disconnect. Listeners receive the
// emitter id as data.
const (
	TopicConnected    = "connected"
	TopicDisconnected = "disconnected"
)

// Observation kinds used in Records.
const (
	KindRequest  = "request"
	KindResponse = "response"
)

// Envelope is the mutable pair handed to request and response observers.
// Observers may replace Data in place; the dispatcher forwards whatever Data
// holds once the chain returns.
type Envelope struct {
	CallID string
	Data   any
	OK     bool
}

// Record is the serializable form of an observation, used by the mirror and
// the journal.
type Record struct {
	ID        string    `json:"id"`
	Emitter   string    `json:"emitter"`
	Kind      string    `json:"kind"`
	Topic     string    `json:"topic"`
	OK        bool      `json:"ok"`
	State     CallState `json:"state,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
