package emitter

import (
	"errors"
	"fmt"

	"github.com/jkyberneees/process-eventemitter/internal/pending"
)

// Sentinel errors returned by the emitter.
var (
	// ErrNoListener is returned by emit-to-one when nothing listens on the topic.
	ErrNoListener = errors.New("no-listener")

	// ErrTimeout is returned when no listener settled the call in time.
	ErrTimeout = pending.ErrTimeout

	// ErrInvalidTopic is returned when a topic or pattern is empty or malformed.
	ErrInvalidTopic = errors.New("emitter: invalid topic")

	// ErrInvalidTimeout is returned for negative timeouts.
	ErrInvalidTimeout = errors.New("emitter: negative timeout")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("emitter: handler cannot be nil")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("emitter: closed")
)

// RejectError carries an application rejection reason that is not itself an
// error value.
type RejectError struct {
	Topic  string
	Reason any
}

func (e *RejectError) Error() string {
	return fmt.Sprint(e.Reason)
}

// rejection turns the final rejection data into the error seen by the caller.
func rejection(topic string, reason any) error {
	if err, ok := reason.(error); ok {
		return err
	}
	return &RejectError{Topic: topic, Reason: reason}
}

// Reason extracts the raw rejection reason from err. Errors that are not
// RejectErrors are their own reason.
func Reason(err error) any {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return err
}

// panicMessage mirrors what a thrown error would report as its message.
func panicMessage(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}
