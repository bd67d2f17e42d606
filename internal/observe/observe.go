// Package observe attaches cross-cutting observers to an emitter: logging,
// a Redis mirror of the observation channels and a call journal.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/core"
	"github.com/jkyberneees/process-eventemitter/internal/emitter"
)

// Observable is the part of an emitter the observers need.
type Observable interface {
	ID() string
	On(pattern string, handler emitter.Handler) (*emitter.Listener, error)
	OnRequest(obs emitter.Observer)
	OnResponse(obs emitter.Observer)
}

var _ Observable = (*emitter.Emitter)(nil)

// stateOf maps a response envelope to the terminal call state.
func stateOf(env *core.Envelope) core.CallState {
	if env.OK {
		return core.StateSettled
	}
	if err, ok := env.Data.(error); ok && errors.Is(err, emitter.ErrTimeout) {
		return core.StateTimedOut
	}
	return core.StateRejected
}

// describe renders data for logs and JSON records; errors marshal to {}.
func describe(data any) any {
	if err, ok := data.(error); ok {
		return err.Error()
	}
	return data
}

func reasonOf(env *core.Envelope) string {
	if env.OK {
		return ""
	}
	return fmt.Sprint(describe(env.Data))
}

// sink runs side effects on one background goroutine so observers never
// block dispatch. A full queue drops work.
type sink struct {
	mu     sync.Mutex
	closed bool
	queue  chan func(context.Context)
	done   chan struct{}
	logger logrus.FieldLogger
}

func newSink(size int, logger logrus.FieldLogger) *sink {
	s := &sink{
		queue:  make(chan func(context.Context), size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s
}

func (s *sink) run() {
	defer close(s.done)
	ctx := context.Background()
	for job := range s.queue {
		job(ctx)
	}
}

func (s *sink) enqueue(job func(context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- job:
		return true
	default:
		s.logger.Warn("queue full, dropping observation")
		return false
	}
}

func (s *sink) close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
