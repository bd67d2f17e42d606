// Package emitter implements an in-process publish/subscribe emitter with
// wildcard topics and a request/response path that targets exactly one
// listener per call.
package emitter

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/core"
	"github.com/jkyberneees/process-eventemitter/internal/loop"
	"github.com/jkyberneees/process-eventemitter/internal/pending"
	"github.com/jkyberneees/process-eventemitter/internal/topic"
)

// Settle completes a call successfully with value.
type Settle func(value any)

// Reject fails a call with reason.
type Reject func(reason any)

// Handler is a listener callback. Broadcast deliveries receive no-op settle
// and reject functions.
//
// Handlers run on the emitter's loop goroutine. Waiting on the same emitter
// (Call.Wait, EmitToOne, Connect, Disconnect) is allowed and keeps the loop
// running; blocking on anything else stalls every call of the emitter.
type Handler func(data any, settle Settle, reject Reject, raw any)

// Observer sees every request before its listener runs and every response
// before the caller is completed. It may replace env.Data in place.
type Observer func(topic string, env *core.Envelope, raw any)

// Listener is a registered handler.
type Listener struct {
	handler Handler
	ptr     uintptr
	entry   *topic.Entry[*Listener]
}

// Pattern returns the topic pattern the listener was registered with.
func (l *Listener) Pattern() string { return string(l.entry.Pattern) }

// Once reports whether the listener is removed after its first delivery.
func (l *Listener) Once() bool { return l.entry.Once }

// Emitter is a single process event emitter. Listener invocations, timer
// expiry, settlements and observer chains all run on one loop goroutine, so
// they never execute in parallel.
type Emitter struct {
	id      string
	logger  logrus.FieldLogger
	matcher topic.Matcher[*Listener]
	calls   *pending.Registry
	loop    *loop.Loop
	closed  atomic.Bool

	obsMu    sync.RWMutex
	requests []Observer
	replies  []Observer
}

// New creates and starts an emitter.
func New(opts ...Option) *Emitter {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}
	if cfg.logger == nil {
		cfg.logger = logrus.StandardLogger()
	}
	if cfg.matcher == nil {
		cfg.matcher = topic.NewTrie[*Listener]()
	}

	logger := cfg.logger.WithField("emitter", cfg.id)
	e := &Emitter{
		id:      cfg.id,
		logger:  logger,
		matcher: cfg.matcher,
		loop:    loop.New(logger),
	}
	e.calls = pending.New(pending.WithDispatch(e.dispatch))
	e.loop.Start()
	return e
}

// ID returns the process unique instance id.
func (e *Emitter) ID() string { return e.id }

// On registers handler for pattern.
func (e *Emitter) On(pattern string, handler Handler) (*Listener, error) {
	return e.register(pattern, handler, false)
}

// Once registers handler for a single delivery.
func (e *Emitter) Once(pattern string, handler Handler) (*Listener, error) {
	return e.register(pattern, handler, true)
}

func (e *Emitter) register(pattern string, handler Handler, once bool) (*Listener, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}
	l := &Listener{handler: handler, ptr: reflect.ValueOf(handler).Pointer()}
	entry, err := e.matcher.Register(topic.Topic(pattern), l, once)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	l.entry = entry
	return l, nil
}

// RemoveListener removes the earliest listener on pattern registered with the
// same function. Function identity is the code pointer, so distinct closures
// created from one literal are indistinguishable; use Off for exact removal.
func (e *Emitter) RemoveListener(pattern string, handler Handler) bool {
	if handler == nil {
		return false
	}
	ptr := reflect.ValueOf(handler).Pointer()
	return e.matcher.RemoveFunc(topic.Topic(pattern), func(l *Listener) bool {
		return l.ptr == ptr
	})
}

// Off removes exactly l.
func (e *Emitter) Off(l *Listener) bool {
	if l == nil {
		return false
	}
	return e.matcher.Unregister(l.entry)
}

// ListenerCount returns how many listeners currently match topic.
func (e *Emitter) ListenerCount(t string) int {
	return len(e.matcher.Resolve(topic.Topic(t)))
}

// OnRequest appends an observer to the request channel.
func (e *Emitter) OnRequest(obs Observer) {
	if obs == nil {
		return
	}
	e.obsMu.Lock()
	e.requests = append(e.requests, obs)
	e.obsMu.Unlock()
}

// OnResponse appends an observer to the response channel.
func (e *Emitter) OnResponse(obs Observer) {
	if obs == nil {
		return
	}
	e.obsMu.Lock()
	e.replies = append(e.replies, obs)
	e.obsMu.Unlock()
}

// Emit delivers data to every listener matching t on the next tick.
func (e *Emitter) Emit(t string, data any) error {
	return e.emit(t, data, nil)
}

func (e *Emitter) emit(t string, data any, after func()) error {
	tp := topic.Topic(t)
	if !tp.IsValid() {
		return ErrInvalidTopic
	}
	if e.closed.Load() {
		return ErrClosed
	}

	var targets []*Listener
	for _, entry := range e.matcher.Resolve(tp) {
		if entry.Once && !e.matcher.Unregister(entry) {
			continue
		}
		targets = append(targets, entry.Value)
	}

	err := e.loop.Post(func() {
		for _, l := range targets {
			e.deliver(t, l, data)
		}
		if after != nil {
			after()
		}
	})
	if err != nil {
		return ErrClosed
	}
	return nil
}

func (e *Emitter) deliver(t string, l *Listener, data any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"topic": t,
				"panic": r,
			}).Error("listener panicked")
		}
	}()
	l.handler(data, noopSettle, noopReject, nil)
}

func noopSettle(any) {}
func noopReject(any) {}

// Connect emits the connected lifecycle event and returns once its listeners
// have run.
func (e *Emitter) Connect(ctx context.Context) error {
	return e.transition(ctx, core.TopicConnected)
}

// Disconnect emits the disconnected lifecycle event and returns once its
// listeners have run.
func (e *Emitter) Disconnect(ctx context.Context) error {
	return e.transition(ctx, core.TopicDisconnected)
}

func (e *Emitter) transition(ctx context.Context, t string) error {
	done := make(chan struct{})
	if err := e.emit(t, e.id, func() { close(done) }); err != nil {
		return err
	}
	if e.loop.InLoop() {
		return e.loop.Pump(ctx, done)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of in-flight emit-to-one calls.
func (e *Emitter) Pending() int { return e.calls.Len() }

// Close rejects all pending calls with ErrClosed, runs what is already
// queued and stops the loop.
func (e *Emitter) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return e.loop.Stop(ctx)
	}
	_ = e.loop.Post(func() { e.calls.RejectAll(ErrClosed) })
	err := e.loop.Stop(ctx)
	// calls registered while the loop was draining
	e.calls.RejectAll(ErrClosed)
	return err
}

// dispatch moves timer callbacks and settlements onto the loop. Once the loop
// is stopped they run inline.
func (e *Emitter) dispatch(f func()) {
	if err := e.loop.Post(f); err != nil {
		f()
	}
}

var _ core.Node = (*Emitter)(nil)
