package emitter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jkyberneees/process-eventemitter/internal/core"
	"github.com/jkyberneees/process-eventemitter/internal/topic"
)

// Request sends payload to the first listener registered for t and returns
// the pending call. A timeout of zero waits forever.
//
// When nothing listens on t the returned call has already failed with
// ErrNoListener and no timer is armed. Once listeners are consumed at
// selection, so a second request finds them gone.
func (e *Emitter) Request(t string, payload any, timeout time.Duration, opts ...CallOption) *Call {
	var cc callConfig
	for _, opt := range opts {
		opt(&cc)
	}

	tp := topic.Topic(t)
	switch {
	case !tp.IsValid():
		return failedCall(t, ErrInvalidTopic)
	case timeout < 0:
		return failedCall(t, ErrInvalidTimeout)
	case e.closed.Load():
		return failedCall(t, ErrClosed)
	}

	target := e.claim(tp)
	if target == nil {
		return failedCall(t, ErrNoListener)
	}

	call := newCall(t, e.loop)
	call.id = uuid.NewString()
	settle, reject := e.calls.RegisterID(call.id, timeout,
		func(v any) { e.respond(call, cc.raw, v, true) },
		func(v any) { e.respond(call, cc.raw, v, false) },
	)

	settleProxy := Settle(func(v any) { e.dispatch(func() { settle(v) }) })
	rejectProxy := Reject(func(r any) { e.dispatch(func() { reject(r) }) })

	if err := e.loop.Post(func() {
		e.invoke(call, target, payload, settleProxy, rejectProxy, cc.raw)
	}); err != nil {
		e.calls.Reject(call.id, ErrClosed)
	}
	return call
}

// EmitToOne is Request followed by Wait.
func (e *Emitter) EmitToOne(ctx context.Context, t string, payload any, timeout time.Duration, opts ...CallOption) (any, error) {
	return e.Request(t, payload, timeout, opts...).Wait(ctx)
}

// claim picks the first listener for t. Once listeners are unregistered here;
// losing that race to another caller moves on to the next listener.
func (e *Emitter) claim(t topic.Topic) *Listener {
	for _, entry := range e.matcher.Resolve(t) {
		if entry.Once && !e.matcher.Unregister(entry) {
			continue
		}
		return entry.Value
	}
	return nil
}

// invoke runs on the loop. Panics in request observers or the listener
// become rejections carrying the panic message.
func (e *Emitter) invoke(call *Call, l *Listener, payload any, settle Settle, reject Reject, raw any) {
	if !e.calls.Has(call.id) {
		// timed out or closed while queued
		return
	}
	defer func() {
		if r := recover(); r != nil {
			reject(panicMessage(r))
		}
	}()

	env := &core.Envelope{CallID: call.id, Data: payload}
	e.notify(e.requestObservers(), call.topic, env, raw)
	l.handler(env.Data, settle, reject, raw)
}

// respond runs when the registry resolves a call. The response chain may
// rewrite the data the caller receives.
func (e *Emitter) respond(call *Call, raw any, data any, ok bool) {
	env := &core.Envelope{CallID: call.id, Data: data, OK: ok}

	if r := e.notifySafe(e.responseObservers(), call.topic, env, raw); r != nil {
		call.complete(nil, rejection(call.topic, panicMessage(r)))
		return
	}
	if ok {
		call.complete(env.Data, nil)
		return
	}
	call.complete(nil, rejection(call.topic, env.Data))
}

func (e *Emitter) notify(chain []Observer, t string, env *core.Envelope, raw any) {
	for _, obs := range chain {
		obs(t, env, raw)
	}
}

func (e *Emitter) notifySafe(chain []Observer, t string, env *core.Envelope, raw any) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	e.notify(chain, t, env, raw)
	return nil
}

func (e *Emitter) requestObservers() []Observer {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	return e.requests
}

func (e *Emitter) responseObservers() []Observer {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	return e.replies
}
