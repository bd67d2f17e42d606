package emitter

import (
	"context"
	"sync"

	"github.com/jkyberneees/process-eventemitter/internal/loop"
)

// Call is the pending result of an emit-to-one request.
type Call struct {
	id    string
	topic string
	loop  *loop.Loop

	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newCall(topic string, l *loop.Loop) *Call {
	return &Call{topic: topic, loop: l, done: make(chan struct{})}
}

func failedCall(topic string, err error) *Call {
	c := newCall(topic, nil)
	c.complete(nil, err)
	return c
}

// ID returns the call id, empty when the call failed before registration.
func (c *Call) ID() string { return c.id }

// Topic returns the requested topic.
func (c *Call) Topic() string { return c.topic }

// Done is closed once the call has an outcome.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result blocks until the call completes.
func (c *Call) Result() (any, error) {
	return c.Wait(context.Background())
}

// Wait blocks until the call completes or ctx ends. Giving up on ctx does not
// cancel the call; it still ends by settlement or timeout.
//
// Called from a listener or observer of the same emitter, Wait keeps running
// the emitter's queued work while it blocks, so nested calls settle and time
// out normally.
func (c *Call) Wait(ctx context.Context) (any, error) {
	if c.loop != nil && c.loop.InLoop() {
		if err := c.loop.Pump(ctx, c.done); err != nil {
			return nil, err
		}
		return c.value, c.err
	}
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) complete(value any, err error) {
	c.once.Do(func() {
		c.value = value
		c.err = err
		close(c.done)
	})
}
