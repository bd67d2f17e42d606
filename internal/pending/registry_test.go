package pending

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	mu       sync.Mutex
	resolved []any
	rejected []any
	done     chan struct{}
	once     sync.Once
}

func newOutcome() *outcome { return &outcome{done: make(chan struct{})} }

func (o *outcome) resolve(v any) {
	o.mu.Lock()
	o.resolved = append(o.resolved, v)
	o.mu.Unlock()
	o.once.Do(func() { close(o.done) })
}

func (o *outcome) reject(v any) {
	o.mu.Lock()
	o.rejected = append(o.rejected, v)
	o.mu.Unlock()
	o.once.Do(func() { close(o.done) })
}

func (o *outcome) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.resolved), len(o.rejected)
}

func TestSettleRemovesRecordOnce(t *testing.T) {
	r := New()
	o := newOutcome()

	id, settle, reject := r.Register(0, o.resolve, o.reject)
	require.NotEmpty(t, id)
	assert.True(t, r.Has(id))
	assert.Equal(t, 1, r.Len())

	settle("hello")
	settle("again")
	reject("late")

	res, rej := o.counts()
	assert.Equal(t, 1, res)
	assert.Zero(t, rej)
	assert.Equal(t, []any{"hello"}, o.resolved)
	assert.False(t, r.Has(id))
	assert.Zero(t, r.Len())
}

func TestRejectWinsOverSettle(t *testing.T) {
	r := New()
	o := newOutcome()

	id, settle, reject := r.Register(0, o.resolve, o.reject)
	reject("invalid type")
	settle("too late")

	assert.Equal(t, []any{"invalid type"}, o.rejected)
	assert.Empty(t, o.resolved)
	assert.False(t, r.Settle(id, "x"))
	assert.False(t, r.Reject(id, "x"))
}

func TestTimerRejectsWithTimeout(t *testing.T) {
	r := New()
	o := newOutcome()

	start := time.Now()
	_, settle, _ := r.Register(25*time.Millisecond, o.resolve, o.reject)

	select {
	case <-o.done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Equal(t, []any{ErrTimeout}, o.rejected)

	settle("late")
	res, rej := o.counts()
	assert.Zero(t, res)
	assert.Equal(t, 1, rej)
	assert.Zero(t, r.Len())
}

func TestSettleStopsTimer(t *testing.T) {
	r := New()
	o := newOutcome()

	_, settle, _ := r.Register(20*time.Millisecond, o.resolve, o.reject)
	settle(42)

	time.Sleep(50 * time.Millisecond)
	res, rej := o.counts()
	assert.Equal(t, 1, res)
	assert.Zero(t, rej)
}

func TestNoTimerWithoutTimeout(t *testing.T) {
	r := New()
	id, _, _ := r.Register(0, nil, nil)

	r.mu.Lock()
	assert.Nil(t, r.calls[id].timer)
	r.mu.Unlock()

	assert.True(t, r.Settle(id, nil), "nil continuations are tolerated")
}

func TestDispatchRoutesTimer(t *testing.T) {
	var routed atomic.Int32
	r := New(WithDispatch(func(f func()) {
		routed.Add(1)
		f()
	}))
	o := newOutcome()

	r.Register(5*time.Millisecond, o.resolve, o.reject)
	<-o.done
	assert.Equal(t, int32(1), routed.Load())
}

func TestCustomIDGenerator(t *testing.T) {
	var n int
	r := New(WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("call-%d", n)
	}))
	id1, _, _ := r.Register(0, nil, nil)
	id2, _, _ := r.Register(0, nil, nil)
	assert.Equal(t, "call-1", id1)
	assert.Equal(t, "call-2", id2)
}

func TestRejectAll(t *testing.T) {
	r := New()
	outs := make([]*outcome, 5)
	for i := range outs {
		outs[i] = newOutcome()
		r.Register(time.Minute, outs[i].resolve, outs[i].reject)
	}

	assert.Equal(t, 5, r.RejectAll("closed"))
	for _, o := range outs {
		assert.Equal(t, []any{"closed"}, o.rejected)
	}
	assert.Zero(t, r.Len())
	assert.Zero(t, r.RejectAll("closed"))
}

func TestConcurrentSettlementSingleWinner(t *testing.T) {
	r := New()
	for i := 0; i < 100; i++ {
		o := newOutcome()
		_, settle, reject := r.Register(time.Millisecond, o.resolve, o.reject)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); settle("ok") }()
		go func() { defer wg.Done(); reject("no") }()
		wg.Wait()
		<-o.done

		res, rej := o.counts()
		require.Equal(t, 1, res+rej)
	}
	// let any stray timers fire against already removed records
	time.Sleep(5 * time.Millisecond)
	assert.Zero(t, r.Len())
}

func TestRegisterID(t *testing.T) {
	r := New()
	o := newOutcome()

	settle, _ := r.RegisterID("fixed", time.Minute, o.resolve, o.reject)
	assert.True(t, r.Has("fixed"))
	settle("v")
	assert.Equal(t, []any{"v"}, o.resolved)
	assert.False(t, r.Has("fixed"))
}
