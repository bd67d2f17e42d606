package pending

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is the rejection reason used when a call's timer fires first.
var ErrTimeout = errors.New("timeout")

// Continuation receives the final value or reason of a call.
type Continuation func(v any)

type record struct {
	resolve Continuation
	reject  Continuation
	timer   *time.Timer
}

// Option configures a Registry.
type Option func(*Registry)

// WithDispatch routes timer expiry through dispatch, typically a scheduler's
// Post, instead of running it on the timer goroutine.
func WithDispatch(dispatch func(func())) Option {
	return func(r *Registry) { r.dispatch = dispatch }
}

// WithIDGenerator overrides the uuid based call id generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// Registry tracks in-flight calls by id. Only the first of settle, reject or
// timer expiry acts on a record; later attempts find nothing and are ignored.
type Registry struct {
	mu       sync.Mutex
	calls    map[string]*record
	newID    func() string
	dispatch func(func())
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		calls:    make(map[string]*record),
		newID:    uuid.NewString,
		dispatch: func(f func()) { f() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a new call and, when timeout > 0, arms a timer that rejects
// it with ErrTimeout. The returned settle and reject functions are bound to
// the new id and are safe to call any number of times.
func (r *Registry) Register(timeout time.Duration, resolve, reject Continuation) (id string, settle, fail Continuation) {
	id = r.newID()
	settle, fail = r.RegisterID(id, timeout, resolve, reject)
	return id, settle, fail
}

// RegisterID is Register with a caller supplied id, for callers that must know
// the id before the timer is armed. The id must not be pending already.
func (r *Registry) RegisterID(id string, timeout time.Duration, resolve, reject Continuation) (settle, fail Continuation) {
	rec := &record{resolve: resolve, reject: reject}

	r.mu.Lock()
	r.calls[id] = rec
	if timeout > 0 {
		rec.timer = time.AfterFunc(timeout, func() {
			r.dispatch(func() { r.Reject(id, ErrTimeout) })
		})
	}
	r.mu.Unlock()

	settle = func(v any) { r.Settle(id, v) }
	fail = func(reason any) { r.Reject(id, reason) }
	return settle, fail
}

// Settle completes id successfully. It reports false if the call was already
// resolved.
func (r *Registry) Settle(id string, v any) bool {
	rec := r.take(id)
	if rec == nil {
		return false
	}
	if rec.resolve != nil {
		rec.resolve(v)
	}
	return true
}

// Reject fails id with reason. It reports false if the call was already
// resolved.
func (r *Registry) Reject(id string, reason any) bool {
	rec := r.take(id)
	if rec == nil {
		return false
	}
	if rec.reject != nil {
		rec.reject(reason)
	}
	return true
}

// RejectAll fails every pending call with reason and returns how many there were.
func (r *Registry) RejectAll(reason any) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.calls))
	for id := range r.calls {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.Reject(id, reason) {
			n++
		}
	}
	return n
}

// Has reports whether id is still pending.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.calls[id]
	return ok
}

// Len returns the number of pending calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// take removes and returns the record, stopping its timer.
func (r *Registry) take(id string) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.calls[id]
	if !ok {
		return nil
	}
	delete(r.calls, id)
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	return rec
}
