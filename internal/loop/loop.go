package loop

import (
	"bytes"
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Loop is a single-goroutine cooperative scheduler. Tasks run in the order
// they were posted. The queue is unbounded so tasks may post further tasks
// without deadlocking.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	started bool
	stopped bool
	owner   atomic.Uint64
	logger  logrus.FieldLogger
}

// New returns a loop that is not yet running.
func New(logger logrus.FieldLogger) *Loop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger.WithField("component", "loop"),
	}
}

// Start launches the loop goroutine. Calling it twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
}

// Post queues task for the next tick.
func (l *Loop) Post(task func()) error {
	if task == nil {
		return nil
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stop refuses new tasks, lets already queued tasks finish and waits for the
// loop goroutine to exit or ctx to end.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return l.wait(ctx)
	}
	l.stopped = true
	started := l.started
	l.mu.Unlock()

	if !started {
		close(l.done)
		return nil
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return l.wait(ctx)
}

func (l *Loop) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed after the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	l.owner.Store(goid())
	for {
		task, stopped := l.pop()
		if task != nil {
			l.exec(task)
			continue
		}
		if stopped {
			return
		}
		<-l.wake
	}
}

// pop removes the oldest queued task. It returns nil when the queue is empty.
func (l *Loop) pop() (task func(), stopped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, l.stopped
	}
	task = l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, l.stopped
}

// InLoop reports whether the caller is running on the loop goroutine, i.e.
// inside a task.
func (l *Loop) InLoop() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == goid()
}

// Pump runs queued tasks on the loop goroutine until done is closed or ctx
// ends. A task that must block on work scheduled on the same loop calls Pump
// instead of blocking, so that work keeps running. Called from any other
// goroutine it returns ErrNotInLoop.
func (l *Loop) Pump(ctx context.Context, done <-chan struct{}) error {
	if !l.InLoop() {
		return ErrNotInLoop
	}
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if task, _ := l.pop(); task != nil {
			l.exec(task)
			continue
		}
		select {
		case <-l.wake:
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// goid parses the current goroutine id from the stack header
// "goroutine 18 [running]:".
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("task panicked")
		}
	}()
	task()
}

var _ Scheduler = (*Loop)(nil)
