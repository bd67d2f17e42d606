package loop

import "errors"

// ErrStopped is returned by Post once the loop has been stopped.
var ErrStopped = errors.New("loop: stopped")

// ErrNotInLoop is returned by Pump when called outside a loop task.
var ErrNotInLoop = errors.New("loop: not on the loop goroutine")

// Scheduler runs posted tasks later, one at a time, never inline in the
// caller's stack.
type Scheduler interface {
	Post(task func()) error
}
