package topic

import "errors"

// ErrInvalidPattern is returned when registering an empty or malformed pattern.
var ErrInvalidPattern = errors.New("topic: invalid pattern")

// Entry is one registered value bound to a pattern.
type Entry[T any] struct {
	// Seq orders entries by registration, lower first.
	Seq     uint64
	Pattern Topic
	Value   T
	Once    bool
}

// Matcher resolves concrete topics to the values registered under matching
// patterns.
type Matcher[T any] interface {
	Register(pattern Topic, value T, once bool) (*Entry[T], error)
	// Unregister removes exactly e. It returns false if e was already removed,
	// which makes it usable to claim once entries.
	Unregister(e *Entry[T]) bool
	// RemoveFunc removes the earliest entry on pattern whose value satisfies match.
	RemoveFunc(pattern Topic, match func(T) bool) bool
	// Resolve returns all entries matching t in registration order.
	Resolve(t Topic) []*Entry[T]
	Len() int
}
