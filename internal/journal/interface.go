package journal

import (
	"context"
	"errors"
	"time"

	"github.com/jkyberneees/process-eventemitter/internal/core"
)

// ErrNotFound is returned by Get for unknown or expired call ids.
var ErrNotFound = errors.New("journal: call not found")

// Entry is the journaled state of one emit-to-one call. Payloads are not
// stored.
type Entry struct {
	CallID      string         `json:"call_id"`
	Emitter     string         `json:"emitter"`
	Topic       string         `json:"topic"`
	State       core.CallState `json:"state"`
	OK          bool           `json:"ok"`
	Reason      string         `json:"reason,omitempty"`
	RequestedAt time.Time      `json:"requested_at,omitempty"`
	ResolvedAt  time.Time      `json:"resolved_at,omitempty"`
	Version     int64          `json:"version"`
}

// Store records call state transitions.
type Store interface {
	// Put merges e into the stored entry and returns the new version. A
	// terminal state is never replaced by pending.
	Put(ctx context.Context, e Entry, ttl time.Duration) (int64, error)
	Get(ctx context.Context, callID string) (*Entry, error)
	Watch(ctx context.Context, pattern string) (<-chan Entry, error)
	Delete(ctx context.Context, callID string) error
	Close() error
}
