package eventbus

import (
	"context"

	"github.com/jkyberneees/process-eventemitter/internal/core"
)

// Bus carries observation records to processes outside the emitter, e.g.
// monitoring tools. It never delivers requests.
type Bus interface {
	Publish(ctx context.Context, channel string, rec core.Record) error
	Subscribe(ctx context.Context, channel string) (<-chan core.Record, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan core.Record, error)
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}
