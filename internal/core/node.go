package core

import "context"

// Node is anything with an identity and observable connect/disconnect
// transitions.
type Node interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}
