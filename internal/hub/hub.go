// Package hub keeps several independent emitters in one process by name.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jkyberneees/process-eventemitter/internal/emitter"
)

var (
	// ErrExists is returned by Spawn for a name already in use.
	ErrExists = errors.New("hub: name already spawned")
	// ErrUnknown is returned by Get for a name never spawned.
	ErrUnknown = errors.New("hub: unknown name")
	// ErrStopped is returned by Spawn once Stop has been called.
	ErrStopped = errors.New("hub: stopped")
)

// Factory creates the emitter registered under name.
type Factory interface {
	Create(name string) (*emitter.Emitter, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(name string) (*emitter.Emitter, error)

// Create calls f.
func (f FactoryFunc) Create(name string) (*emitter.Emitter, error) { return f(name) }

// Emitters returns a Factory building emitters with opts and the name as id.
func Emitters(opts ...emitter.Option) Factory {
	return FactoryFunc(func(name string) (*emitter.Emitter, error) {
		all := append([]emitter.Option{emitter.WithID(name)}, opts...)
		return emitter.New(all...), nil
	})
}

// Hub manages the lifecycle of named emitters.
type Hub struct {
	factory  Factory
	logger   logrus.FieldLogger
	mu       sync.RWMutex
	registry map[string]*emitter.Emitter
	stopped  bool
}

// New returns an empty hub.
func New(f Factory, logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		factory:  f,
		logger:   logger.WithField("component", "hub"),
		registry: make(map[string]*emitter.Emitter),
	}
}

// Spawn creates and connects the emitter for name.
func (h *Hub) Spawn(ctx context.Context, name string) (*emitter.Emitter, error) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil, ErrStopped
	}
	if _, ok := h.registry[name]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	// reserve the name while connecting
	h.registry[name] = nil
	h.mu.Unlock()

	em, err := h.spawn(ctx, name)

	h.mu.Lock()
	if err != nil {
		delete(h.registry, name)
		h.mu.Unlock()
		return nil, err
	}
	if h.stopped {
		// Stop ran while connecting and did not see this emitter
		delete(h.registry, name)
		h.mu.Unlock()
		if err := errors.Join(em.Disconnect(ctx), em.Close(ctx)); err != nil {
			h.logger.WithError(err).WithField("name", name).Warn("close after stop failed")
		}
		return nil, ErrStopped
	}
	defer h.mu.Unlock()
	h.registry[name] = em
	h.logger.WithField("name", name).Debug("spawned")
	return em, nil
}

func (h *Hub) spawn(ctx context.Context, name string) (*emitter.Emitter, error) {
	em, err := h.factory.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create emitter: %w", err)
	}
	if err := em.Connect(ctx); err != nil {
		_ = em.Close(ctx)
		return nil, fmt.Errorf("connect emitter: %w", err)
	}
	return em, nil
}

// Get returns the emitter spawned under name.
func (h *Hub) Get(name string) (*emitter.Emitter, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	em := h.registry[name]
	if em == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return em, nil
}

// Names returns the spawned names in sorted order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.registry))
	for name, em := range h.registry {
		if em != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stop disconnects and closes every emitter concurrently and empties the
// hub. Errors from all emitters are joined. A stopped hub spawns nothing.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	stopping := make(map[string]*emitter.Emitter, len(h.registry))
	for name, em := range h.registry {
		if em != nil {
			stopping[name] = em
			delete(h.registry, name)
		}
	}
	h.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for name, em := range stopping {
		name, em := name, em
		g.Go(func() error {
			err := errors.Join(em.Disconnect(ctx), em.Close(ctx))
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
				mu.Unlock()
			}
			return err
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
