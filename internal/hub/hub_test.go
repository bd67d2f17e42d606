package hub

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jkyberneees/process-eventemitter/internal/core"
	"github.com/jkyberneees/process-eventemitter/internal/emitter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newHub(t *testing.T) *Hub {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(Emitters(emitter.WithLogger(logger)), logger)
}

func TestSpawnConnects(t *testing.T) {
	h := newHub(t)
	ctx := context.Background()

	var connected []string
	h.factory = FactoryFunc(func(name string) (*emitter.Emitter, error) {
		em := emitter.New(emitter.WithID(name))
		_, err := em.On(core.TopicConnected, func(data any, _ emitter.Settle, _ emitter.Reject, _ any) {
			connected = append(connected, data.(string))
		})
		return em, err
	})

	em, err := h.Spawn(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, "mail", em.ID())
	assert.Equal(t, []string{"mail"}, connected)

	got, err := h.Get("mail")
	require.NoError(t, err)
	assert.Same(t, em, got)

	require.NoError(t, h.Stop(ctx))
}

func TestSpawnDuplicateAndUnknown(t *testing.T) {
	h := newHub(t)
	ctx := context.Background()

	_, err := h.Spawn(ctx, "a")
	require.NoError(t, err)
	_, err = h.Spawn(ctx, "a")
	assert.ErrorIs(t, err, ErrExists)

	_, err = h.Get("b")
	assert.ErrorIs(t, err, ErrUnknown)

	require.NoError(t, h.Stop(ctx))
}

func TestSpawnFactoryError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	boom := errors.New("boom")
	h := New(FactoryFunc(func(string) (*emitter.Emitter, error) { return nil, boom }), logger)

	_, err := h.Spawn(context.Background(), "a")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.Names())
}

func TestStopDisconnectsAll(t *testing.T) {
	h := newHub(t)
	ctx := context.Background()

	var spawned []*emitter.Emitter
	for _, name := range []string{"b", "a", "c"} {
		em, err := h.Spawn(ctx, name)
		require.NoError(t, err)
		spawned = append(spawned, em)
	}
	assert.Equal(t, []string{"a", "b", "c"}, h.Names())

	require.NoError(t, h.Stop(ctx))
	assert.Empty(t, h.Names())
	for _, em := range spawned {
		_, err := em.EmitToOne(ctx, "x", nil, 0)
		assert.ErrorIs(t, err, emitter.ErrClosed)
	}
}

func TestSpawnDuringStopClosesEmitter(t *testing.T) {
	logger, _ := test.NewNullLogger()
	entered := make(chan struct{})
	release := make(chan struct{})
	created := make(chan *emitter.Emitter, 1)
	h := New(FactoryFunc(func(name string) (*emitter.Emitter, error) {
		close(entered)
		<-release
		em := emitter.New(emitter.WithID(name), emitter.WithLogger(logger))
		created <- em
		return em, nil
	}), logger)
	ctx := context.Background()

	result := make(chan error, 1)
	go func() {
		_, err := h.Spawn(ctx, "late")
		result <- err
	}()

	<-entered
	require.NoError(t, h.Stop(ctx))
	close(release)

	assert.ErrorIs(t, <-result, ErrStopped)
	assert.Empty(t, h.Names())
	_, err := h.Get("late")
	assert.ErrorIs(t, err, ErrUnknown)

	em := <-created
	_, err = em.EmitToOne(ctx, "x", nil, 0)
	assert.ErrorIs(t, err, emitter.ErrClosed)

	_, err = h.Spawn(ctx, "after")
	assert.ErrorIs(t, err, ErrStopped)
}
