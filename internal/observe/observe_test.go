package observe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkyberneees/process-eventemitter/internal/core"
	"github.com/jkyberneees/process-eventemitter/internal/emitter"
	"github.com/jkyberneees/process-eventemitter/internal/eventbus"
	"github.com/jkyberneees/process-eventemitter/internal/journal"
)

func newEmitter(t *testing.T) *emitter.Emitter {
	t.Helper()
	logger, _ := test.NewNullLogger()
	em := emitter.New(emitter.WithID("bus-1"), emitter.WithLogger(logger))
	t.Cleanup(func() {
		require.NoError(t, em.Close(context.Background()))
	})
	return em
}

func newRedis(t *testing.T) *redis.Options {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return &redis.Options{Addr: s.Addr()}
}

func wait(t *testing.T, call *emitter.Call) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return call.Wait(ctx)
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, core.StateSettled, stateOf(&core.Envelope{OK: true}))
	assert.Equal(t, core.StateTimedOut, stateOf(&core.Envelope{Data: emitter.ErrTimeout}))
	assert.Equal(t, core.StateRejected, stateOf(&core.Envelope{Data: "boom"}))
	assert.Equal(t, "boom", reasonOf(&core.Envelope{Data: errors.New("boom")}))
	assert.Empty(t, reasonOf(&core.Envelope{OK: true, Data: "x"}))
}

func TestSinkDropsWhenFull(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := newSink(1, logger)

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, s.enqueue(func(context.Context) {
		close(started)
		<-block
	}))
	<-started
	require.True(t, s.enqueue(func(context.Context) {}))
	assert.False(t, s.enqueue(func(context.Context) {}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	close(block)
	require.NoError(t, s.close(context.Background()))
	assert.False(t, s.enqueue(func(context.Context) {}))
}

func TestLogging(t *testing.T) {
	em := newEmitter(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	require.NoError(t, Logging(em, logger))

	_, err := em.On("email.send", func(data any, settle emitter.Settle, reject emitter.Reject, raw any) {
		if data == "bad" {
			reject("invalid address")
			return
		}
		settle("sent")
	})
	require.NoError(t, err)

	_, err = wait(t, em.Request("email.send", "ok", time.Second))
	require.NoError(t, err)
	_, err = wait(t, em.Request("email.send", "bad", time.Second))
	require.Error(t, err)
	require.NoError(t, em.Connect(context.Background()))

	var levels []logrus.Level
	var messages []string
	for _, e := range hook.AllEntries() {
		levels = append(levels, e.Level)
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"request", "response", "request", "response", "connected"}, messages)
	assert.Equal(t, []logrus.Level{
		logrus.DebugLevel, logrus.InfoLevel, logrus.DebugLevel, logrus.WarnLevel, logrus.InfoLevel,
	}, levels)
	assert.Equal(t, "invalid address", hook.AllEntries()[3].Data["reason"])
	assert.Equal(t, "bus-1", hook.LastEntry().Data["emitter"])
}

func TestMirrorPublishesObservations(t *testing.T) {
	em := newEmitter(t)
	bus := eventbus.NewRedisBus(newRedis(t), nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	records, err := bus.SubscribePattern(ctx, "eventemitter.*")
	require.NoError(t, err)

	mirror := NewMirror(bus, "eventemitter", nil)
	require.NoError(t, mirror.Attach(em))

	_, err = em.On("email.send", func(data any, settle emitter.Settle, reject emitter.Reject, raw any) {
		reject(errors.New("smtp down"))
	})
	require.NoError(t, err)

	call := em.Request("email.send", "hi", time.Second)
	_, err = wait(t, call)
	require.Error(t, err)
	require.NoError(t, em.Connect(ctx))
	require.NoError(t, mirror.Close(ctx))

	var got []core.Record
	for len(got) < 3 {
		select {
		case rec := <-records:
			got = append(got, rec)
		case <-time.After(time.Second):
			t.Fatalf("received %d records", len(got))
		}
	}

	assert.Equal(t, core.KindRequest, got[0].Kind)
	assert.Equal(t, call.ID(), got[0].ID)
	assert.Equal(t, "hi", got[0].Data)
	assert.Equal(t, core.StatePending, got[0].State)

	assert.Equal(t, core.KindResponse, got[1].Kind)
	assert.False(t, got[1].OK)
	assert.Equal(t, core.StateRejected, got[1].State)
	assert.Equal(t, "smtp down", got[1].Data)

	assert.Equal(t, core.TopicConnected, got[2].Kind)
	assert.Equal(t, "bus-1", got[2].Emitter)
}

func TestJournalRecordsCallStates(t *testing.T) {
	em := newEmitter(t)
	store := journal.NewRedisStore(newRedis(t), nil)
	t.Cleanup(func() { _ = store.Close() })

	j := NewJournal(store, time.Minute, nil)
	j.Attach(em)

	_, err := em.On("email.send", func(data any, settle emitter.Settle, reject emitter.Reject, raw any) {
		if data == "fast" {
			settle("sent")
		}
	})
	require.NoError(t, err)

	settled := em.Request("email.send", "fast", time.Second)
	_, err = wait(t, settled)
	require.NoError(t, err)

	slow := em.Request("email.send", "slow", 20*time.Millisecond)
	_, err = wait(t, slow)
	require.ErrorIs(t, err, emitter.ErrTimeout)

	ctx := context.Background()
	require.NoError(t, j.Close(ctx))

	e, err := store.Get(ctx, settled.ID())
	require.NoError(t, err)
	assert.Equal(t, core.StateSettled, e.State)
	assert.True(t, e.OK)
	assert.Equal(t, "bus-1", e.Emitter)
	assert.Equal(t, "email.send", e.Topic)

	e, err = store.Get(ctx, slow.ID())
	require.NoError(t, err)
	assert.Equal(t, core.StateTimedOut, e.State)
	assert.Equal(t, "timeout", e.Reason)
	assert.False(t, e.OK)
}

func TestMirrorEncodesPayloadWhenObserved(t *testing.T) {
	em := newEmitter(t)
	bus := eventbus.NewRedisBus(newRedis(t), nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	records, err := bus.SubscribePattern(ctx, "eventemitter.request.*")
	require.NoError(t, err)

	mirror := NewMirror(bus, "eventemitter", nil)
	require.NoError(t, mirror.Attach(em))

	// the listener writes into the payload right after the request observers ran
	_, err = em.On("job", func(data any, settle emitter.Settle, reject emitter.Reject, raw any) {
		counts := data.(map[string]int)
		for i := 0; i < 50; i++ {
			counts[fmt.Sprintf("k%d", i)] = i
		}
		settle(len(counts))
	})
	require.NoError(t, err)

	const calls = 20
	for i := 0; i < calls; i++ {
		_, err := wait(t, em.Request("job", map[string]int{"seed": i}, time.Second))
		require.NoError(t, err)
	}
	require.NoError(t, mirror.Close(ctx))

	for i := 0; i < calls; i++ {
		select {
		case rec := <-records:
			data, ok := rec.Data.(map[string]any)
			require.True(t, ok, "record data %T", rec.Data)
			assert.Equal(t, map[string]any{"seed": float64(i)}, data)
		case <-time.After(time.Second):
			t.Fatalf("received %d records", i)
		}
	}
}
