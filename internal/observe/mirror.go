package observe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/core"
	"github.com/jkyberneees/process-eventemitter/internal/emitter"
	"github.com/jkyberneees/process-eventemitter/internal/eventbus"
)

// DefaultQueueSize bounds the records waiting to be published.
const DefaultQueueSize = 1024

// Mirror publishes every observation of an emitter to a Bus. Channels are
// "<prefix>.request.<topic>", "<prefix>.response.<topic>" and
// "<prefix>.lifecycle".
type Mirror struct {
	bus    eventbus.Bus
	prefix string
	sink   *sink
	logger logrus.FieldLogger
}

// NewMirror starts a mirror publishing to bus.
func NewMirror(bus eventbus.Bus, prefix string, logger logrus.FieldLogger) *Mirror {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "mirror")
	return &Mirror{
		bus:    bus,
		prefix: prefix,
		sink:   newSink(DefaultQueueSize, logger),
		logger: logger,
	}
}

// Attach registers the mirror's observers on em.
func (m *Mirror) Attach(em Observable) error {
	id := em.ID()

	em.OnRequest(func(topic string, env *core.Envelope, raw any) {
		m.publish(m.channel(core.KindRequest, topic), core.Record{
			ID:        env.CallID,
			Emitter:   id,
			Kind:      core.KindRequest,
			Topic:     topic,
			State:     core.StatePending,
			Data:      m.encode(env.Data),
			Timestamp: time.Now(),
		})
	})
	em.OnResponse(func(topic string, env *core.Envelope, raw any) {
		m.publish(m.channel(core.KindResponse, topic), core.Record{
			ID:        env.CallID,
			Emitter:   id,
			Kind:      core.KindResponse,
			Topic:     topic,
			OK:        env.OK,
			State:     stateOf(env),
			Data:      m.encode(env.Data),
			Timestamp: time.Now(),
		})
	})

	for _, t := range []string{core.TopicConnected, core.TopicDisconnected} {
		t := t
		if _, err := em.On(t, func(data any, _ emitter.Settle, _ emitter.Reject, _ any) {
			m.publish(m.prefix+".lifecycle", core.Record{
				Emitter:   id,
				Kind:      t,
				OK:        true,
				Timestamp: time.Now(),
			})
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) channel(kind, topic string) string {
	return m.prefix + "." + kind + "." + topic
}

// encode serializes data on the observing goroutine. The listener owns the
// payload and may change it once the observer returns.
func (m *Mirror) encode(data any) any {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(describe(data))
	if err != nil {
		m.logger.WithError(err).Warn("payload not serializable, mirrored without data")
		return nil
	}
	return json.RawMessage(b)
}

// publish hands rec to the sink. rec must not reference caller owned values.
func (m *Mirror) publish(channel string, rec core.Record) {
	m.sink.enqueue(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := m.bus.Publish(ctx, channel, rec); err != nil {
			m.logger.WithError(err).WithField("channel", channel).Warn("publish failed")
		}
	})
}

// Close flushes queued records. It does not close the bus.
func (m *Mirror) Close(ctx context.Context) error {
	return m.sink.close(ctx)
}
