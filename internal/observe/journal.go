package observe

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/core"
	"github.com/jkyberneees/process-eventemitter/internal/journal"
)

// Journal writes the state of every call to a journal.Store.
type Journal struct {
	store  journal.Store
	ttl    time.Duration
	sink   *sink
	logger logrus.FieldLogger
}

// NewJournal starts a journal observer. ttl <= 0 keeps entries forever.
func NewJournal(store journal.Store, ttl time.Duration, logger logrus.FieldLogger) *Journal {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "journal-observer")
	return &Journal{
		store:  store,
		ttl:    ttl,
		sink:   newSink(DefaultQueueSize, logger),
		logger: logger,
	}
}

// Attach registers the journal's observers on em.
func (j *Journal) Attach(em Observable) {
	id := em.ID()
	em.OnRequest(func(topic string, env *core.Envelope, raw any) {
		j.put(journal.Entry{
			CallID:      env.CallID,
			Emitter:     id,
			Topic:       topic,
			State:       core.StatePending,
			RequestedAt: time.Now(),
		})
	})
	em.OnResponse(func(topic string, env *core.Envelope, raw any) {
		j.put(journal.Entry{
			CallID:     env.CallID,
			Emitter:    id,
			Topic:      topic,
			State:      stateOf(env),
			OK:         env.OK,
			Reason:     reasonOf(env),
			ResolvedAt: time.Now(),
		})
	})
}

func (j *Journal) put(e journal.Entry) {
	j.sink.enqueue(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := j.store.Put(ctx, e, j.ttl); err != nil {
			j.logger.WithError(err).WithField("call_id", e.CallID).Warn("journal write failed")
		}
	})
}

// Close flushes pending writes. It does not close the store.
func (j *Journal) Close(ctx context.Context) error {
	return j.sink.close(ctx)
}
