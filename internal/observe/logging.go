package observe

import (
	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/core"
	"github.com/jkyberneees/process-eventemitter/internal/emitter"
)

// Logging logs requests at debug, settlements at info and rejections at warn,
// plus lifecycle transitions.
func Logging(em Observable, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("emitter", em.ID())

	em.OnRequest(func(topic string, env *core.Envelope, raw any) {
		logger.WithFields(logrus.Fields{
			"topic":   topic,
			"call_id": env.CallID,
		}).Debug("request")
	})
	em.OnResponse(func(topic string, env *core.Envelope, raw any) {
		entry := logger.WithFields(logrus.Fields{
			"topic":   topic,
			"call_id": env.CallID,
			"state":   stateOf(env),
		})
		if env.OK {
			entry.Info("response")
			return
		}
		entry.WithField("reason", reasonOf(env)).Warn("response")
	})

	for _, t := range []string{core.TopicConnected, core.TopicDisconnected} {
		t := t
		if _, err := em.On(t, func(data any, _ emitter.Settle, _ emitter.Reject, _ any) {
			logger.Info(t)
		}); err != nil {
			return err
		}
	}
	return nil
}
