package emitter

import (
	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/topic"
)

// Option configures an Emitter.
type Option func(*config)

type config struct {
	id      string
	logger  logrus.FieldLogger
	matcher topic.Matcher[*Listener]
}

// WithID overrides the generated instance id.
func WithID(id string) Option {
	return func(c *config) { c.id = id }
}

// WithLogger sets the logger used by the emitter's scheduler.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *config) { c.logger = logger }
}

// WithMatcher swaps the wildcard topic matcher.
func WithMatcher(m topic.Matcher[*Listener]) Option {
	return func(c *config) { c.matcher = m }
}

// CallOption configures a single Request.
type CallOption func(*callConfig)

type callConfig struct {
	raw any
}

// WithRaw passes an opaque raw context to the listener and both observation
// channels.
func WithRaw(raw any) CallOption {
	return func(c *callConfig) { c.raw = raw }
}
