package hub

import (
	"github.com/grovetools/layoutsync/logging"
	"github.com/grovetools/layoutsync/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultMailboxWarn is the queue depth at which a hub logs a backlog warning.
const DefaultMailboxWarn = 1000

type options struct {
	logger      *logrus.Entry
	metrics     *metrics.Metrics
	mailboxWarn int
}

// Option configures a Mesh and the hubs it creates.
type Option func(*options)

// WithLogger sets the logger. Hubs add their address as a field.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMailboxWarn sets the backlog warning threshold. Zero disables it.
func WithMailboxWarn(n int) Option {
	return func(o *options) { o.mailboxWarn = n }
}

func buildOptions(base options, opts []Option) options {
	for _, opt := range opts {
		opt(&base)
	}
	if base.logger == nil {
		base.logger = logging.NewLogger("hub")
	}
	return base
}
