// Package metrics holds the Prometheus collectors for hubs, the layout client
// and activities.
//
// Components take a *Metrics and treat nil as "not instrumented", so library
// users are not forced onto the default registry. The daemon uses Default().
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "layoutsync"

// Delivery outcomes.
const (
	OutcomeHandled   = "handled"
	OutcomeUnhandled = "unhandled"
	OutcomeDropped   = "dropped"
	OutcomePanicked  = "panicked"
)

// Layout event results.
const (
	ResultApplied = "applied"
	ResultIgnored = "ignored"
	ResultSelf    = "self"
)

// Metrics groups every collector the module exports.
type Metrics struct {
	HubDeliveries       *prometheus.CounterVec
	MailboxDepth        *prometheus.GaugeVec
	LayoutEvents        *prometheus.CounterVec
	PendingRequests     prometheus.Gauge
	PropagationHalts    prometheus.Counter
	ActivityCompletions *prometheus.CounterVec
}

// New registers a fresh set of collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HubDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Deliveries processed by hubs, by outcome",
		}, []string{"outcome"}),
		MailboxDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "mailbox_depth",
			Help:      "Queued deliveries per hub kind",
		}, []string{"kind"}),
		LayoutEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "events_total",
			Help:      "Area changed events seen by the layout client, by result",
		}, []string{"result"}),
		PendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "pending_requests",
			Help:      "Get requests waiting for their area to be populated",
		}),
		PropagationHalts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "layout",
			Name:      "propagation_halts_total",
			Help:      "Parent propagations stopped at an ancestor without sub-areas",
		}),
		ActivityCompletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "completions_total",
			Help:      "Activities reaching a terminal status",
		}, []string{"status"}),
	}
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide collectors registered with the default
// Prometheus registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Delivery counts one processed delivery.
func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.HubDeliveries.WithLabelValues(outcome).Inc()
}

// Mailbox records the current queue length for hubs of the given kind.
func (m *Metrics) Mailbox(kind string, depth int) {
	if m == nil {
		return
	}
	m.MailboxDepth.WithLabelValues(kind).Set(float64(depth))
}

// LayoutEvent counts one area changed event.
func (m *Metrics) LayoutEvent(result string) {
	if m == nil {
		return
	}
	m.LayoutEvents.WithLabelValues(result).Inc()
}

// Pending sets the number of queued get requests.
func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// PropagationHalt counts a halted parent propagation.
func (m *Metrics) PropagationHalt() {
	if m == nil {
		return
	}
	m.PropagationHalts.Inc()
}

// ActivityCompleted counts an activity reaching status.
func (m *Metrics) ActivityCompleted(status string) {
	if m == nil {
		return
	}
	m.ActivityCompletions.WithLabelValues(status).Inc()
}
