// Package telemetry defines the prometheus counters and histograms for
// engine events, registered by New against the registry it is given.
// The engine and the queue backends do not record to them; a caller
// that wants them populated records to the returned Metrics itself.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the engine touches.
type Metrics struct {
	Pushed   *prometheus.CounterVec
	Popped   *prometheus.CounterVec
	Completed *prometheus.CounterVec
	Retried  *prometheus.CounterVec
	Errored  *prometheus.CounterVec
	Expired  *prometheus.CounterVec
	DebounceHits *prometheus.CounterVec

	InvocationDuration *prometheus.HistogramVec
}

// New registers and returns a Metrics bundle against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Pushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deferrable",
			Name:      "items_pushed_total",
			Help:      "Total items pushed, by group.",
		}, []string{"group"}),
		Popped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deferrable",
			Name:      "items_popped_total",
			Help:      "Total items popped, by group.",
		}, []string{"group"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deferrable",
			Name:      "items_completed_total",
			Help:      "Total items completed successfully, by group.",
		}, []string{"group"}),
		Retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deferrable",
			Name:      "items_retried_total",
			Help:      "Total items requeued after a retriable failure, by group.",
		}, []string{"group"}),
		Errored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deferrable",
			Name:      "items_errored_total",
			Help:      "Total items routed to the error queue, by group.",
		}, []string{"group"}),
		Expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deferrable",
			Name:      "items_expired_total",
			Help:      "Total items dropped for exceeding their TTL, by group.",
		}, []string{"group"}),
		DebounceHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deferrable",
			Name:      "debounce_hits_total",
			Help:      "Total calls skipped or delayed by an open debounce window, by group and strategy.",
		}, []string{"group", "strategy"}),
		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deferrable",
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock time spent running a callable, by group.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
	}
	reg.MustRegister(m.Pushed, m.Popped, m.Completed, m.Retried, m.Errored, m.Expired, m.DebounceHits, m.InvocationDuration)
	return m
}

// ObserveInvocation returns a func to defer immediately after starting
// a callable invocation, so its wall-clock duration lands in the
// group's histogram bucket regardless of how the invocation returns.
func ObserveInvocation(m *Metrics, group string, start time.Time) func() {
	return func() {
		m.InvocationDuration.WithLabelValues(group).Observe(time.Since(start).Seconds())
	}
}
