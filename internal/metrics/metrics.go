// Package metrics exposes Prometheus instruments for the presence lifecycle.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "presence"

// Lifecycle transitions counted by Transition.
const (
	TransitionJoined      = "joined"
	TransitionReconnected = "reconnected" // CONFIRMED_DISCONNECTED -> CONNECTED
	TransitionResumed     = "resumed"     // GRACE_PERIOD -> CONNECTED
	TransitionTakeover    = "takeover"    // CONNECTED -> CONNECTED, new socket
	TransitionGrace       = "grace"
	TransitionConfirmed   = "confirmed"
	TransitionExpired     = "expired"
)

type Metrics struct {
	registerer    prometheus.Registerer
	transitions   *prometheus.CounterVec
	teardowns     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepResults  *prometheus.CounterVec
}

// New registers the lifecycle instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registerer: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Membership state transitions applied by this process",
		}, []string{"transition"}),
		teardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_teardowns_total",
			Help:      "Rooms torn down by this process",
		}, []string{"reason"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of inactivity sweep passes",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_results_total",
			Help:      "Outcomes of inactivity sweeps",
		}, []string{"result"}),
	}
}

func (m *Metrics) Transition(name string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name).Inc()
}

func (m *Metrics) Teardown(reason string) {
	if m == nil {
		return
	}
	m.teardowns.WithLabelValues(reason).Inc()
}

// ObserveSweep records one completed pass.
func (m *Metrics) ObserveSweep(d time.Duration, expired, roomsEnded, orphans, errs int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
	m.sweepResults.WithLabelValues("expired").Add(float64(expired))
	m.sweepResults.WithLabelValues("rooms_ended").Add(float64(roomsEnded))
	m.sweepResults.WithLabelValues("orphans_confirmed").Add(float64(orphans))
	m.sweepResults.WithLabelValues("errors").Add(float64(errs))
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}
