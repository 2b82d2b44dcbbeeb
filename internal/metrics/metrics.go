// Package metrics exports Prometheus counters for device sessions, the
// audio mixer and device preferences.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediacore"

type Metrics struct {
	stateTransitions    *prometheus.CounterVec
	pipelinesCreated    *prometheus.CounterVec
	pipelinesDiscarded  *prometheus.CounterVec
	handleFailures      *prometheus.CounterVec
	mixerParticipants   prometheus.Gauge
	levelListeners      prometheus.Gauge
	preferenceMutations *prometheus.CounterVec
}

// Create and register the collectors with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Device session state machine transitions",
		}, []string{"media_type", "from", "to"}),
		pipelinesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "pipelines_created_total",
			Help:      "Processing pipelines created by device sessions",
		}, []string{"media_type"}),
		pipelinesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "pipelines_discarded_total",
			Help:      "Processing pipelines discarded before the session closed",
		}, []string{"media_type", "reason"}),
		handleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handle_failures_total",
			Help:      "Failures to create or connect capture, pipeline and render handles",
		}, []string{"kind"}),
		mixerParticipants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mixer",
			Name:      "participants",
			Help:      "Calls currently sharing the audio mixer",
		}),
		levelListeners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mixer",
			Name:      "level_listeners",
			Help:      "Distinct listeners registered for the local audio level",
		}),
		preferenceMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devicepref",
			Name:      "mutations_total",
			Help:      "Writes to persisted device preference lists",
		}, []string{"category", "kind"}),
	}
}

func (m *Metrics) StateTransition(mediaType, from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(mediaType, from, to).Inc()
}

func (m *Metrics) PipelineCreated(mediaType string) {
	if m == nil {
		return
	}
	m.pipelinesCreated.WithLabelValues(mediaType).Inc()
}

func (m *Metrics) PipelineDiscarded(mediaType, reason string) {
	if m == nil {
		return
	}
	m.pipelinesDiscarded.WithLabelValues(mediaType, reason).Inc()
}

// kind is one of "capture", "pipeline", "player" or "renderer".
func (m *Metrics) HandleFailure(kind string) {
	if m == nil {
		return
	}
	m.handleFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetMixerParticipants(n int) {
	if m == nil {
		return
	}
	m.mixerParticipants.Set(float64(n))
}

func (m *Metrics) SetLevelListeners(n int) {
	if m == nil {
		return
	}
	m.levelListeners.Set(float64(n))
}

func (m *Metrics) PreferenceMutation(category, kind string) {
	if m == nil {
		return
	}
	m.preferenceMutations.WithLabelValues(category, kind).Inc()
}

// Handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
