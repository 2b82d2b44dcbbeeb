package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StateTransition("audio", "idle", "closed")
		m.PipelineCreated("audio")
		m.PipelineDiscarded("audio", "format")
		m.HandleFailure("capture")
		m.SetMixerParticipants(1)
		m.SetLevelListeners(1)
		m.PreferenceMutation("capture", "insert")
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.StateTransition("audio", "idle", "captureconnected")
	m.StateTransition("audio", "idle", "captureconnected")
	m.PipelineDiscarded("video", "output-size")
	m.SetMixerParticipants(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stateTransitions.WithLabelValues("audio", "idle", "captureconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelinesDiscarded.WithLabelValues("video", "output-size")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.mixerParticipants))

	// A second set of collectors on its own registry does not collide.
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.PipelineCreated("audio")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `mediacore_session_pipelines_created_total{media_type="audio"} 1`))
}
