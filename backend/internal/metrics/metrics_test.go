package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.AudioReceived(3200)
	m.UtteranceSuppressed("duplicate")
	m.CycleFinished(OutcomeComplete, 1.2)
	m.EventPublished("transcripts", errors.New("broker down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 3200.0, testutil.ToFloat64(m.AudioBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Suppressed.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues(OutcomeComplete)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventPublishes.WithLabelValues("transcripts", "error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "voice_assistant_response_cycles_total")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.AudioReceived(10)
		m.CycleFinished(OutcomeLLMError, 0.1)
		m.AudioChunkRelayed(12)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.FragmentRelayed()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.LLMFragments))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LLMFragments))
}
