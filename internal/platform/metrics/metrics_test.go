package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.Transition("job", "applied")
	m.Transition("job", "applied")
	m.TransitionRejected("job", "no_op_transition")
	m.Transform("created")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("job", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("job", "no_op_transition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transforms.WithLabelValues("created")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("job", "applied")
	m.ObserveTx("transform", time.Millisecond)
	m.ObserveHTTP(http.MethodGet, http.StatusOK, time.Millisecond)
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodPost, http.StatusCreated, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `pipeboard_http_requests_total{method="POST",status="201"} 1`))
}
