package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/livetemplate/labkit"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOutcome(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, OutcomeLoaded},
		{&labkit.NotFoundError{Lab: "x"}, OutcomeNotFound},
		{&labkit.FetchError{Lab: "x", StatusCode: 500}, OutcomeFetch},
		{&labkit.InitializationError{Reason: "timeout"}, OutcomeInit},
		{errors.New("boom"), OutcomeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, LoadOutcome(tt.err))
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.LabLoaded(OutcomeLoaded)
	m.LabLoaded(OutcomeLoaded)
	m.LabLoaded(OutcomeNotFound)
	m.TestsRun("flexbox", 50)
	m.ValidatorFailed("css")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.labLoads.WithLabelValues(OutcomeLoaded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.labLoads.WithLabelValues(OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.testRuns.WithLabelValues("flexbox")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validatorFailures.WithLabelValues("css")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LabLoaded(OutcomeLoaded)
	m.TestsRun("x", 100)
	m.ValidatorFailed("html")
	m.SessionOpened()
	m.SessionClosed()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Middleware(h))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.LabLoaded(OutcomeLoaded)

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `labkit_lab_loads_total{outcome="loaded"} 1`)
	assert.Contains(t, string(body), `labkit_http_requests_total{code="204",method="get"} 1`)
}
