package obs

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PermitCreated()
		m.PermitDecided("aprobado")
		m.JobTransition("en_proceso")
		m.NotificationPublished("permisoNotification")
		m.NotificationDropped()
		m.SubscribersChanged(1)
		m.WebhookFailed("http://hooks.local")
	})
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/trabajos/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/trabajos/abc", nil))

	m.PermitCreated()
	m.PermitDecided("rechazado")

	out := scrape(t, m)
	assert.Contains(t, out, `http_requests_total{method="GET",route="/trabajos/{id}",status="418"} 1`)
	assert.NotContains(t, out, "/trabajos/abc")
	assert.Contains(t, out, "permitline_permits_created_total 1")
	assert.Contains(t, out, `permitline_permit_decisions_total{decision="rechazado"} 1`)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
