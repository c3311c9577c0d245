package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry so several
// servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	permitsCreated   prometheus.Counter
	permitDecisions  *prometheus.CounterVec
	jobTransitions   *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	notificationDrop prometheus.Counter
	subscribers      prometheus.Gauge
	webhookFailures  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		permitsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "permitline_permits_created_total",
			Help: "Permits created.",
		}),
		permitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permitline_permit_decisions_total",
			Help: "Permit decisions by outcome.",
		}, []string{"decision"}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permitline_job_transitions_total",
			Help: "Job state transitions by target state.",
		}, []string{"to"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permitline_notifications_published_total",
			Help: "Notifications published by event.",
		}, []string{"event"}),
		notificationDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "permitline_notifications_dropped_total",
			Help: "Notifications dropped for slow subscribers.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "permitline_stream_subscribers",
			Help: "Connected notification subscribers.",
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permitline_webhook_failures_total",
			Help: "Failed webhook deliveries by endpoint.",
		}, []string{"url"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.permitsCreated, m.permitDecisions, m.jobTransitions,
		m.notifications, m.notificationDrop, m.subscribers, m.webhookFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument records RPS, latency and in-flight requests. The route label is
// the chi pattern so ids do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// The recorders below accept a nil receiver so callers can run without metrics.

func (m *Metrics) PermitCreated() {
	if m != nil {
		m.permitsCreated.Inc()
	}
}

func (m *Metrics) PermitDecided(decision string) {
	if m != nil {
		m.permitDecisions.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) JobTransition(to string) {
	if m != nil {
		m.jobTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) NotificationPublished(event string) {
	if m != nil {
		m.notifications.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.notificationDrop.Inc()
	}
}

func (m *Metrics) SubscribersChanged(delta float64) {
	if m != nil {
		m.subscribers.Add(delta)
	}
}

func (m *Metrics) WebhookFailed(url string) {
	if m != nil {
		m.webhookFailures.WithLabelValues(url).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
