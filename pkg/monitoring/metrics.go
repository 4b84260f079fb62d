package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection for the reminder agent
type MetricsCollector struct {
	serviceName string
	gatherer    prometheus.Gatherer

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	syncPassesTotal       *prometheus.CounterVec
	syncDuration          *prometheus.HistogramVec
	notificationsTotal    *prometheus.CounterVec
	proximityAlertsTotal  *prometheus.CounterVec
	suppressedErrorsTotal *prometheus.CounterVec
	permissionStatus      *prometheus.GaugeVec
	pendingTimers         *prometheus.GaugeVec
}

// NewMetricsCollector creates a collector registered on reg.
// Passing prometheus.DefaultRegisterer exposes the metrics through the default handler.
func NewMetricsCollector(serviceName string, reg prometheus.Registerer) *MetricsCollector {
	m := &MetricsCollector{
		serviceName: serviceName,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code", "service"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "service"},
		),
		syncPassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_sync_passes_total",
				Help: "Total number of synchronizer passes by outcome",
			},
			[]string{"outcome", "service"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reminder_sync_duration_seconds",
				Help:    "Duration of synchronizer passes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
			[]string{"service"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_notifications_total",
				Help: "Total number of backend notification operations",
			},
			[]string{"backend", "operation", "status", "service"},
		),
		proximityAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_proximity_alerts_total",
				Help: "Total number of proximity alerts fired",
			},
			[]string{"band", "service"},
		),
		suppressedErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_suppressed_errors_total",
				Help: "Total number of failures handled without surfacing to the caller",
			},
			[]string{"error_type", "component", "service"},
		),
		permissionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reminder_permission_status",
				Help: "Current notification permission status (1 for the active status)",
			},
			[]string{"status", "service"},
		),
		pendingTimers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reminder_pending_timers",
				Help: "Number of armed in-process timers",
			},
			[]string{"service"},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.syncPassesTotal,
		m.syncDuration,
		m.notificationsTotal,
		m.proximityAlertsTotal,
		m.suppressedErrorsTotal,
		m.permissionStatus,
		m.pendingTimers,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}

	return m
}

// NewNopMetrics returns a collector bound to a private registry
func NewNopMetrics() *MetricsCollector {
	return NewMetricsCollector("test", prometheus.NewRegistry())
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordSyncPass records the outcome and duration of one synchronizer pass
func (m *MetricsCollector) RecordSyncPass(outcome string, duration time.Duration) {
	m.syncPassesTotal.WithLabelValues(outcome, m.serviceName).Inc()
	m.syncDuration.WithLabelValues(m.serviceName).Observe(duration.Seconds())
}

// RecordNotification records one backend operation
func (m *MetricsCollector) RecordNotification(backend, operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.notificationsTotal.WithLabelValues(backend, operation, status, m.serviceName).Inc()
}

// RecordProximityAlert records a fired proximity band
func (m *MetricsCollector) RecordProximityAlert(band string) {
	m.proximityAlertsTotal.WithLabelValues(band, m.serviceName).Inc()
}

// RecordSuppressedError records a failure that was logged instead of returned
func (m *MetricsCollector) RecordSuppressedError(errorType, component string) {
	m.suppressedErrorsTotal.WithLabelValues(errorType, component, m.serviceName).Inc()
}

// SetPermissionStatus marks status as the active permission status
func (m *MetricsCollector) SetPermissionStatus(status string) {
	for _, s := range []string{"unrequested", "granted", "denied"} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.permissionStatus.WithLabelValues(s, m.serviceName).Set(v)
	}
}

// SetPendingTimers records the number of armed web timers
func (m *MetricsCollector) SetPendingTimers(n int) {
	m.pendingTimers.WithLabelValues(m.serviceName).Set(float64(n))
}

// SuppressedErrors exposes the suppressed error counter for assertions
func (m *MetricsCollector) SuppressedErrors(errorType, component string) prometheus.Counter {
	return m.suppressedErrorsTotal.WithLabelValues(errorType, component, m.serviceName)
}

// Notifications exposes the notification counter for assertions
func (m *MetricsCollector) Notifications(backend, operation string, success bool) prometheus.Counter {
	status := "success"
	if !success {
		status = "failure"
	}
	return m.notificationsTotal.WithLabelValues(backend, operation, status, m.serviceName)
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
