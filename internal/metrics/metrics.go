// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label for successful operations.
const OutcomeOK = "ok"

// Auth counts and times credential operations.  A nil *Auth is valid and
// records nothing.
type Auth struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewAuth creates the collectors and registers them with reg.
func NewAuth(reg prometheus.Registerer) *Auth {
	m := &Auth{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Credential operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_operation_duration_seconds",
			Help:    "Latency of credential operations, including hashing.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation"}),
	}
	reg.MustRegister(m.operations, m.duration)
	return m
}

// Observe records one finished operation.
func (m *Auth) Observe(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// HTTP counts responses by method, route template and status.
type HTTP struct {
	requests *prometheus.CounterVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP responses by method, route and status code.",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.requests)
	return m
}

func (m *HTTP) Inc(method, route, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
}
