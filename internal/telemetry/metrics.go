// Package telemetry exposes Prometheus metrics for the web endpoints, action
// execution and reconciliation ticks.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodemon",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodemon",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodemon",
			Name:      "actions_total",
			Help:      "Executed subscription actions by kind and outcome (changed, noop, error).",
		},
		[]string{"kind", "result"},
	)

	TokensRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodemon",
			Name:      "tokens_rejected_total",
			Help:      "Action tokens that failed decoding or verification.",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodemon",
			Name:      "notifications_total",
			Help:      "Status change notifications by outcome (sent, failed).",
		},
		[]string{"result"},
	)

	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodemon",
			Name:      "ticks_total",
			Help:      "Reconciliation ticks by outcome (ok, error, skipped).",
		},
		[]string{"result"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nodemon",
			Name:      "tick_duration_seconds",
			Help:      "Duration of reconciliation ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	MonitorsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodemon",
			Name:      "monitors",
			Help:      "Number of monitors seen by the last tick.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nodemon",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration,
		ActionsTotal, TokensRejected,
		NotificationsTotal, TicksTotal, TickDuration, MonitorsGauge,
		buildInfo,
	)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
