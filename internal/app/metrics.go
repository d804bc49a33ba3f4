package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smsrelay",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "smsrelay",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	outboxEnqueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smsrelay",
			Name:      "outbox_enqueued_total",
			Help:      "Outgoing messages queued for a device.",
		},
		[]string{"device_id"},
	)

	outboxReportedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smsrelay",
			Name:      "outbox_reported_total",
			Help:      "Delivery reports received from devices.",
		},
		[]string{"status", "result"}, // result: applied, repeated, rejected
	)

	inboundReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smsrelay",
			Name:      "inbound_received_total",
			Help:      "Inbound messages pushed by devices.",
		},
		[]string{"device_id"},
	)

	loginAttemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smsrelay",
			Name:      "login_attempts_total",
			Help:      "Login attempts by kind and result.",
		},
		[]string{"kind", "result"}, // kind: viewer, admin; result: success, failure, throttled
	)

	activeSessionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "smsrelay",
			Name:      "active_sessions",
			Help:      "Sessions held in memory, including expired ones not yet swept.",
		},
	)
)

// metricsMiddleware records request count and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}
