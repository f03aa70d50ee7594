package metrics

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
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sollotto_build_info",
			Help: "Build information of the sollotto service",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sollotto_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sollotto_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sollotto_purchases_total",
			Help: "Total number of confirmed ticket purchases",
		},
		[]string{"cadence"},
	)

	PotLamports = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sollotto_pot_lamports",
			Help: "Current pot per cadence in lamports",
		},
		[]string{"cadence"},
	)

	DrawsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sollotto_draws_total",
			Help: "Total number of draws fired",
		},
		[]string{"cadence", "outcome"}, // "settled", "no_participants", "resumed", "error"
	)

	DrawDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sollotto_draw_duration_seconds",
			Help:    "Duration of draw execution in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"cadence"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sollotto_transfers_total",
			Help: "Total number of payout transfer attempts",
		},
		[]string{"kind", "status"}, // kind: "operator_cut"/"prize", status: "success"/"failed"
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sollotto_notifications_total",
			Help: "Total number of draw result notifications published",
		},
		[]string{"status"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordDraw records metrics for a completed draw invocation.
func RecordDraw(cadence string, outcome string, duration time.Duration) {
	DrawsTotal.WithLabelValues(cadence, outcome).Inc()
	DrawDuration.WithLabelValues(cadence).Observe(duration.Seconds())
}

// RecordTransfer records a payout transfer attempt.
func RecordTransfer(kind string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	TransfersTotal.WithLabelValues(kind, status).Inc()
}

// RecordNotification records a draw result publish attempt.
func RecordNotification(err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	NotificationsTotal.WithLabelValues(status).Inc()
}
