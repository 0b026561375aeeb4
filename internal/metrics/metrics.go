package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviu_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviu_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reviu_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reviu_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	feedbackIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviu_feedback_ingested_total",
		Help: "Feedback items seen by ingestion, by source and outcome.",
	}, []string{"source", "outcome"})

	tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviu_token_refresh_total",
		Help: "Provider token refresh attempts by outcome.",
	}, []string{"provider", "outcome"})

	fanoutAccounts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviu_fanout_accounts_total",
		Help: "Per-account deliveries of pushed chat events by outcome.",
	}, []string{"outcome"})
)

// Ingestion outcomes.
const (
	OutcomeAdded     = "added"
	OutcomeSkipped   = "skipped"
	OutcomeFiltered  = "filtered"
	OutcomeFailed    = "failed"
	OutcomeDelivered = "delivered"
	OutcomeRefreshed = "refreshed"
	OutcomeRaced     = "raced"
)

// ObserveFeedback counts one ingestion decision.
func ObserveFeedback(source, outcome string) {
	feedbackIngested.WithLabelValues(source, outcome).Inc()
}

// ObserveTokenRefresh counts one refresh attempt.
func ObserveTokenRefresh(provider, outcome string) {
	tokenRefreshes.WithLabelValues(provider, outcome).Inc()
}

// ObserveFanout counts one per-account delivery.
func ObserveFanout(outcome string) {
	fanoutAccounts.WithLabelValues(outcome).Inc()
}

// Middleware records request metrics once chi has resolved the route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := ww.Status()
			method := r.Method
			duration := time.Since(start).Seconds()
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(method, route).Inc()
			httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDBLatency records database latency for a given operation, labelled with
// the matched route when the call happens inside a request.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	dbLatency.WithLabelValues(operation, routeFromContext(ctx)).Observe(time.Since(start).Seconds())
}

func routeFromContext(ctx context.Context) string {
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "background"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
