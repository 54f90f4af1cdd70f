package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent_arena"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	matchTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matches",
			Name:      "transitions_total",
			Help:      "Match lifecycle transitions by game type and resulting status.",
		},
		[]string{"game_type", "status"},
	)

	matchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matches",
			Name:      "results_total",
			Help:      "Completed matches by result (winner or draw).",
		},
		[]string{"game_type", "result"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submissions",
			Name:      "total",
			Help:      "Answer submissions by outcome.",
		},
		[]string{"outcome"},
	)

	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submissions",
			Name:      "response_time_seconds",
			Help:      "Time between a round opening and an answer arriving.",
			Buckets:   prometheus.LinearBuckets(1, 3, 12),
		},
	)

	conflictRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conflict_retries_total",
			Help:      "Optimistic update conflicts that triggered a fresh read.",
		},
		[]string{"op"},
	)

	outcomeDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "deliveries_total",
			Help:      "Match outcome deliveries to the stats collaborator.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		matchTransitions,
		matchResults,
		submissions,
		responseTime,
		conflictRetries,
		outcomeDeliveries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		route := &routeLabel{}

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), routeKey{}, route)))

		path := route.value()
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func MatchTransition(gameType, status string) {
	matchTransitions.WithLabelValues(gameType, status).Inc()
}

func MatchResult(gameType string, draw bool) {
	result := "winner"
	if draw {
		result = "draw"
	}
	matchResults.WithLabelValues(gameType, result).Inc()
}

func SubmissionRecorded(correct bool, responseTimeMs int64) {
	outcome := "wrong"
	if correct {
		outcome = "correct"
	}
	submissions.WithLabelValues(outcome).Inc()
	responseTime.Observe(float64(responseTimeMs) / 1000)
}

func SubmissionReplayed() {
	submissions.WithLabelValues("replayed").Inc()
}

func ConflictRetry(op string) {
	conflictRetries.WithLabelValues(op).Inc()
}

func OutcomeDelivery(delivered bool) {
	result := "failed"
	if delivered {
		result = "delivered"
	}
	outcomeDeliveries.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

const unmatchedRoute = "unmatched"

type routeKey struct{}

type routeLabel struct{ pattern string }

func (l *routeLabel) value() string {
	if l.pattern == "" {
		return unmatchedRoute
	}
	return l.pattern
}

// SetRoute records the mux pattern that served the request, so the path label
// stays one series per route. Requests that never call it are labelled
// "unmatched".
func SetRoute(ctx context.Context, pattern string) {
	l, ok := ctx.Value(routeKey{}).(*routeLabel)
	if !ok {
		return
	}
	if _, path, found := strings.Cut(pattern, " "); found {
		pattern = path
	}
	l.pattern = pattern
}
