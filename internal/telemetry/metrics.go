package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Total events accepted by the capture endpoints, by data type",
		},
		[]string{"data_type"},
	)
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total events dropped by a restriction-service rule",
		},
		[]string{"reason"},
	)
	FlagEvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flag_evaluation_duration_seconds",
		Help:    "Wall time to evaluate the requested flag set for one /flags/ request",
		Buckets: prometheus.DefBuckets,
	})
	FlagsCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flags_cache_result_total",
			Help: "Flag State Loader cache outcomes",
		},
		[]string{"result"}, // hit, miss, negative
	)
	SinkHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sink_healthy",
			Help: "1 if the named sink's last health check passed",
		},
		[]string{"sink"},
	)
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, EventsIngested, EventsDropped,
		FlagEvaluationDuration, FlagsCacheHits, SinkHealthy)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
