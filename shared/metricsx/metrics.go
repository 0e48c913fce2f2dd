package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_upstream_requests_total",
			Help: "Upstream telemetry API requests by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)
	rowsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_rows_loaded_total",
			Help: "Telemetry rows written per destination table.",
		},
		[]string{"table"},
	)
	loadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_load_failures_total",
			Help: "Bulk load failures per destination table.",
		},
		[]string{"table"},
	)
	syncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sync_failures_total",
			Help: "Failed sync runs per robot.",
		},
		[]string{"robot"},
	)
	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_sync_duration_seconds",
			Help:    "Duration of one robot sync in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(httpRequests, httpLatency, upstreamRequests, rowsLoaded, loadFailures, syncFailures, syncDuration, asynqQueueDepth)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncUpstreamRequest(endpoint string, status int) {
	upstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func AddRowsLoaded(table string, n int) {
	rowsLoaded.WithLabelValues(table).Add(float64(n))
}

func IncLoadFailure(table string) {
	loadFailures.WithLabelValues(table).Inc()
}

func IncSyncFailure(robot string) {
	syncFailures.WithLabelValues(robot).Inc()
}

func ObserveSyncDuration(d time.Duration) {
	syncDuration.Observe(d.Seconds())
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
