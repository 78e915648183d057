package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"upsync/pkg/logger"
)

// Requests slower than this get a lightweight log line.
const slowThreshold = 200 * time.Millisecond

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upsync_http_requests_total",
		Help: "Admin API requests by method and status code.",
	}, []string{"method", "code"})

	httpDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upsync_http_request_duration_seconds",
		Help:    "Admin API request latency.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(httpRequests)
	prometheus.MustRegister(httpDuration)
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware wraps next with request counting, latency recording and slow
// request logging.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		dur := time.Since(start)
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(srw.status)).Inc()
		httpDuration.Observe(dur.Seconds())
		if dur > slowThreshold {
			logger.Warn("slow_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", srw.status,
				"duration_ms", dur.Milliseconds())
		}
	})
}
