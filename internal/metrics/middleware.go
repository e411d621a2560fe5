package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Label values for requests that never reach a route or carry no upload.
const (
	RouteUnmatched = "unmatched"
	MediaNone      = "none"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds by route and uploaded media kind",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "media", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route and uploaded media kind",
		},
		[]string{"method", "route", "media", "status"},
	)

	httpUploadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecguard",
			Name:      "http_upload_bytes",
			Help:      "Size of uploaded files in bytes",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 4, 8),
		},
		[]string{"media"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpUploadBytes)
}

type mediaKey struct{}

// requestMedia is filled in by the upload handler while the request is served.
type requestMedia struct {
	kind string
}

// ObserveUpload records the size of an uploaded file and labels the
// enclosing request's metrics with its media kind. It is a no-op for the
// request labels outside Middleware.
func ObserveUpload(ctx context.Context, kind string, size int) {
	httpUploadBytes.WithLabelValues(kind).Observe(float64(size))
	if m, ok := ctx.Value(mediaKey{}).(*requestMedia); ok {
		m.kind = kind
	}
}

// Middleware records HTTP request duration and count per chi route pattern.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			media := &requestMedia{kind: MediaNone}

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), mediaKey{}, media)))

			labels := []string{r.Method, routeLabel(r), media.kind, strconv.Itoa(ww.status)}
			httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(labels...).Inc()
		})
	}
}

// routeLabel keeps label cardinality bounded: raw paths of unrouted
// requests collapse into one value.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return RouteUnmatched
	}
	return rctx.RoutePattern()
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b) //nolint:wrapcheck // delegating to underlying ResponseWriter
}
