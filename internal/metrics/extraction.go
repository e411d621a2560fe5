package metrics

import "github.com/prometheus/client_golang/prometheus"

// Signature extraction Prometheus metrics.
var (
	ExtractionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "signature_requests_total",
			Help:      "Total number of signature backend requests",
		},
		[]string{"backend", "model", "status"},
	)

	ExtractionRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecguard",
			Name:      "signature_request_duration_seconds",
			Help:      "Signature backend request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "model"},
	)

	ExtractionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "signature_errors_total",
			Help:      "Total signature backend errors",
		},
		[]string{"backend", "model", "error_type"},
	)

	ExtractionFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "signature_fallbacks_total",
			Help:      "Extractions served by the fallback backend after a primary failure",
		},
	)

	SignatureCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "signature_cache_total",
			Help:      "Signature cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var extractionMetricsRegistered bool

// RegisterExtractionMetrics registers signature extraction metrics. Must be called once from main.
func RegisterExtractionMetrics() {
	if extractionMetricsRegistered {
		return
	}
	prometheus.MustRegister(ExtractionRequestsTotal)
	prometheus.MustRegister(ExtractionRequestDuration)
	prometheus.MustRegister(ExtractionErrorsTotal)
	prometheus.MustRegister(ExtractionFallbacksTotal)
	prometheus.MustRegister(SignatureCacheTotal)
	extractionMetricsRegistered = true
}
