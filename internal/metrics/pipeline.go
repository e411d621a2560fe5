package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics.
var (
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "verdicts_total",
			Help:      "Upload verdicts by media kind and status",
		},
		[]string{"media", "status"},
	)

	UploadErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "upload_errors_total",
			Help:      "Failed uploads by media kind",
		},
		[]string{"media"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecguard",
			Name:      "processing_duration_seconds",
			Help:      "Wall-clock upload processing time in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"media"},
	)

	FramesSampledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "frames_sampled_total",
			Help:      "Total video frames extracted for consensus",
		},
	)

	ConsensusConfirmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecguard",
			Name:      "consensus_identities_confirmed_total",
			Help:      "Identities confirmed by the video frame consensus rule",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers upload pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(VerdictsTotal)
	prometheus.MustRegister(UploadErrorsTotal)
	prometheus.MustRegister(ProcessingDuration)
	prometheus.MustRegister(FramesSampledTotal)
	prometheus.MustRegister(ConsensusConfirmedTotal)
	pipelineMetricsRegistered = true
}
