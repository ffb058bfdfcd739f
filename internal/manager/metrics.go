package manager

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "illustrationd"

var (
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "generation_duration_seconds",
			Help:      "Time spent in Generate, including queueing, by outcome.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)
	adapterAttachTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "adapter_attach_total",
			Help:      "Adapter attach attempts by outcome (hit, loaded, download_error, load_error).",
		},
		[]string{"outcome"},
	)
	adapterEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "adapter_evictions_total",
			Help:      "Adapters unloaded to stay within the loaded adapter limit.",
		},
	)
	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "backpressure_total",
			Help:      "Requests rejected before reaching the pipeline, by reason.",
		},
		[]string{"reason"},
	)
	pipelineReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "ready",
			Help:      "1 when the diffusion pipeline is loaded and serving.",
		},
	)
)

func init() {
	prometheus.MustRegister(generationDuration, adapterAttachTotal, adapterEvictionsTotal, backpressureTotal, pipelineReady)
}
