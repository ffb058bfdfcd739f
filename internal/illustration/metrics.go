package illustration

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "illustrationd",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Illustration requests by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "illustrationd",
			Subsystem: "generation",
			Name:      "request_duration_seconds",
			Help:      "End-to-end illustration request duration.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}
