package training

import "github.com/prometheus/client_golang/prometheus"

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "illustrationd",
		Subsystem: "training",
		Name:      "jobs_total",
		Help:      "Training job status changes (pending, running, completed, failed, rejected).",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(jobsTotal)
}
