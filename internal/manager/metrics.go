package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	metricCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostd",
			Subsystem: "completion",
			Name:      "requests_total",
			Help:      "Completion requests by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	metricStale = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostd",
			Subsystem: "completion",
			Name:      "stale_total",
			Help:      "Requests discarded as stale, by checkpoint",
		},
		[]string{"checkpoint"},
	)

	metricLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostd",
			Subsystem: "engine",
			Name:      "loads_total",
			Help:      "Engine loads by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	metricDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ghostd",
			Subsystem: "artifact",
			Name:      "downloads_total",
			Help:      "Model downloads by outcome",
		},
		[]string{"outcome"},
	)

	metricDownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ghostd",
			Subsystem: "artifact",
			Name:      "download_bytes_total",
			Help:      "Bytes received by model downloads",
		},
	)
)

func init() {
	prometheus.MustRegister(metricCompletions, metricStale, metricLoads, metricDownloads, metricDownloadBytes)
}

func (m *Manager) observeCompletion(t Trigger, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsCancelled(err):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	metricCompletions.WithLabelValues(t.String(), outcome).Inc()
}
