package registrysync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_sync_total",
		Help: "Total number of registry synchronisations per kind and outcome.",
	}, []string{"kind", "outcome"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "registry_sync_duration_seconds",
		Help: "Duration of registry synchronisations per kind.",
	}, []string{"kind"})
)

func recordSync(kind, outcome string, seconds float64) {
	syncCounter.WithLabelValues(kind, outcome).Inc()
	syncDuration.WithLabelValues(kind).Observe(seconds)
}
