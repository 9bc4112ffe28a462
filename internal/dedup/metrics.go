package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dedupResultCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "concentrator_dedup_result_total",
	Help: "Total number of concentrator deduplication checks per result.",
}, []string{"result"})

func recordResult(r Result) {
	dedupResultCounter.WithLabelValues(r.String()).Inc()
}
