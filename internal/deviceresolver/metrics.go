package deviceresolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devaddr_cache_hit_total",
		Help: "Total number of GetDeviceList calls served entirely from the DevAddr cache, no registry call.",
	})

	cacheMissCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devaddr_cache_miss_total",
		Help: "Total number of GetDeviceList calls that required at least one registry call.",
	})

	negativeCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devaddr_cache_negative_hit_total",
		Help: "Total number of GetDeviceList calls short-circuited by a negative-cache entry.",
	})
)
