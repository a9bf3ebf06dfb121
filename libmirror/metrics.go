package libmirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	downloadCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pkgmirror",
			Subsystem: "sync",
			Name:      "downloads_total",
			Help:      "Number of packages downloaded into the pool.",
		},
		[]string{"repository"},
	)
	downloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pkgmirror",
			Subsystem: "sync",
			Name:      "download_bytes_total",
			Help:      "Bytes transferred from upstreams.",
		},
		[]string{"repository"},
	)
	itemFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pkgmirror",
			Subsystem: "sync",
			Name:      "item_failures_total",
			Help:      "Per-item download or pool failures.",
		},
		[]string{"repository"},
	)
)
