package transcoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	spawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtpcast",
			Subsystem: "transcoder",
			Name:      "spawns_total",
			Help:      "Transcoder spawn attempts by result.",
		},
		[]string{"result"},
	)

	exitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtpcast",
			Subsystem: "transcoder",
			Name:      "exits_total",
			Help:      "Transcoder process exits by kind.",
		},
		[]string{"kind"},
	)
)
