package player

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtpcast",
		Subsystem: module,
		Name:      "state",
		Help:      "Current playback state (0 idle, 1 playing, 2 paused, 3 stopped).",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtpcast",
		Subsystem: module,
		Name:      "events_total",
		Help:      "Lifecycle events published by type.",
	}, []string{"type"})

	positionSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtpcast",
		Subsystem: module,
		Name:      "position_seconds",
		Help:      "Playback position of the current session.",
	})
)
