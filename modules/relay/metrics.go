package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtpcast",
		Subsystem: module,
		Name:      "packets_total",
		Help:      "Packets forwarded to the sink.",
	})

	bytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtpcast",
		Subsystem: module,
		Name:      "bytes_total",
		Help:      "Bytes forwarded to the sink.",
	})

	sinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtpcast",
		Subsystem: module,
		Name:      "sink_errors_total",
		Help:      "Packets the sink refused.",
	})

	droppedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtpcast",
		Subsystem: module,
		Name:      "dropped_packets_total",
		Help:      "Packets received while no sink was attached.",
	})
)
