package uplink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uad = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_mac_command_dropped_count",
		Help: "The number of mac-commands dropped because of the FOpts capacity (per command).",
	}, []string{"command"})
)

func uplinkAnswerDroppedCounter(cmd string) prometheus.Counter {
	return uad.With(prometheus.Labels{"command": cmd})
}
