package mac

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jrc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mac_join_request_count",
		Help: "The number of join-requests sent.",
	})

	jac = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mac_join_accept_count",
		Help: "The number of valid join-accepts received.",
	})

	jnac = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mac_join_no_accept_count",
		Help: "The number of join-requests for which no join-accept was received.",
	})

	uc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_uplink_count",
		Help: "The number of uplinks sent (per confirmed flag).",
	}, []string{"confirmed"})

	dc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_downlink_count",
		Help: "The number of valid downlinks received (per downlink type).",
	}, []string{"type"})

	fdc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_frame_dropped_count",
		Help: "The number of received frames that were discarded (per reason).",
	}, []string{"reason"})

	doc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mac_downlink_overwritten_count",
		Help: "The number of application downlinks overwritten before being consumed.",
	})
)

func joinRequestCounter() prometheus.Counter {
	return jrc
}

func joinAcceptCounter() prometheus.Counter {
	return jac
}

func joinNoAcceptCounter() prometheus.Counter {
	return jnac
}

func uplinkCounter(confirmed string) prometheus.Counter {
	return uc.With(prometheus.Labels{"confirmed": confirmed})
}

func downlinkCounter(typ string) prometheus.Counter {
	return dc.With(prometheus.Labels{"type": typ})
}

func frameDroppedCounter(reason string) prometheus.Counter {
	return fdc.With(prometheus.Labels{"reason": reason})
}

func downlinkOverwrittenCounter() prometheus.Counter {
	return doc
}
