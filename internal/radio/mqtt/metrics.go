package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_mqtt_event_count",
		Help: "The number of events of the MQTT radio (per event type).",
	}, []string{"event"})

	mqttc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_mqtt_connect_count",
		Help: "The number of times the MQTT radio connected to the MQTT broker.",
	})

	mqttd = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_mqtt_disconnect_count",
		Help: "The number of times the MQTT radio disconnected from the MQTT broker.",
	})
)

func mqttEventCounter(e string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e})
}

func mqttConnectCounter() prometheus.Counter {
	return mqttc
}

func mqttDisconnectCounter() prometheus.Counter {
	return mqttd
}
