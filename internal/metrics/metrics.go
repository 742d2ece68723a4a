// Package metrics exposes the end-device metrics over a Prometheus endpoint.
package metrics

import (
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/config"
)

var info = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "end_device_info",
	Help: "Static information about the end-device (always set to 1).",
}, []string{"version", "band", "dev_eui"})

// Setup publishes the device info metric and, when enabled, starts the
// Prometheus endpoint on /metrics. A bind error is returned to the caller.
func Setup(c config.Config) error {
	info.WithLabelValues(config.Version, c.Band.Name, c.Device.DevEUI.String()).Set(1)

	if !c.Metrics.Prometheus.EndpointEnabled {
		return nil
	}

	ln, err := net.Listen("tcp", c.Metrics.Prometheus.Bind)
	if err != nil {
		return errors.Wrap(err, "listen error")
	}

	log.WithFields(log.Fields{
		"bind":    ln.Addr().String(),
		"dev_eui": c.Device.DevEUI,
	}).Info("metrics: serving prometheus metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := http.Server{Handler: mux}

	go func() {
		if err := server.Serve(ln); err != nil {
			log.WithError(err).Error("metrics: prometheus endpoint stopped")
		}
	}()

	return nil
}
