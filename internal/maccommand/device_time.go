package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// RequestDeviceTime adds a DeviceTimeReq to the next uplink.
func RequestDeviceTime(c Context) error {
	return c.Uplink.AddRequest(lorawan.DeviceTimeReq)
}

func handleDeviceTimeAns(ctx context.Context, c Context, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.DeviceTimeAnsPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.DeviceTimeAnsPayload, got %T", cmd.Payload)
	}

	log.WithFields(log.Fields{
		"time_since_gps_epoch": pl.TimeSinceGPSEpoch,
		"ctx_id":               ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: device_time answer received")

	if c.DeviceTime != nil {
		c.DeviceTime(pl.TimeSinceGPSEpoch)
	}

	return nil
}
