package maccommand

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// batteryUnknown indicates that the end-device is not able to measure the
// battery level.
const batteryUnknown = 255

func handleDevStatusReq(ctx context.Context, c Context) error {
	battery := uint8(batteryUnknown)
	if c.Battery != nil {
		battery = c.Battery()
	}

	// the margin field is a 6 bit signed integer
	margin := c.Margin
	if margin < -32 {
		margin = -32
	}
	if margin > 31 {
		margin = 31
	}

	log.WithFields(log.Fields{
		"battery": battery,
		"margin":  margin,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: dev_status request handled")

	return c.Uplink.AddAnswer(lorawan.MACCommand{
		CID: lorawan.DevStatusAns,
		Payload: &lorawan.DevStatusAnsPayload{
			Battery: battery,
			Margin:  margin,
		},
	})
}
