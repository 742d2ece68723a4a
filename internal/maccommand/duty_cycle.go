package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

func handleDutyCycleReq(ctx context.Context, c Context, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.DutyCycleReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.DutyCycleReqPayload, got %T", cmd.Payload)
	}

	c.Session.MaxDutyCycle = pl.MaxDCycle

	log.WithFields(log.Fields{
		"max_duty_cycle": pl.MaxDCycle,
		"ctx_id":         ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: duty_cycle request handled")

	return c.Uplink.AddAnswer(lorawan.MACCommand{CID: lorawan.DutyCycleAns})
}
