package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

func handleRXTimingSetupReq(ctx context.Context, c Context, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.RXTimingSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.RXTimingSetupReqPayload, got %T", cmd.Payload)
	}

	c.Band.SetReceiveDelay1(pl.Delay)
	c.Session.RXDelay = pl.Delay

	log.WithFields(log.Fields{
		"delay":          pl.Delay,
		"receive_delay1": c.Band.ReceiveDelay1(),
		"ctx_id":         ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: rx_timing_setup request handled")

	return c.Uplink.AddSticky(lorawan.MACCommand{CID: lorawan.RXTimingSetupAns})
}
