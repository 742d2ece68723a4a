package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

func handleRXParamSetupReq(ctx context.Context, c Context, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.RXParamSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.RXParamSetupReqPayload, got %T", cmd.Payload)
	}

	s := c.Band.SetRXParameters(int(pl.DLSettings.RX1DROffset), pl.Frequency, int(pl.DLSettings.RX2DataRate))
	if s.OK() {
		c.Session.RX1DROffset = int(pl.DLSettings.RX1DROffset)
		c.Session.RX2Frequency = pl.Frequency
		c.Session.RX2DataRate = int(pl.DLSettings.RX2DataRate)
	}

	log.WithFields(log.Fields{
		"rx2_frequency":     pl.Frequency,
		"rx2_dr":            pl.DLSettings.RX2DataRate,
		"rx1_dr_offset":     pl.DLSettings.RX1DROffset,
		"channel_ack":       s.ChannelOK,
		"rx2_dr_ack":        s.RX2DataRateOK,
		"rx1_dr_offset_ack": s.RX1DROffsetOK,
		"ctx_id":            ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: rx_param_setup request handled")

	return c.Uplink.AddSticky(lorawan.MACCommand{
		CID: lorawan.RXParamSetupAns,
		Payload: &lorawan.RXParamSetupAnsPayload{
			ChannelACK:     s.ChannelOK,
			RX2DataRateACK: s.RX2DataRateOK,
			RX1DROffsetACK: s.RX1DROffsetOK,
		},
	})
}
