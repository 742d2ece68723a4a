package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

func handleNewChannelReq(ctx context.Context, c Context, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.NewChannelReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.NewChannelReqPayload, got %T", cmd.Payload)
	}

	s := c.Band.SetChannel(int(pl.ChIndex), pl.Freq, int(pl.MinDR), int(pl.MaxDR))

	log.WithFields(log.Fields{
		"channel":       pl.ChIndex,
		"frequency":     pl.Freq,
		"min_dr":        pl.MinDR,
		"max_dr":        pl.MaxDR,
		"frequency_ack": s.FrequencyOK,
		"dr_range_ack":  s.DataRateOK,
		"ctx_id":        ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: new_channel request handled")

	return c.Uplink.AddAnswer(lorawan.MACCommand{
		CID: lorawan.NewChannelAns,
		Payload: &lorawan.NewChannelAnsPayload{
			ChannelFrequencyOK: s.FrequencyOK,
			DataRateRangeOK:    s.DataRateOK,
		},
	})
}
