package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

func handleDlChannelReq(ctx context.Context, c Context, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.DlChannelReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.DlChannelReqPayload, got %T", cmd.Payload)
	}

	s := c.Band.SetDownlinkFrequency(int(pl.ChIndex), pl.Freq)

	log.WithFields(log.Fields{
		"channel":                 pl.ChIndex,
		"frequency":               pl.Freq,
		"frequency_ack":           s.FrequencyOK,
		"uplink_frequency_exists": s.DataRateOK,
		"ctx_id":                  ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: dl_channel request handled")

	return c.Uplink.AddSticky(lorawan.MACCommand{
		CID: lorawan.DlChannelAns,
		Payload: &lorawan.DlChannelAnsPayload{
			ChannelFrequencyOK:    s.FrequencyOK,
			UplinkFrequencyExists: s.DataRateOK,
		},
	})
}
