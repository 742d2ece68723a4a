package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// handleLinkADRReq handles a block of LinkADRReq commands. The channel-masks
// of the block are applied in order and the result is only set when every
// mask of the block is valid. Each request of the block is answered with the
// same status. The data-rate and tx-power fields are not
// used, the end-device keeps its configured data-rate and tx-power.
func handleLinkADRReq(ctx context.Context, c Context, block []lorawan.MACCommand) error {
	mask := c.Band.ChannelMask()
	maskOK := true

	for _, cmd := range block {
		pl, ok := cmd.Payload.(*lorawan.LinkADRReqPayload)
		if !ok {
			return fmt.Errorf("expected *lorawan.LinkADRReqPayload, got %T", cmd.Payload)
		}

		var err error
		mask, err = c.Band.ApplyChannelMask(mask, pl.Redundancy.ChMaskCntl, pl.ChMask)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"ch_mask_cntl": pl.Redundancy.ChMaskCntl,
				"ctx_id":       ctx.Value(logging.ContextIDKey),
			}).Warning("maccommand: invalid link_adr channel-mask")
			maskOK = false
			break
		}
	}

	if maskOK {
		if err := c.Band.SetChannelMask(mask); err != nil {
			log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Warning("maccommand: set link_adr channel-mask error")
			maskOK = false
		}
	}

	log.WithFields(log.Fields{
		"block_size":       len(block),
		"channel_mask_ack": maskOK,
		"enabled_channels": c.Band.EnabledChannels(),
		"ctx_id":           ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: link_adr request handled")

	return c.Uplink.SetLinkADRAns(lorawan.LinkADRAnsPayload{
		ChannelMaskACK: maskOK,
		DataRateACK:    true,
		PowerACK:       true,
	}, len(block))
}
