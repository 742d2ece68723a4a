package maccommand

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/band"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// handleTxParamSetupReq handles the TxParamSetupReq. Regions that do not
// implement the command ignore it and do not answer.
func handleTxParamSetupReq(ctx context.Context, c Context, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.TXParamSetupReqPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.TXParamSetupReqPayload, got %T", cmd.Payload)
	}

	err := c.Band.SetTXParams(pl.UplinkDwellTime, pl.DownlinkDwellTime, int(pl.MaxEIRP))
	if err != nil {
		if errors.Cause(err) == band.ErrNotSupported {
			log.WithFields(log.Fields{
				"band":   c.Band.Name(),
				"ctx_id": ctx.Value(logging.ContextIDKey),
			}).Debug("maccommand: tx_param_setup not supported by band, ignoring")
			return nil
		}
		return errors.Wrap(err, "set tx params error")
	}

	log.WithFields(log.Fields{
		"uplink_dwell_time":   pl.UplinkDwellTime,
		"downlink_dwell_time": pl.DownlinkDwellTime,
		"max_eirp":            pl.MaxEIRP,
		"ctx_id":              ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: tx_param_setup request handled")

	return c.Uplink.AddAnswer(lorawan.MACCommand{CID: lorawan.TxParamSetupAns})
}
