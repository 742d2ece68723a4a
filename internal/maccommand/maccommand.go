// Package maccommand handles the MAC commands sent by the network server.
package maccommand

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/band"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/chirpstack-end-device/internal/uplink"
)

// Context holds the device state the MAC commands operate on.
type Context struct {
	Band    band.Band
	Uplink  *uplink.State
	Session *storage.DeviceSession

	// Battery returns the battery level reported in the DevStatusAns
	// (0 = external power source, 1 - 254 = level, 255 = unknown). When
	// nil, 255 is reported.
	Battery func() uint8

	// Margin holds the demodulation SNR of the last received downlink.
	Margin int8

	// DeviceTime is called with the received DeviceTimeAns (optional).
	DeviceTime func(sinceGPSEpoch time.Duration)
}

// Handle handles the given MAC commands in order. Commands that change the
// band state are applied directly, the answers are added to the uplink
// state. When an answer does not fit the uplink, it is dropped, the
// remaining commands are still handled and the first error is returned.
func Handle(ctx context.Context, c Context, cmds []lorawan.MACCommand) error {
	var firstErr error

	for i := 0; i < len(cmds); i++ {
		var err error

		switch cmds[i].CID {
		case lorawan.LinkADRReq:
			// consecutive LinkADRReq commands form one block
			j := i + 1
			for j < len(cmds) && cmds[j].CID == lorawan.LinkADRReq {
				j++
			}
			err = handleLinkADRReq(ctx, c, cmds[i:j])
			i = j - 1
		case lorawan.DutyCycleReq:
			err = handleDutyCycleReq(ctx, c, cmds[i])
		case lorawan.RXParamSetupReq:
			err = handleRXParamSetupReq(ctx, c, cmds[i])
		case lorawan.DevStatusReq:
			err = handleDevStatusReq(ctx, c)
		case lorawan.NewChannelReq:
			err = handleNewChannelReq(ctx, c, cmds[i])
		case lorawan.RXTimingSetupReq:
			err = handleRXTimingSetupReq(ctx, c, cmds[i])
		case lorawan.TxParamSetupReq:
			err = handleTxParamSetupReq(ctx, c, cmds[i])
		case lorawan.DlChannelReq:
			err = handleDlChannelReq(ctx, c, cmds[i])
		case lorawan.LinkCheckAns:
			err = handleLinkCheckAns(ctx, c, cmds[i])
		case lorawan.DeviceTimeAns:
			err = handleDeviceTimeAns(ctx, c, cmds[i])
		default:
			err = fmt.Errorf("undefined CID %d", cmds[i].CID)
		}

		if err == nil {
			continue
		}

		if errors.Cause(err) == uplink.ErrAnswerCapacity {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		log.WithError(err).WithFields(log.Fields{
			"cid":    cmds[i].CID,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Warning("maccommand: handle mac-command error")
	}

	return firstErr
}
