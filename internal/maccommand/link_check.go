package maccommand

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
)

// RequestLinkCheck adds a LinkCheckReq to the next uplink.
func RequestLinkCheck(c Context) error {
	return c.Uplink.AddRequest(lorawan.LinkCheckReq)
}

func handleLinkCheckAns(ctx context.Context, c Context, cmd lorawan.MACCommand) error {
	pl, ok := cmd.Payload.(*lorawan.LinkCheckAnsPayload)
	if !ok {
		return fmt.Errorf("expected *lorawan.LinkCheckAnsPayload, got %T", cmd.Payload)
	}

	c.Session.LinkCheck = &storage.LinkCheck{
		Margin: pl.Margin,
		GwCnt:  pl.GwCnt,
	}

	log.WithFields(log.Fields{
		"margin": pl.Margin,
		"gw_cnt": pl.GwCnt,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("maccommand: link_check answer received")

	return nil
}
