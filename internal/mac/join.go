package mac

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/chirpstack-end-device/internal/uplink"
)

// handleJoin starts a join cycle. The join uses a fresh copy of the band
// template, the current band and session stay in place until a valid
// join-accept has been received.
func (m *MAC) handleJoin(ctx context.Context) (Response, error) {
	if m.cycle.phase != phaseNone {
		return Response{}, ErrInvalidState
	}

	b := m.template.Clone()
	dr := m.config.DataRate

	channel, err := b.SelectUplinkChannel(m.rand(), dr, true)
	if err != nil {
		return Response{}, errors.Wrap(err, "select uplink channel error")
	}

	txConf, err := txConfig(b, channel, dr, m.config.TXPower)
	if err != nil {
		return Response{}, err
	}

	devNonce, err := m.store.NextDevNonce(ctx, m.config.DevEUI)
	if err != nil {
		return Response{}, errors.Wrap(err, "get dev-nonce error")
	}

	phy, err := lorawan.BuildJoinRequest(m.factory, lorawan.Credentials{
		DevEUI: m.config.DevEUI,
		AppEUI: m.config.JoinEUI,
		AppKey: m.config.AppKey,
	}, devNonce)
	if err != nil {
		return Response{}, errors.Wrap(err, "build join-request error")
	}

	m.listening = false
	m.cycle = cycle{
		phase:    phaseTX,
		join:     true,
		channel:  channel,
		dr:       dr,
		band:     b,
		devNonce: devNonce,
	}

	joinRequestCounter().Inc()
	log.WithFields(log.Fields{
		"dev_eui":   m.config.DevEUI,
		"join_eui":  m.config.JoinEUI,
		"dev_nonce": devNonce,
		"frequency": txConf.Frequency,
		"dr":        dr,
		"ctx_id":    ctx.Value(logging.ContextIDKey),
	}).Info("mac: sending join-request")

	return Response{
		Status:   TransmitRequest,
		TxConfig: txConf,
		Payload:  phy,
	}, nil
}

// handleJoinAccept validates the join-accept and, when valid, activates
// the new session. It returns false when the frame must be ignored.
func (m *MAC) handleJoinAccept(ctx context.Context, phy lorawan.PHYPayload) bool {
	if phy.MHDR.MType != lorawan.JoinAccept {
		frameDroppedCounter("unexpected_mtype").Inc()
		log.WithFields(log.Fields{
			"m_type": phy.MHDR.MType,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Debug("mac: expected join-accept")
		return false
	}

	ja, err := phy.OpenJoinAccept(m.factory, m.config.AppKey)
	if err != nil {
		frameDroppedCounter("invalid_mic").Inc()
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Warning("mac: invalid join-accept")
		return false
	}

	b := m.cycle.band.Clone()

	status := b.SetRXParameters(int(ja.DLSettings.RX1DROffset), b.Defaults().RX2Frequency, int(ja.DLSettings.RX2DataRate))
	if !status.OK() {
		frameDroppedCounter("invalid_dl_settings").Inc()
		log.WithFields(log.Fields{
			"rx1_dr_offset": ja.DLSettings.RX1DROffset,
			"rx2_dr":        ja.DLSettings.RX2DataRate,
			"ctx_id":        ctx.Value(logging.ContextIDKey),
		}).Warning("mac: join-accept contains invalid dl-settings")
		return false
	}
	b.SetReceiveDelay1(ja.RXDelay)

	if ja.CFList != nil {
		if err := b.ApplyCFList(*ja.CFList); err != nil {
			log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Warning("mac: apply cflist error")
		}
	}

	nwkSKey, appSKey, err := lorawan.DeriveSessionKeys(m.factory, m.config.AppKey, ja, m.cycle.devNonce)
	if err != nil {
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Error("mac: derive session keys error")
		return false
	}

	ds := storage.DeviceSession{
		DevEUI:       m.config.DevEUI,
		DevAddr:      ja.DevAddr,
		NwkSKey:      nwkSKey,
		AppSKey:      appSKey,
		RX1DROffset:  int(ja.DLSettings.RX1DROffset),
		RX2Frequency: b.RX2Parameters().Frequency,
		RX2DataRate:  int(ja.DLSettings.RX2DataRate),
		RXDelay:      ja.RXDelay,
	}

	if err := m.store.SaveDeviceSession(ctx, ds); err != nil {
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Error("mac: save device-session error")
		return false
	}

	m.session = &ds
	m.band = b
	m.uplink = uplink.NewState()
	m.pending = nil
	m.dr = m.config.DataRate

	joinAcceptCounter().Inc()
	log.WithFields(log.Fields{
		"dev_eui":  m.config.DevEUI,
		"dev_addr": ja.DevAddr,
		"net_id":   ja.NetID,
		"rx_delay": ja.RXDelay,
		"ctx_id":   ctx.Value(logging.ContextIDKey),
	}).Info("mac: join-accept received, device activated")

	return true
}
