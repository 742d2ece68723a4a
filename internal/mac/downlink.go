package mac

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/certification"
	"github.com/brocaar/chirpstack-end-device/internal/downlink"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/maccommand"
	"github.com/brocaar/chirpstack-end-device/internal/multicast"
	"github.com/brocaar/chirpstack-end-device/internal/radio"
)

// validDownlink holds a validated and decrypted unicast downlink.
type validDownlink struct {
	phy       lorawan.PHYPayload
	fCnt      uint32
	fPort     *uint8
	payload   []byte
	macCmds   []lorawan.MACCommand
	confirmed bool
}

// validateDownlink validates and decrypts the given unicast downlink
// without changing any state. It returns false when the frame must be
// discarded.
func (m *MAC) validateDownlink(ctx context.Context, phy lorawan.PHYPayload) (validDownlink, bool) {
	logger := log.WithField("ctx_id", ctx.Value(logging.ContextIDKey))

	if phy.MACPayload == nil || !phy.MHDR.MType.IsData() || phy.MHDR.MType.IsUplink() {
		frameDroppedCounter("unexpected_mtype").Inc()
		logger.WithField("m_type", phy.MHDR.MType).Debug("mac: expected data downlink")
		return validDownlink{}, false
	}

	mp := phy.MACPayload
	if mp.FHDR.DevAddr != m.session.DevAddr {
		frameDroppedCounter("dev_addr_mismatch").Inc()
		logger.WithField("dev_addr", mp.FHDR.DevAddr).Debug("mac: downlink for other device")
		return validDownlink{}, false
	}

	if mp.FPort != nil && *mp.FPort == 0 && len(mp.FHDR.FOpts) != 0 {
		frameDroppedCounter("invalid_fopts").Inc()
		logger.Warning("mac: downlink contains fopts and fport 0")
		return validDownlink{}, false
	}

	fCnt := lorawan.FullFCnt(m.session.FCntDown, mp.FHDR.FCnt)
	if !m.session.ValidFCntDown(fCnt, m.band.Defaults().MaxFCntGap) {
		frameDroppedCounter("invalid_f_cnt").Inc()
		logger.WithFields(log.Fields{
			"f_cnt":          fCnt,
			"expected_f_cnt": m.session.FCntDown,
		}).Warning("mac: downlink frame-counter outside of window")
		return validDownlink{}, false
	}

	ok, err := phy.ValidateDataMIC(m.factory, m.session.NwkSKey, fCnt)
	if err != nil || !ok {
		frameDroppedCounter("invalid_mic").Inc()
		logger.WithError(err).Warning("mac: downlink mic validation failed")
		return validDownlink{}, false
	}

	out := validDownlink{
		phy:       phy,
		fCnt:      fCnt,
		fPort:     mp.FPort,
		confirmed: phy.MHDR.MType == lorawan.ConfirmedDataDown,
	}

	macBytes := mp.FHDR.FOpts
	if mp.FPort != nil {
		key := m.session.AppSKey
		if *mp.FPort == 0 {
			key = m.session.NwkSKey
		}

		pt, err := phy.DecryptFRMPayload(m.factory, key, fCnt)
		if err != nil {
			frameDroppedCounter("decrypt_error").Inc()
			logger.WithError(err).Error("mac: decrypt downlink error")
			return validDownlink{}, false
		}

		if *mp.FPort == 0 {
			macBytes = pt
		} else {
			out.payload = pt
		}
	}

	out.macCmds, err = lorawan.DecodeCommands(lorawan.MACCommandSet, macBytes)
	if err != nil {
		logger.WithError(err).Warning("mac: decode mac-commands error")
	}

	return out, true
}

// handleDataDownlink handles a unicast downlink. It returns false when the
// frame was discarded, in which case no state has been changed.
func (m *MAC) handleDataDownlink(ctx context.Context, phy lorawan.PHYPayload, q radio.Quality) (Response, bool, error) {
	dl, ok := m.validateDownlink(ctx, phy)
	if !ok {
		return Response{}, false, nil
	}

	var firstErr error
	keepErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.session.FCntDown = dl.fCnt + 1
	m.uplink.DownlinkReceived()
	m.uplink.ResetADRACKCnt()
	if dl.confirmed {
		m.uplink.SetACKPending()
	}

	macCtx := m.macCommandContext(q)
	keepErr(maccommand.Handle(ctx, macCtx, dl.macCmds))

	resp := Response{
		Status:   DownlinkReceived,
		ACK:      phy.MACPayload.FHDR.FCtrl.ACK,
		FCntDown: dl.fCnt,
	}

	if dl.fPort != nil && *dl.fPort != 0 {
		switch *dl.fPort {
		case MulticastFPort:
			keepErr(m.handleMulticastSetup(ctx, dl.payload))
		case CertificationFPort:
			actions, err := m.handleCertification(ctx, macCtx, dl.payload)
			keepErr(err)
			resp.Actions = actions
		default:
			if m.slot.Put(downlink.Downlink{
				FPort:   *dl.fPort,
				Payload: dl.payload,
				FCnt:    dl.fCnt,
				ACK:     resp.ACK,
				Quality: downlink.Quality{RSSI: q.RSSI, SNR: q.SNR},
			}) {
				downlinkOverwrittenCounter().Inc()
				log.WithFields(log.Fields{
					"f_port": *dl.fPort,
					"ctx_id": ctx.Value(logging.ContextIDKey),
				}).Warning("mac: unconsumed downlink overwritten")
			}
		}
	}

	if err := m.store.SaveDeviceSession(ctx, *m.session); err != nil {
		keepErr(errors.Wrap(err, "save device-session error"))
	}

	resp.Pending = m.pending != nil
	downlinkCounter("unicast").Inc()

	log.WithFields(log.Fields{
		"dev_addr":     m.session.DevAddr,
		"f_cnt":        dl.fCnt,
		"confirmed":    dl.confirmed,
		"ack":          resp.ACK,
		"mac_commands": len(dl.macCmds),
		"rssi":         q.RSSI,
		"snr":          q.SNR,
		"ctx_id":       ctx.Value(logging.ContextIDKey),
	}).Info("mac: downlink received")

	return resp, true, firstErr
}

func (m *MAC) macCommandContext(q radio.Quality) maccommand.Context {
	return maccommand.Context{
		Band:       m.band,
		Uplink:     m.uplink,
		Session:    m.session,
		Battery:    m.config.Battery,
		Margin:     snrMargin(q.SNR),
		DeviceTime: m.config.DeviceTime,
	}
}

// snrMargin returns the DevStatusAns margin (-32 - 31) for the given SNR.
func snrMargin(snr float64) int8 {
	switch {
	case snr < -32:
		return -32
	case snr > 31:
		return 31
	default:
		return int8(snr)
	}
}

func (m *MAC) handleMulticastSetup(ctx context.Context, payload []byte) error {
	ans, err := multicast.Handle(ctx, multicast.Context{
		Factory:   m.factory,
		McKEKey:   m.mcKEKey,
		Groups:    &m.session.MulticastGroups,
		MaxGroups: m.config.MaxMulticastGroups,
		Band:      m.band,
		Now:       m.now(),
	}, payload)
	if ans != nil {
		m.pending = &pendingUplink{fPort: MulticastFPort, payload: ans}
	}
	return err
}

func (m *MAC) handleCertification(ctx context.Context, macCtx maccommand.Context, payload []byte) ([]certification.Action, error) {
	res, err := certification.Handle(ctx, certification.Context{
		State:    &m.cert,
		Versions: m.config.Versions,
	}, payload)
	if err != nil {
		return nil, err
	}

	if res.Answer != nil {
		m.pending = &pendingUplink{fPort: CertificationFPort, payload: res.Answer}
	}

	var firstErr error
	var actions []certification.Action
	for _, a := range res.Actions {
		var err error

		switch a {
		case certification.ActionLinkCheck:
			err = maccommand.RequestLinkCheck(macCtx)
		case certification.ActionDeviceTime:
			err = maccommand.RequestDeviceTime(macCtx)
		case certification.ActionSwitchClass:
			m.class = m.cert.Class
			log.WithFields(log.Fields{
				"class":  m.class,
				"ctx_id": ctx.Value(logging.ContextIDKey),
			}).Info("mac: device class changed")
		default:
			actions = append(actions, a)
		}

		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return actions, firstErr
}

// handleMulticastDownlink handles a downlink addressed to a multicast
// group and returns its full frame-counter. It returns false when the
// frame was discarded, in which case no state has been changed.
func (m *MAC) handleMulticastDownlink(ctx context.Context, phy lorawan.PHYPayload, q radio.Quality) (uint32, bool) {
	logger := log.WithField("ctx_id", ctx.Value(logging.ContextIDKey))
	mp := phy.MACPayload

	mg := m.session.MulticastGroups.ByMcAddr(mp.FHDR.DevAddr)
	if mg == nil {
		return 0, false
	}

	if phy.MHDR.MType != lorawan.UnconfirmedDataDown || mp.FPort == nil || *mp.FPort == 0 || len(mp.FHDR.FOpts) != 0 {
		frameDroppedCounter("invalid_multicast").Inc()
		logger.WithField("mc_addr", mg.McAddr).Warning("mac: invalid multicast frame")
		return 0, false
	}

	fCnt := lorawan.FullFCnt(mg.FCnt, mp.FHDR.FCnt)
	if !mg.ValidFCnt(fCnt, m.band.Defaults().MaxFCntGap) {
		frameDroppedCounter("invalid_f_cnt").Inc()
		logger.WithFields(log.Fields{
			"mc_addr":        mg.McAddr,
			"f_cnt":          fCnt,
			"expected_f_cnt": mg.FCnt,
			"max_f_cnt":      mg.MaxFCnt,
		}).Warning("mac: multicast frame-counter outside of window")
		return 0, false
	}

	ok, err := phy.ValidateDataMIC(m.factory, mg.McNetSKey, fCnt)
	if err != nil || !ok {
		frameDroppedCounter("invalid_mic").Inc()
		logger.WithError(err).WithField("mc_addr", mg.McAddr).Warning("mac: multicast mic validation failed")
		return 0, false
	}

	pt, err := phy.DecryptFRMPayload(m.factory, mg.McAppSKey, fCnt)
	if err != nil {
		frameDroppedCounter("decrypt_error").Inc()
		logger.WithError(err).Error("mac: decrypt multicast error")
		return 0, false
	}

	mg.FCnt = fCnt + 1
	if err := m.store.SaveDeviceSession(ctx, *m.session); err != nil {
		logger.WithError(err).Error("mac: save device-session error")
	}

	if m.slot.Put(downlink.Downlink{
		FPort:     *mp.FPort,
		Payload:   pt,
		FCnt:      fCnt,
		Multicast: true,
		McAddr:    mg.McAddr,
		Quality:   downlink.Quality{RSSI: q.RSSI, SNR: q.SNR},
	}) {
		downlinkOverwrittenCounter().Inc()
		logger.WithField("f_port", *mp.FPort).Warning("mac: unconsumed downlink overwritten")
	}

	downlinkCounter("multicast").Inc()
	logger.WithFields(log.Fields{
		"mc_addr": mg.McAddr,
		"f_cnt":   fCnt,
		"rssi":    q.RSSI,
		"snr":     q.SNR,
	}).Info("mac: multicast downlink received")

	return fCnt, true
}
