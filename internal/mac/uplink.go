package mac

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// Application-layer ports handled by the MAC.
const (
	MulticastFPort     = 200
	CertificationFPort = 224
)

func (m *MAC) handleSend(ctx context.Context, fPort uint8, payload []byte, confirmed bool) (Response, error) {
	return m.sendData(ctx, fPort, payload, confirmed)
}

// handleSendPending sends the pending multicast or certification answer.
func (m *MAC) handleSendPending(ctx context.Context) (Response, error) {
	if m.cycle.phase != phaseNone {
		return Response{}, ErrInvalidState
	}
	if m.pending == nil {
		return Response{Status: NoUpdate}, nil
	}

	resp, err := m.sendData(ctx, m.pending.fPort, m.pending.payload, false)
	if err != nil {
		return resp, err
	}
	m.pending = nil
	return resp, nil
}

// sendData builds the uplink data frame. All validation happens before
// any state is changed. Once validated, the uplink frame-counter is
// incremented and persisted before the frame is built.
func (m *MAC) sendData(ctx context.Context, fPort uint8, payload []byte, confirmed bool) (Response, error) {
	if m.cycle.phase != phaseNone {
		return Response{}, ErrInvalidState
	}
	if m.session == nil {
		return Response{}, ErrNoSession
	}

	switch m.cert.FrameType {
	case lorawan.TxFrameConfirmed:
		confirmed = true
	case lorawan.TxFrameUnconfirmed:
		confirmed = false
	}

	defaults := m.band.Defaults()
	adr := m.cert.ADR
	adrACKCnt := m.uplink.ADRACKCnt()
	dr := m.dr
	if adr {
		adrACKCnt++
		dr = m.backoffDataRate(adrACKCnt, defaults.ADRACKLimit, defaults.ADRACKDelay)
	}

	maxSize, err := m.band.GetMaxPayloadSize(dr)
	if err != nil {
		return Response{}, errors.Wrap(err, "get max payload size error")
	}
	if len(payload)+m.uplink.Size() > maxSize {
		return Response{}, errors.Wrapf(ErrPayloadTooLarge, "%d bytes payload + %d bytes fopts, max %d", len(payload), m.uplink.Size(), maxSize)
	}

	channel, err := m.band.SelectUplinkChannel(m.rand(), dr, false)
	if err != nil {
		return Response{}, errors.Wrap(err, "select uplink channel error")
	}

	txConf, err := txConfig(m.band, channel, dr, m.config.TXPower)
	if err != nil {
		return Response{}, err
	}

	if adr {
		m.uplink.IncrementADRACKCnt()
		if dr != m.dr {
			log.WithFields(log.Fields{
				"dr":          dr,
				"adr_ack_cnt": adrACKCnt,
				"ctx_id":      ctx.Value(logging.ContextIDKey),
			}).Info("mac: no downlink received, lowering data-rate")
		}
		m.dr = dr
	}

	fCnt := m.session.FCntUp
	m.session.FCntUp++
	if err := m.store.SaveDeviceSession(ctx, *m.session); err != nil {
		return Response{}, errors.Wrap(err, "save device-session error")
	}

	cmds := m.uplink.Commands()
	b, err := lorawan.BuildDataFrame(m.factory, m.session.SessionKeys(), fCnt, lorawan.DataFrame{
		Confirmed:   confirmed,
		Uplink:      true,
		ADR:         adr,
		ADRACKReq:   adr && adrACKCnt >= defaults.ADRACKLimit,
		ACK:         m.uplink.ACKPending(),
		FPort:       &fPort,
		Payload:     payload,
		MACCommands: cmds,
	})
	if err != nil {
		return Response{}, errors.Wrap(err, "build data frame error")
	}
	m.uplink.ConfirmSent()

	m.listening = false
	m.cycle = cycle{
		phase:   phaseTX,
		channel: channel,
		dr:      dr,
	}

	uplinkCounter(strconv.FormatBool(confirmed)).Inc()
	log.WithFields(log.Fields{
		"dev_addr":     m.session.DevAddr,
		"f_cnt":        fCnt,
		"f_port":       fPort,
		"confirmed":    confirmed,
		"mac_commands": len(cmds),
		"frequency":    txConf.Frequency,
		"dr":           dr,
		"ctx_id":       ctx.Value(logging.ContextIDKey),
	}).Info("mac: sending uplink")

	return Response{
		Status:   TransmitRequest,
		TxConfig: txConf,
		Payload:  b,
		FCntUp:   fCnt,
	}, nil
}

// backoffDataRate returns the data-rate to use given the ADR
// acknowledgement counter. Once the counter reaches limit + delay, the
// data-rate is lowered every delay uplinks to the next supported
// data-rate.
func (m *MAC) backoffDataRate(adrACKCnt, limit, delay int) int {
	dr := m.dr
	if delay <= 0 || adrACKCnt < limit+delay || (adrACKCnt-limit)%delay != 0 {
		return dr
	}

	for next := dr - 1; next >= 0; next-- {
		if _, err := m.band.GetDataRate(next); err == nil {
			return next
		}
	}
	return dr
}
