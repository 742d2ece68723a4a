// Package mac implements the end-device MAC state machine. The MAC is an
// event-driven step function: every Event returns a Response telling the
// caller what to do next (transmit, wait for a deadline, receive). The
// Device type drives the MAC using a radio and timer.
package mac

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/band"
	"github.com/brocaar/chirpstack-end-device/internal/certification"
	"github.com/brocaar/chirpstack-end-device/internal/crypto"
	"github.com/brocaar/chirpstack-end-device/internal/downlink"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/multicast"
	"github.com/brocaar/chirpstack-end-device/internal/radio"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/chirpstack-end-device/internal/uplink"
)

// errors
var (
	ErrInvalidState    = errors.New("mac: invalid state")
	ErrNoSession       = errors.New("mac: no session")
	ErrNoJoinAccept    = errors.New("mac: no join-accept received")
	ErrPayloadTooLarge = errors.New("mac: payload too large")
	ErrInvalidFPort    = errors.New("mac: invalid fport")
	ErrNotClassC       = errors.New("mac: device is not in class-c mode")
)

// rxWindowDuration defines how long a receive window is kept open when it
// is not closed by the opening of the next window.
const rxWindowDuration = time.Second

// RX window selection.
const (
	RXWindowBoth = iota
	RXWindowRX1
	RXWindowRX2
)

// State defines the MAC state.
type State int

// Possible states.
const (
	StateIdle State = iota
	StateJoining
	StateSessionActive
	StateTransmitting
	StateWaitingRX1
	StateWaitingRX2
	StateListening
)

var stateNames = map[State]string{
	StateIdle:          "Idle",
	StateJoining:       "Joining",
	StateSessionActive: "SessionActive",
	StateTransmitting:  "Transmitting",
	StateWaitingRX1:    "WaitingRX1",
	StateWaitingRX2:    "WaitingRX2",
	StateListening:     "Listening",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// phase defines the phase of a transmit / receive cycle.
type phase int

const (
	phaseNone phase = iota
	phaseTX
	phaseWaitRX1
	phaseRX1
	phaseWaitRX2
	phaseRX2
)

// EventType defines the event type.
type EventType int

// Possible events.
const (
	EventJoin EventType = iota
	EventSend
	EventSendPending
	EventTxDone
	EventTimeout
	EventRxDone
	EventListen
	EventCancel
)

var eventNames = map[EventType]string{
	EventJoin:        "Join",
	EventSend:        "Send",
	EventSendPending: "SendPending",
	EventTxDone:      "TxDone",
	EventTimeout:     "Timeout",
	EventRxDone:      "RxDone",
	EventListen:      "Listen",
	EventCancel:      "Cancel",
}

// String implements fmt.Stringer.
func (e EventType) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("EventType(%d)", int(e))
}

// Event defines an event handled by the MAC.
type Event struct {
	Type EventType

	// FPort, Payload and Confirmed are used by EventSend.
	FPort     uint8
	Payload   []byte
	Confirmed bool

	// Time holds the time (since the timer reset) of the EventTxDone.
	Time time.Duration

	// RxPayload and Quality are used by EventRxDone.
	RxPayload []byte
	Quality   radio.Quality
}

// Status defines the response status.
type Status int

// Possible response statuses.
const (
	NoUpdate Status = iota
	TransmitRequest
	TimeoutRequest
	ReceiveRequest
	JoinSuccess
	NoJoinAccept
	RxComplete
	DownlinkReceived
	Listening
)

var statusNames = map[Status]string{
	NoUpdate:         "NoUpdate",
	TransmitRequest:  "TransmitRequest",
	TimeoutRequest:   "TimeoutRequest",
	ReceiveRequest:   "ReceiveRequest",
	JoinSuccess:      "JoinSuccess",
	NoJoinAccept:     "NoJoinAccept",
	RxComplete:       "RxComplete",
	DownlinkReceived: "DownlinkReceived",
	Listening:        "Listening",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Response defines the response to an event.
type Response struct {
	Status Status

	// TxConfig, Payload and FCntUp are set for TransmitRequest.
	TxConfig radio.TxConfig
	Payload  []byte
	FCntUp   uint32

	// Deadline (since the timer reset) is set for TimeoutRequest and
	// ReceiveRequest. For ReceiveRequest it holds the closing of the
	// receive window.
	Deadline time.Duration

	// RxConfig is set for ReceiveRequest and Listening.
	RxConfig radio.RxConfig

	// ACK and FCntDown are set for DownlinkReceived.
	ACK      bool
	FCntDown uint32

	// Multicast is set when the DownlinkReceived was a multicast
	// downlink.
	Multicast bool

	// Pending is set when an application-layer answer (remote multicast
	// setup or certification) is waiting to be sent using
	// EventSendPending.
	Pending bool

	// Actions holds the certification actions that must be handled by the
	// application (reset and join).
	Actions []certification.Action
}

// Config holds the MAC configuration.
type Config struct {
	DevEUI  lorawan.EUI64
	JoinEUI lorawan.EUI64
	AppKey  lorawan.AES128Key

	Class certification.Class

	// DataRate holds the (initial) uplink data-rate.
	DataRate int
	// TXPower holds the TXPower index.
	TXPower int
	ADR     bool

	// RXWindow holds the receive windows to open (RXWindowBoth,
	// RXWindowRX1 or RXWindowRX2).
	RXWindow int

	// MaxMulticastGroups defaults to storage.MaxMulticastGroups.
	MaxMulticastGroups int

	// Battery returns the battery level for the DevStatusAns (optional).
	Battery func() uint8

	// DeviceTime is called on DeviceTimeAns (optional).
	DeviceTime func(sinceGPSEpoch time.Duration)

	// Versions is reported to the certification DutVersionsReq.
	Versions lorawan.DutVersionsAnsPayload

	// Factory defaults to crypto.DefaultFactory.
	Factory crypto.Factory

	// Now defaults to time.Now.
	Now func() time.Time

	// Rand is used for channel selection and defaults to math/rand.
	Rand func() uint32
}

type pendingUplink struct {
	fPort   uint8
	payload []byte
}

// cycle holds the state of the current transmit / receive cycle.
type cycle struct {
	phase   phase
	join    bool
	channel int
	dr      int
	txDone  time.Duration

	// band holds the band used by the join cycle. It replaces the band of
	// the MAC on a successful join.
	band     band.Band
	devNonce lorawan.DevNonce
}

// MAC implements the end-device MAC state machine. A MAC is not safe for
// concurrent use.
type MAC struct {
	config  Config
	store   storage.Store
	factory crypto.Factory
	now     func() time.Time
	rand    func() uint32

	template band.Band
	band     band.Band

	session   *storage.DeviceSession
	uplink    *uplink.State
	mcKEKey   lorawan.AES128Key
	cert      certification.State
	class     certification.Class
	dr        int
	listening bool

	cycle   cycle
	pending *pendingUplink
	slot    downlink.Slot
}

// New creates a new MAC. The given band is used as template and is not
// modified.
func New(c Config, b band.Band, store storage.Store) (*MAC, error) {
	if c.Factory == nil {
		c.Factory = crypto.DefaultFactory{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Rand == nil {
		c.Rand = rand.Uint32
	}
	if c.MaxMulticastGroups == 0 {
		c.MaxMulticastGroups = storage.MaxMulticastGroups
	}

	if _, err := b.GetDataRate(c.DataRate); err != nil {
		return nil, errors.Wrapf(err, "data-rate %d", c.DataRate)
	}

	mcKEKey, err := multicast.DeriveMcKEKey(c.Factory, c.AppKey)
	if err != nil {
		return nil, err
	}

	return &MAC{
		config:   c,
		store:    store,
		factory:  c.Factory,
		now:      c.Now,
		rand:     c.Rand,
		template: b,
		band:     b.Clone(),
		uplink:   uplink.NewState(),
		mcKEKey:  mcKEKey,
		cert:     certification.NewState(c.ADR),
		class:    c.Class,
		dr:       c.DataRate,
	}, nil
}

// State returns the current state.
func (m *MAC) State() State {
	switch m.cycle.phase {
	case phaseNone:
		if m.listening {
			return StateListening
		}
		if m.session != nil {
			return StateSessionActive
		}
		return StateIdle
	case phaseTX:
		if m.cycle.join {
			return StateJoining
		}
		return StateTransmitting
	case phaseWaitRX1, phaseRX1:
		if m.cycle.join {
			return StateJoining
		}
		return StateWaitingRX1
	default:
		if m.cycle.join {
			return StateJoining
		}
		return StateWaitingRX2
	}
}

// Session returns a copy of the device-session.
func (m *MAC) Session() (storage.DeviceSession, bool) {
	if m.session == nil {
		return storage.DeviceSession{}, false
	}
	return m.session.Clone(), true
}

// Band returns the band of the active session.
func (m *MAC) Band() band.Band {
	return m.band
}

// Uplink returns the uplink state.
func (m *MAC) Uplink() *uplink.State {
	return m.uplink
}

// DataRate returns the current uplink data-rate.
func (m *MAC) DataRate() int {
	return m.dr
}

// Certification returns the certification state.
func (m *MAC) Certification() certification.State {
	return m.cert
}

// Class returns the current device class.
func (m *MAC) Class() certification.Class {
	return m.class
}

// TakeDownlink returns and removes the last received application
// downlink.
func (m *MAC) TakeDownlink() (downlink.Downlink, bool) {
	return m.slot.Take()
}

// Restore restores the device-session from the store. It returns false
// when there is no stored session. The band is reset to the template with
// the stored receive window parameters applied.
func (m *MAC) Restore(ctx context.Context) (bool, error) {
	if m.cycle.phase != phaseNone {
		return false, ErrInvalidState
	}

	ds, err := m.store.GetDeviceSession(ctx, m.config.DevEUI)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return false, nil
		}
		return false, errors.Wrap(err, "get device-session error")
	}

	b := m.sessionBand(ctx, ds)
	m.session = &ds
	m.band = b
	m.uplink = uplink.NewState()
	m.pending = nil
	m.dr = m.config.DataRate

	log.WithFields(log.Fields{
		"dev_eui":        ds.DevEUI,
		"dev_addr":       ds.DevAddr,
		"f_cnt_up":       ds.FCntUp,
		"f_cnt_down":     ds.FCntDown,
		"rx2":            b.RX2Parameters(),
		"receive_delay1": b.ReceiveDelay1(),
		"ctx_id":         ctx.Value(logging.ContextIDKey),
	}).Info("mac: device-session restored")

	return true, nil
}

// sessionBand returns a copy of the band template with the receive window
// parameters of the given session applied.
func (m *MAC) sessionBand(ctx context.Context, ds storage.DeviceSession) band.Band {
	b := m.template.Clone()
	if ds.RX2Frequency != 0 {
		if s := b.SetRXParameters(ds.RX1DROffset, ds.RX2Frequency, ds.RX2DataRate); !s.OK() {
			log.WithFields(log.Fields{
				"rx1_dr_offset": ds.RX1DROffset,
				"rx2_frequency": ds.RX2Frequency,
				"rx2_dr":        ds.RX2DataRate,
				"ctx_id":        ctx.Value(logging.ContextIDKey),
			}).Warning("mac: stored rx parameters are invalid for band, using defaults")
		}
	}
	b.SetReceiveDelay1(ds.RXDelay)
	return b
}

// ActivateABP activates the device using the given (ABP) session keys. The
// frame-counters start at 0.
func (m *MAC) ActivateABP(ctx context.Context, keys lorawan.SessionKeys) error {
	if m.cycle.phase != phaseNone {
		return ErrInvalidState
	}

	defaults := m.template.Defaults()
	ds := storage.DeviceSession{
		DevEUI:       m.config.DevEUI,
		DevAddr:      keys.DevAddr,
		NwkSKey:      keys.NwkSKey,
		AppSKey:      keys.AppSKey,
		RX2Frequency: defaults.RX2Frequency,
		RX2DataRate:  defaults.RX2DataRate,
	}

	if err := m.store.SaveDeviceSession(ctx, ds); err != nil {
		return errors.Wrap(err, "save device-session error")
	}

	m.session = &ds
	m.band = m.template.Clone()
	m.uplink = uplink.NewState()
	m.pending = nil
	m.dr = m.config.DataRate

	log.WithFields(log.Fields{
		"dev_eui":  ds.DevEUI,
		"dev_addr": ds.DevAddr,
		"ctx_id":   ctx.Value(logging.ContextIDKey),
	}).Info("mac: device activated by personalization")

	return nil
}

// Reset restores the state after a device reset (certification
// DutResetReq). The session (and its receive window parameters) is kept,
// the band, uplink and certification state return to their defaults.
func (m *MAC) Reset(ctx context.Context) error {
	if m.cycle.phase != phaseNone {
		return ErrInvalidState
	}

	m.band = m.template.Clone()
	if m.session != nil {
		m.band = m.sessionBand(ctx, *m.session)
	}
	m.uplink = uplink.NewState()
	m.cert = certification.NewState(m.config.ADR)
	m.class = m.config.Class
	m.dr = m.config.DataRate
	m.pending = nil
	m.listening = false

	log.WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Info("mac: device reset")
	return nil
}

// Handle handles the given event. A returned error without side effect
// (ErrInvalidState, ErrNoSession, ErrInvalidFPort, ErrPayloadTooLarge) is
// returned with an empty Response. Capacity errors
// (uplink.ErrAnswerCapacity, storage.ErrMaxGroups) are returned together
// with a valid Response.
func (m *MAC) Handle(ctx context.Context, e Event) (Response, error) {
	log.WithFields(log.Fields{
		"event":  e.Type,
		"state":  m.State(),
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Debug("mac: handle event")

	switch e.Type {
	case EventJoin:
		return m.handleJoin(ctx)
	case EventSend:
		if e.FPort == 0 || e.FPort > 223 {
			return Response{}, ErrInvalidFPort
		}
		return m.handleSend(ctx, e.FPort, e.Payload, e.Confirmed)
	case EventSendPending:
		return m.handleSendPending(ctx)
	case EventTxDone:
		return m.handleTxDone(ctx, e.Time)
	case EventTimeout:
		return m.handleTimeout(ctx)
	case EventRxDone:
		return m.handleRxDone(ctx, e.RxPayload, e.Quality)
	case EventListen:
		return m.handleListen(ctx)
	case EventCancel:
		return m.handleCancel(ctx), nil
	default:
		return Response{}, fmt.Errorf("unknown event %d", e.Type)
	}
}

func (m *MAC) handleListen(ctx context.Context) (Response, error) {
	if m.cycle.phase != phaseNone {
		return Response{}, ErrInvalidState
	}
	if m.session == nil {
		return Response{}, ErrNoSession
	}
	if m.class != certification.ClassC {
		return Response{}, ErrNotClassC
	}

	rxConfig, err := m.listenConfig()
	if err != nil {
		return Response{}, err
	}
	m.listening = true

	return Response{
		Status:   Listening,
		RxConfig: rxConfig,
	}, nil
}

// listenConfig returns the Class-C receive configuration: the parameters
// of an active multicast Class-C session or else the RX2 parameters.
func (m *MAC) listenConfig() (radio.RxConfig, error) {
	p := m.band.RX2Parameters()

	now := m.now()
	for _, mg := range m.session.MulticastGroups {
		if mg.ClassC != nil && mg.ClassC.Active(now) {
			p = band.RXParameters{
				Frequency: mg.ClassC.Frequency,
				DataRate:  mg.ClassC.DataRate,
			}
			break
		}
	}

	dr, err := m.band.GetDataRate(p.DataRate)
	if err != nil {
		return radio.RxConfig{}, errors.Wrap(err, "get data-rate error")
	}

	return radio.RxConfig{
		Frequency:  p.Frequency,
		DR:         p.DataRate,
		DataRate:   dr,
		Continuous: true,
	}, nil
}

func (m *MAC) handleCancel(ctx context.Context) Response {
	if m.cycle.phase != phaseNone || m.listening {
		log.WithFields(log.Fields{
			"state":  m.State(),
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Info("mac: operation cancelled")
	}

	m.cycle = cycle{}
	m.listening = false
	return Response{Status: NoUpdate}
}

func (m *MAC) handleTxDone(ctx context.Context, t time.Duration) (Response, error) {
	if m.cycle.phase != phaseTX {
		return Response{}, ErrInvalidState
	}
	m.cycle.txDone = t

	if m.config.RXWindow == RXWindowRX2 && !m.cycle.join {
		m.cycle.phase = phaseWaitRX2
		return Response{
			Status:   TimeoutRequest,
			Deadline: m.rx2Open(),
		}, nil
	}

	m.cycle.phase = phaseWaitRX1
	return Response{
		Status:   TimeoutRequest,
		Deadline: m.rx1Open(),
	}, nil
}

func (m *MAC) handleTimeout(ctx context.Context) (Response, error) {
	switch m.cycle.phase {
	case phaseWaitRX1:
		return m.openRX1(ctx)
	case phaseRX1:
		return m.closeRX1(ctx), nil
	case phaseWaitRX2:
		return m.openRX2(ctx)
	case phaseRX2:
		return m.closeRX2(ctx), nil
	default:
		log.WithFields(log.Fields{
			"state":  m.State(),
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Debug("mac: timeout ignored")
		return Response{Status: NoUpdate}, nil
	}
}

func (m *MAC) cycleBand() band.Band {
	if m.cycle.join {
		return m.cycle.band
	}
	return m.band
}

func (m *MAC) rx1Open() time.Duration {
	if m.cycle.join {
		return m.cycle.txDone + m.cycle.band.Defaults().JoinAcceptDelay1
	}
	return m.cycle.txDone + m.band.ReceiveDelay1()
}

func (m *MAC) rx2Open() time.Duration {
	if m.cycle.join {
		return m.cycle.txDone + m.cycle.band.Defaults().JoinAcceptDelay2
	}
	return m.cycle.txDone + m.band.ReceiveDelay1() + time.Second
}

func (m *MAC) openRX1(ctx context.Context) (Response, error) {
	b := m.cycleBand()

	p, err := b.RX1Parameters(m.cycle.channel, m.cycle.dr)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"channel": m.cycle.channel,
			"dr":      m.cycle.dr,
			"ctx_id":  ctx.Value(logging.ContextIDKey),
		}).Error("mac: get rx1 parameters error")
		return m.closeRX1(ctx), nil
	}

	rxConfig, err := rxConfig(b, p)
	if err != nil {
		return Response{}, err
	}

	deadline := m.rx2Open()
	if m.config.RXWindow == RXWindowRX1 && !m.cycle.join {
		deadline = m.rx1Open() + rxWindowDuration
	}

	m.cycle.phase = phaseRX1
	return Response{
		Status:   ReceiveRequest,
		RxConfig: rxConfig,
		Deadline: deadline,
	}, nil
}

// closeRX1 is called when RX1 did not yield a valid frame.
func (m *MAC) closeRX1(ctx context.Context) Response {
	if m.config.RXWindow == RXWindowRX1 && !m.cycle.join {
		return m.closeRX2(ctx)
	}

	m.cycle.phase = phaseWaitRX2
	return Response{
		Status:   TimeoutRequest,
		Deadline: m.rx2Open(),
	}
}

func (m *MAC) openRX2(ctx context.Context) (Response, error) {
	b := m.cycleBand()

	rxConfig, err := rxConfig(b, b.RX2Parameters())
	if err != nil {
		return Response{}, err
	}

	m.cycle.phase = phaseRX2
	return Response{
		Status:   ReceiveRequest,
		RxConfig: rxConfig,
		Deadline: m.rx2Open() + rxWindowDuration,
	}, nil
}

// closeRX2 is called when the last receive window did not yield a valid
// frame.
func (m *MAC) closeRX2(ctx context.Context) Response {
	join := m.cycle.join
	m.cycle = cycle{}

	if join {
		joinNoAcceptCounter().Inc()
		log.WithFields(log.Fields{
			"dev_eui": m.config.DevEUI,
			"ctx_id":  ctx.Value(logging.ContextIDKey),
		}).Warning("mac: no join-accept received")
		return Response{Status: NoJoinAccept}
	}

	return Response{
		Status:  RxComplete,
		Pending: m.pending != nil,
	}
}

// rxFailed is called when the open receive window yielded an invalid
// frame.
func (m *MAC) rxFailed(ctx context.Context) Response {
	if m.cycle.phase == phaseRX1 {
		return m.closeRX1(ctx)
	}
	return m.closeRX2(ctx)
}

func (m *MAC) handleRxDone(ctx context.Context, b []byte, q radio.Quality) (Response, error) {
	switch m.cycle.phase {
	case phaseRX1, phaseRX2:
	case phaseNone:
		if !m.listening {
			frameDroppedCounter("not_receiving").Inc()
			return Response{Status: NoUpdate}, nil
		}
		return m.handleClassCFrame(ctx, b, q)
	default:
		frameDroppedCounter("not_receiving").Inc()
		return Response{Status: NoUpdate}, nil
	}

	phy, err := lorawan.Parse(b)
	if err != nil {
		frameDroppedCounter("malformed").Inc()
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Debug("mac: parse frame error")
		return m.rxFailed(ctx), nil
	}

	if m.cycle.join {
		if !m.handleJoinAccept(ctx, phy) {
			return m.rxFailed(ctx), nil
		}
		m.cycle = cycle{}
		return Response{Status: JoinSuccess}, nil
	}

	resp, ok, err := m.handleDataDownlink(ctx, phy, q)
	if !ok {
		return m.rxFailed(ctx), nil
	}
	m.cycle = cycle{}
	return resp, err
}

// handleClassCFrame handles a frame received while listening. The MAC
// keeps listening.
func (m *MAC) handleClassCFrame(ctx context.Context, b []byte, q radio.Quality) (Response, error) {
	phy, err := lorawan.Parse(b)
	if err != nil {
		frameDroppedCounter("malformed").Inc()
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Debug("mac: parse frame error")
		return Response{Status: NoUpdate}, nil
	}

	if phy.MACPayload != nil && m.session.MulticastGroups.ByMcAddr(phy.MACPayload.FHDR.DevAddr) != nil {
		fCnt, ok := m.handleMulticastDownlink(ctx, phy, q)
		if !ok {
			return Response{Status: NoUpdate}, nil
		}
		return Response{
			Status:    DownlinkReceived,
			Multicast: true,
			FCntDown:  fCnt,
		}, nil
	}

	resp, ok, err := m.handleDataDownlink(ctx, phy, q)
	if !ok {
		return Response{Status: NoUpdate}, nil
	}
	return resp, err
}

func rxConfig(b band.Band, p band.RXParameters) (radio.RxConfig, error) {
	dr, err := b.GetDataRate(p.DataRate)
	if err != nil {
		return radio.RxConfig{}, errors.Wrap(err, "get data-rate error")
	}

	return radio.RxConfig{
		Frequency: p.Frequency,
		DR:        p.DataRate,
		DataRate:  dr,
	}, nil
}

func txConfig(b band.Band, channel, dr, txPower int) (radio.TxConfig, error) {
	ch, err := b.UplinkChannel(channel)
	if err != nil {
		return radio.TxConfig{}, errors.Wrap(err, "get uplink channel error")
	}

	dataRate, err := b.GetDataRate(dr)
	if err != nil {
		return radio.TxConfig{}, errors.Wrap(err, "get data-rate error")
	}

	power, err := b.GetTXPower(txPower)
	if err != nil {
		return radio.TxConfig{}, errors.Wrap(err, "get tx-power error")
	}

	return radio.TxConfig{
		Frequency: ch.Frequency,
		DR:        dr,
		DataRate:  dataRate,
		Power:     power,
	}, nil
}
