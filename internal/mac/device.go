package mac

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/certification"
	"github.com/brocaar/chirpstack-end-device/internal/downlink"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/radio"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/chirpstack-end-device/internal/uplink"
)

// ErrListenStopped is returned by Listen when listening was stopped by an
// other operation.
var ErrListenStopped = errors.New("mac: listening stopped")

// packetTimeout defines the max. time to wait for the full packet once a
// preamble has been detected.
const packetTimeout = 3 * time.Second

// Result holds the result of a Device operation.
type Result struct {
	// Status holds the final MAC status (JoinSuccess, NoJoinAccept,
	// RxComplete, DownlinkReceived or NoUpdate).
	Status Status

	// FCntUp holds the frame-counter of the sent uplink.
	FCntUp uint32

	// ACK is set when the received downlink acknowledged the uplink.
	ACK       bool
	FCntDown  uint32
	Multicast bool

	// Pending is set when an answer is waiting to be sent using
	// SendPending.
	Pending bool

	Actions []certification.Action
}

func (r *Result) apply(resp Response) {
	r.Status = resp.Status
	r.ACK = resp.ACK
	r.FCntDown = resp.FCntDown
	r.Multicast = resp.Multicast
	r.Pending = resp.Pending
	r.Actions = append(r.Actions, resp.Actions...)
}

type snapshot struct {
	session *storage.DeviceSession
	cert    certification.State
	class   certification.Class
	state   State
}

// Device drives the MAC using the given radio and timer. Its methods are
// safe for concurrent use. A Listen is stopped by Join, Send and
// SendPending.
type Device struct {
	mu    sync.Mutex
	mac   *MAC
	radio radio.Radio
	timer radio.Timer

	listenMu     sync.Mutex
	listenCancel context.CancelFunc
	listenDone   chan struct{}

	snapMu sync.RWMutex
	snap   snapshot
}

// NewDevice creates a new Device.
func NewDevice(m *MAC, r radio.Radio, t radio.Timer) *Device {
	d := &Device{
		mac:   m,
		radio: r,
		timer: t,
	}
	d.updateSnapshot()
	return d
}

// Restore restores the device-session from the store.
func (d *Device) Restore(ctx context.Context) (bool, error) {
	d.stopListening()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.updateSnapshot()

	ctx, err := logging.NewContext(ctx)
	if err != nil {
		return false, err
	}
	return d.mac.Restore(ctx)
}

// ActivateABP activates the device using the given session keys.
func (d *Device) ActivateABP(ctx context.Context, keys lorawan.SessionKeys) error {
	d.stopListening()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.updateSnapshot()

	ctx, err := logging.NewContext(ctx)
	if err != nil {
		return err
	}
	return d.mac.ActivateABP(ctx, keys)
}

// Reset resets the device state (certification DutResetReq).
func (d *Device) Reset(ctx context.Context) error {
	d.stopListening()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.updateSnapshot()

	ctx, err := logging.NewContext(ctx)
	if err != nil {
		return err
	}
	return d.mac.Reset(ctx)
}

// Join performs the OTAA join. It returns ErrNoJoinAccept when no valid
// join-accept was received in either receive window.
func (d *Device) Join(ctx context.Context) (Result, error) {
	d.stopListening()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.updateSnapshot()

	ctx, err := logging.NewContext(ctx)
	if err != nil {
		return Result{}, err
	}

	resp, err := d.mac.Handle(ctx, Event{Type: EventJoin})
	if err != nil {
		return Result{}, err
	}

	res, err := d.run(ctx, resp)
	if err != nil {
		return res, err
	}
	if res.Status == NoJoinAccept {
		return res, ErrNoJoinAccept
	}
	return res, nil
}

// Send sends the given payload and handles the receive windows. An
// unacknowledged confirmed uplink is not an error.
func (d *Device) Send(ctx context.Context, fPort uint8, payload []byte, confirmed bool) (Result, error) {
	return d.send(ctx, Event{
		Type:      EventSend,
		FPort:     fPort,
		Payload:   payload,
		Confirmed: confirmed,
	})
}

// SendPending sends the pending multicast or certification answer. It
// returns a NoUpdate result when there is nothing to send.
func (d *Device) SendPending(ctx context.Context) (Result, error) {
	return d.send(ctx, Event{Type: EventSendPending})
}

func (d *Device) send(ctx context.Context, e Event) (Result, error) {
	d.stopListening()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.updateSnapshot()

	ctx, err := logging.NewContext(ctx)
	if err != nil {
		return Result{}, err
	}

	resp, err := d.mac.Handle(ctx, e)
	if err != nil {
		return Result{}, err
	}

	return d.run(ctx, resp)
}

// Listen listens continuously (Class-C) until a valid downlink has been
// received. It returns ErrListenStopped when an other operation took over
// the radio and the context error when the context is done.
func (d *Device) Listen(ctx context.Context) (Result, error) {
	d.stopListening()
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.updateSnapshot()

	ctx, err := logging.NewContext(ctx)
	if err != nil {
		return Result{}, err
	}

	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.listenMu.Lock()
	d.listenCancel = cancel
	d.listenDone = done
	d.listenMu.Unlock()

	defer func() {
		cancel()
		d.listenMu.Lock()
		if d.listenDone == done {
			d.listenCancel = nil
			d.listenDone = nil
		}
		d.listenMu.Unlock()
		close(done)
	}()

	resp, err := d.mac.Handle(lctx, Event{Type: EventListen})
	if err != nil {
		return Result{}, err
	}

	if err := d.radio.ConfigureReceive(resp.RxConfig); err != nil {
		d.mac.Handle(ctx, Event{Type: EventCancel})
		return Result{}, errors.Wrap(err, "configure receive error")
	}
	d.updateSnapshot()

	log.WithFields(log.Fields{
		"frequency": resp.RxConfig.Frequency,
		"dr":        resp.RxConfig.DR,
		"ctx_id":    ctx.Value(logging.ContextIDKey),
	}).Info("mac: listening")

	for {
		rx, err := d.radio.ReceiveUntil(lctx, radio.RxTargetPacket)
		if err != nil {
			d.mac.Handle(ctx, Event{Type: EventCancel})
			d.radio.Cancel()

			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if lctx.Err() != nil || errors.Cause(err) == radio.ErrCancelled {
				return Result{}, ErrListenStopped
			}
			return Result{}, errors.Wrap(err, "receive error")
		}

		resp, err := d.mac.Handle(lctx, Event{
			Type:      EventRxDone,
			RxPayload: rx.Payload,
			Quality:   rx.Quality,
		})
		if resp.Status != DownlinkReceived {
			if err != nil {
				d.mac.Handle(ctx, Event{Type: EventCancel})
				d.radio.Cancel()
				return Result{}, err
			}
			continue
		}

		d.mac.Handle(ctx, Event{Type: EventCancel})
		d.radio.Cancel()

		var res Result
		res.apply(resp)
		return res, err
	}
}

// TakeDownlink returns and removes the last received application
// downlink.
func (d *Device) TakeDownlink() (downlink.Downlink, bool) {
	return d.mac.TakeDownlink()
}

// Session returns a copy of the device-session.
func (d *Device) Session() (storage.DeviceSession, bool) {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()

	if d.snap.session == nil {
		return storage.DeviceSession{}, false
	}
	return d.snap.session.Clone(), true
}

// Certification returns the certification state.
func (d *Device) Certification() certification.State {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snap.cert
}

// Class returns the current device class.
func (d *Device) Class() certification.Class {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snap.class
}

// State returns the MAC state.
func (d *Device) State() State {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snap.state
}

func (d *Device) updateSnapshot() {
	var snap snapshot
	if ds, ok := d.mac.Session(); ok {
		snap.session = &ds
	}
	snap.cert = d.mac.Certification()
	snap.class = d.mac.Class()
	snap.state = d.mac.State()

	d.snapMu.Lock()
	d.snap = snap
	d.snapMu.Unlock()
}

// stopListening stops a running Listen and waits until it has returned.
func (d *Device) stopListening() {
	d.listenMu.Lock()
	cancel := d.listenCancel
	done := d.listenDone
	d.listenMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if err := d.radio.Cancel(); err != nil {
		log.WithError(err).Error("mac: cancel radio error")
	}
	<-done
}

// run executes the responses of the MAC until the cycle has completed.
// Capacity errors do not abort the cycle and are returned together with
// the result.
func (d *Device) run(ctx context.Context, resp Response) (Result, error) {
	var out Result
	var capErr error

	for {
		var err error

		switch resp.Status {
		case TransmitRequest:
			out.FCntUp = resp.FCntUp
			d.timer.Reset()
			if _, err := d.radio.Transmit(ctx, resp.TxConfig, resp.Payload); err != nil {
				d.abort(ctx)
				return out, errors.Wrap(err, "transmit error")
			}
			resp, err = d.mac.Handle(ctx, Event{Type: EventTxDone, Time: d.timer.Elapsed()})
		case TimeoutRequest:
			if err := d.timer.SuspendUntil(ctx, resp.Deadline); err != nil {
				d.abort(ctx)
				return out, err
			}
			resp, err = d.mac.Handle(ctx, Event{Type: EventTimeout})
		case ReceiveRequest:
			e, rerr := d.receive(ctx, resp)
			if rerr != nil {
				d.abort(ctx)
				return out, rerr
			}
			resp, err = d.mac.Handle(ctx, e)
		default:
			out.apply(resp)
			d.lowPower(ctx)
			return out, capErr
		}

		if err != nil {
			if !isCapacityError(err) {
				d.abort(ctx)
				return out, err
			}
			if capErr == nil {
				capErr = err
			}
		}
	}
}

// receive opens the receive window and returns the resulting event.
func (d *Device) receive(ctx context.Context, resp Response) (Event, error) {
	if err := d.radio.ConfigureReceive(resp.RxConfig); err != nil {
		return Event{}, errors.Wrap(err, "configure receive error")
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := d.timer.SuspendUntil(wctx, resp.Deadline); err == nil {
			cancel()
		}
	}()

	rx, err := d.radio.ReceiveUntil(wctx, radio.RxTargetPreamble)
	if err == nil && rx.Preamble {
		pctx, pcancel := context.WithTimeout(ctx, packetTimeout)
		rx, err = d.radio.ReceiveUntil(pctx, radio.RxTargetPacket)
		pcancel()
	}

	if err != nil {
		if ctx.Err() != nil {
			return Event{}, ctx.Err()
		}

		if wctx.Err() != nil || errors.Cause(err) == context.DeadlineExceeded || errors.Cause(err) == radio.ErrCancelled {
			if err := d.radio.Cancel(); err != nil {
				return Event{}, errors.Wrap(err, "cancel receive error")
			}
			return Event{Type: EventTimeout}, nil
		}

		return Event{}, errors.Wrap(err, "receive error")
	}

	return Event{
		Type:      EventRxDone,
		RxPayload: rx.Payload,
		Quality:   rx.Quality,
	}, nil
}

func (d *Device) abort(ctx context.Context) {
	d.mac.Handle(ctx, Event{Type: EventCancel})
	if err := d.radio.Cancel(); err != nil {
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Error("mac: cancel radio error")
	}
	d.lowPower(ctx)
}

func (d *Device) lowPower(ctx context.Context) {
	if err := d.radio.EnterLowPower(); err != nil {
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Error("mac: enter low-power error")
	}
}

func isCapacityError(err error) bool {
	cause := errors.Cause(err)
	return cause == uplink.ErrAnswerCapacity || cause == storage.ErrMaxGroups
}
