// Package certification implements the end-device side of the LoRaWAN
// certification protocol package (FPort 224).
package certification

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// Class defines the device class requested by the SwitchClassReq.
type Class int

// Device classes.
const (
	ClassA Class = iota
	ClassB
	ClassC
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Action defines an action the device must take after handling the
// certification commands.
type Action int

// Possible actions.
const (
	// ActionReset requests a device reset (DutResetReq).
	ActionReset Action = iota
	// ActionJoin requests a new OTAA join (DutJoinReq).
	ActionJoin
	// ActionSwitchClass requests switching to State.Class.
	ActionSwitchClass
	// ActionLinkCheck requests a LinkCheckReq MAC command.
	ActionLinkCheck
	// ActionDeviceTime requests a DeviceTimeReq MAC command.
	ActionDeviceTime
)

var actionNames = map[Action]string{
	ActionReset:       "reset",
	ActionJoin:        "join",
	ActionSwitchClass: "switch_class",
	ActionLinkCheck:   "link_check",
	ActionDeviceTime:  "device_time",
}

// String implements fmt.Stringer.
func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// txPeriodicities maps the TxPeriodicityChangeReq value to the uplink
// periodicity. 0 restores the application default.
var txPeriodicities = []time.Duration{
	0,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	30 * time.Second,
	40 * time.Second,
	50 * time.Second,
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	480 * time.Second,
}

// State holds the certification state of the device under test.
type State struct {
	// RxAppCnt holds the number of FPort 224 downlinks received.
	RxAppCnt uint16

	// ADR holds the ADR bit the device must set in its uplinks.
	ADR bool

	// DutyCycle is false when the regional duty-cycle limitation has been
	// disabled by the test harness.
	DutyCycle bool

	// TxPeriodicity holds the requested uplink periodicity. 0 means the
	// application default.
	TxPeriodicity time.Duration

	// FrameType holds the frame type of the periodic uplinks.
	// TxFrameNoChange means the application decides.
	FrameType lorawan.TxFrameType

	Class Class
}

// NewState returns the state after a reset.
func NewState(adr bool) State {
	return State{
		ADR:       adr,
		DutyCycle: true,
	}
}

// Context holds the state the certification commands operate on.
type Context struct {
	State *State

	// Versions holds the versions reported by the DutVersionsAns.
	Versions lorawan.DutVersionsAnsPayload
}

// Result holds the outcome of handling a certification payload.
type Result struct {
	// Answer holds the encoded answers to send on FPort 224 (nil when
	// there is nothing to answer).
	Answer []byte

	// Actions holds the actions to take, in order.
	Actions []Action
}

// Handle handles the given FPort 224 payload. The commands are handled up
// to the first malformed command.
func Handle(ctx context.Context, c Context, payload []byte) (Result, error) {
	var out Result
	var answers []lorawan.MACCommand

	c.State.RxAppCnt++

	it := lorawan.NewCommandIterator(lorawan.CertificationCommandSet, payload)
	for it.Next() {
		cmd := it.Command()

		ans, err := handleCommand(ctx, c, &out, cmd)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"cid":    cmd.CID,
				"ctx_id": ctx.Value(logging.ContextIDKey),
			}).Warning("certification: handle command error")
			continue
		}

		if ans != nil {
			answers = append(answers, *ans)
		}
	}

	if err := it.Err(); err != nil {
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Debug("certification: decode commands error")
	}

	if len(answers) == 0 {
		return out, nil
	}

	b, err := lorawan.EncodeMACCommands(answers, lorawan.MaxFRMPayloadMACLen)
	if err != nil {
		return out, errors.Wrap(err, "encode answers error")
	}
	out.Answer = b

	return out, nil
}

func handleCommand(ctx context.Context, c Context, out *Result, cmd lorawan.MACCommand) (*lorawan.MACCommand, error) {
	s := c.State

	switch cmd.CID {
	case lorawan.CertPackageVersionReq:
		return &lorawan.MACCommand{
			CID: lorawan.CertPackageVersionAns,
			Payload: &lorawan.PackageVersionAnsPayload{
				PackageIdentifier: lorawan.CertPackageIdentifier,
				PackageVersion:    lorawan.CertPackageVersion,
			},
		}, nil
	case lorawan.CertDutResetReq:
		out.Actions = append(out.Actions, ActionReset)
	case lorawan.CertDutJoinReq:
		out.Actions = append(out.Actions, ActionJoin)
	case lorawan.CertSwitchClassReq:
		v, err := byteValue(cmd)
		if err != nil {
			return nil, err
		}
		if Class(v) != ClassA && Class(v) != ClassC {
			return nil, fmt.Errorf("unsupported class %s", Class(v))
		}
		s.Class = Class(v)
		out.Actions = append(out.Actions, ActionSwitchClass)
	case lorawan.CertADRBitChangeReq:
		v, err := byteValue(cmd)
		if err != nil {
			return nil, err
		}
		if v > 1 {
			return nil, fmt.Errorf("invalid adr value %d", v)
		}
		s.ADR = v == 1
	case lorawan.CertRegionalDutyCycleCtrlReq:
		v, err := byteValue(cmd)
		if err != nil {
			return nil, err
		}
		if v > 1 {
			return nil, fmt.Errorf("invalid duty-cycle value %d", v)
		}
		s.DutyCycle = v == 1
	case lorawan.CertTxPeriodicityChangeReq:
		v, err := byteValue(cmd)
		if err != nil {
			return nil, err
		}
		if int(v) >= len(txPeriodicities) {
			return nil, fmt.Errorf("invalid periodicity value %d", v)
		}
		s.TxPeriodicity = txPeriodicities[v]
	case lorawan.CertTxFramesCtrlReq:
		pl, ok := cmd.Payload.(*lorawan.TxFramesCtrlReqPayload)
		if !ok {
			return nil, fmt.Errorf("expected *lorawan.TxFramesCtrlReqPayload, got %T", cmd.Payload)
		}
		switch pl.FrameType {
		case lorawan.TxFrameNoChange:
		case lorawan.TxFrameUnconfirmed, lorawan.TxFrameConfirmed:
			s.FrameType = pl.FrameType
		default:
			return nil, fmt.Errorf("invalid frame type %d", pl.FrameType)
		}
	case lorawan.CertEchoPayloadReq:
		pl, ok := cmd.Payload.(*lorawan.BytesPayload)
		if !ok {
			return nil, fmt.Errorf("expected *lorawan.BytesPayload, got %T", cmd.Payload)
		}
		return &lorawan.MACCommand{
			CID:     lorawan.CertEchoPayloadAns,
			Payload: &lorawan.BytesPayload{Data: lorawan.EchoPayload(pl.Data)},
		}, nil
	case lorawan.CertRxAppCntReq:
		return &lorawan.MACCommand{
			CID:     lorawan.CertRxAppCntAns,
			Payload: &lorawan.RxAppCntAnsPayload{RxAppCnt: s.RxAppCnt},
		}, nil
	case lorawan.CertRxAppCntResetReq:
		s.RxAppCnt = 0
	case lorawan.CertLinkCheckReq:
		out.Actions = append(out.Actions, ActionLinkCheck)
	case lorawan.CertDeviceTimeReq:
		out.Actions = append(out.Actions, ActionDeviceTime)
	case lorawan.CertPingSlotInfoReq:
		return nil, errors.New("class-b is not supported")
	case lorawan.CertDutVersionsReq:
		versions := c.Versions
		return &lorawan.MACCommand{
			CID:     lorawan.CertDutVersionsAns,
			Payload: &versions,
		}, nil
	default:
		return nil, fmt.Errorf("undefined CID %d", cmd.CID)
	}

	log.WithFields(log.Fields{
		"cid":    cmd.CID,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Debug("certification: command handled")

	return nil, nil
}

func byteValue(cmd lorawan.MACCommand) (uint8, error) {
	pl, ok := cmd.Payload.(*lorawan.ByteValuePayload)
	if !ok {
		return 0, fmt.Errorf("expected *lorawan.ByteValuePayload, got %T", cmd.Payload)
	}
	return pl.Value, nil
}
