package certification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

func TestHandle(t *testing.T) {
	versions := lorawan.DutVersionsAnsPayload{
		FirmwareVersion:       lorawan.Version{Major: 1, Minor: 2},
		LoRaWANVersion:        lorawan.Version{Major: 1, Minor: 0, Patch: 2},
		RegionalParamsVersion: lorawan.Version{Major: 2, Minor: 1, Patch: 0},
	}

	tests := []struct {
		Name            string
		State           State
		Payload         []byte
		ExpectedState   State
		ExpectedAnswer  []byte
		ExpectedActions []Action
	}{
		{
			Name:           "package version",
			State:          NewState(false),
			Payload:        []byte{0x00},
			ExpectedState:  State{RxAppCnt: 1, DutyCycle: true},
			ExpectedAnswer: []byte{0x00, 0x06, 0x01},
		},
		{
			Name:            "reset and join",
			State:           NewState(false),
			Payload:         []byte{0x01, 0x02},
			ExpectedState:   State{RxAppCnt: 1, DutyCycle: true},
			ExpectedActions: []Action{ActionReset, ActionJoin},
		},
		{
			Name:            "switch to class-c",
			State:           NewState(false),
			Payload:         []byte{0x03, 0x02},
			ExpectedState:   State{RxAppCnt: 1, DutyCycle: true, Class: ClassC},
			ExpectedActions: []Action{ActionSwitchClass},
		},
		{
			Name:          "switch to class-b is rejected",
			State:         NewState(false),
			Payload:       []byte{0x03, 0x01},
			ExpectedState: State{RxAppCnt: 1, DutyCycle: true},
		},
		{
			Name:          "adr, duty-cycle and periodicity",
			State:         NewState(false),
			Payload:       []byte{0x04, 0x01, 0x05, 0x00, 0x06, 0x08},
			ExpectedState: State{RxAppCnt: 1, ADR: true, TxPeriodicity: 2 * time.Minute},
		},
		{
			Name:          "invalid periodicity is ignored",
			State:         NewState(true),
			Payload:       []byte{0x06, 0x0b},
			ExpectedState: State{RxAppCnt: 1, ADR: true, DutyCycle: true},
		},
		{
			Name:           "echo payload",
			State:          NewState(false),
			Payload:        []byte{0x08, 0x01, 0x02, 0xff},
			ExpectedState:  State{RxAppCnt: 1, DutyCycle: true},
			ExpectedAnswer: []byte{0x08, 0x02, 0x03, 0x00},
		},
		{
			Name:          "tx frames ctrl consumes the remainder",
			State:         NewState(false),
			Payload:       []byte{0x07, 0x02, 0x01, 0x00},
			ExpectedState: State{RxAppCnt: 1, DutyCycle: true, FrameType: lorawan.TxFrameConfirmed},
		},
		{
			Name:          "tx frames ctrl no change",
			State:         State{FrameType: lorawan.TxFrameConfirmed},
			Payload:       []byte{0x07, 0x00},
			ExpectedState: State{RxAppCnt: 1, FrameType: lorawan.TxFrameConfirmed},
		},
		{
			Name:           "rx app cnt",
			State:          State{RxAppCnt: 9},
			Payload:        []byte{0x09},
			ExpectedState:  State{RxAppCnt: 10},
			ExpectedAnswer: []byte{0x09, 0x0a, 0x00},
		},
		{
			Name:           "rx app cnt reset",
			State:          State{RxAppCnt: 9},
			Payload:        []byte{0x0a, 0x09},
			ExpectedState:  State{},
			ExpectedAnswer: []byte{0x09, 0x00, 0x00},
		},
		{
			Name:            "link check and device time",
			State:           State{},
			Payload:         []byte{0x20, 0x21},
			ExpectedState:   State{RxAppCnt: 1},
			ExpectedActions: []Action{ActionLinkCheck, ActionDeviceTime},
		},
		{
			Name:           "dut versions",
			State:          State{},
			Payload:        []byte{0x7f},
			ExpectedState:  State{RxAppCnt: 1},
			ExpectedAnswer: []byte{0x7f, 1, 2, 0, 0, 1, 0, 2, 0, 2, 1, 0, 0},
		},
		{
			Name:           "decoding stops at unknown command",
			State:          State{},
			Payload:        []byte{0x00, 0x50, 0x01},
			ExpectedState:  State{RxAppCnt: 1},
			ExpectedAnswer: []byte{0x00, 0x06, 0x01},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			s := tst.State
			res, err := Handle(context.Background(), Context{
				State:    &s,
				Versions: versions,
			}, tst.Payload)
			assert.NoError(err)
			assert.Equal(tst.ExpectedState, s)
			assert.Equal(tst.ExpectedAnswer, res.Answer)
			assert.Equal(tst.ExpectedActions, res.Actions)
		})
	}
}

func TestActionString(t *testing.T) {
	assert := require.New(t)
	assert.Equal("switch_class", ActionSwitchClass.String())
	assert.Equal("Action(10)", Action(10).String())
	assert.Equal("C", ClassC.String())
}
