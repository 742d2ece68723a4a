package maccommand

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-end-device/internal/band"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/chirpstack-end-device/internal/uplink"
)

func newContext(t *testing.T, bandName string) Context {
	b, err := band.GetConfig(bandName, band.Options{})
	require.NoError(t, err)

	return Context{
		Band:    b,
		Uplink:  uplink.NewState(),
		Session: &storage.DeviceSession{},
	}
}

func chMask(channels ...int) lorawan.ChMask {
	var m lorawan.ChMask
	for _, c := range channels {
		m[c] = true
	}
	return m
}

func linkADRReq(cntl uint8, mask lorawan.ChMask) lorawan.MACCommand {
	return lorawan.MACCommand{
		CID: lorawan.LinkADRReq,
		Payload: &lorawan.LinkADRReqPayload{
			DataRate: 3,
			TXPower:  1,
			ChMask:   mask,
			Redundancy: lorawan.Redundancy{
				ChMaskCntl: cntl,
			},
		},
	}
}

func linkADRAns(maskACK bool) lorawan.MACCommand {
	return lorawan.MACCommand{
		CID: lorawan.LinkADRAns,
		Payload: &lorawan.LinkADRAnsPayload{
			ChannelMaskACK: maskACK,
			DataRateACK:    true,
			PowerACK:       true,
		},
	}
}

func TestLinkADRReq(t *testing.T) {
	tests := []struct {
		Name                    string
		Band                    string
		Commands                []lorawan.MACCommand
		ExpectedEnabledChannels []int
		ExpectedAnswers         []lorawan.MACCommand
	}{
		{
			Name: "single block, sub-band 1",
			Band: band.US915,
			Commands: []lorawan.MACCommand{
				linkADRReq(7, chMask(0)),
				linkADRReq(0, chMask(0, 1, 2, 3, 4, 5, 6, 7)),
			},
			ExpectedEnabledChannels: []int{0, 1, 2, 3, 4, 5, 6, 7, 64},
			ExpectedAnswers:         []lorawan.MACCommand{linkADRAns(true), linkADRAns(true)},
		},
		{
			Name: "undefined channel is rejected",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				linkADRReq(0, chMask(0, 5)),
			},
			ExpectedEnabledChannels: []int{0, 1, 2},
			ExpectedAnswers:         []lorawan.MACCommand{linkADRAns(false)},
		},
		{
			Name: "block is rejected as a whole",
			Band: band.US915,
			Commands: []lorawan.MACCommand{
				linkADRReq(7, chMask(0)),
				linkADRReq(5, chMask(0)),
			},
			ExpectedEnabledChannels: seq(0, 72),
			ExpectedAnswers:         []lorawan.MACCommand{linkADRAns(false), linkADRAns(false)},
		},
		{
			Name: "all channels disabled is rejected",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				linkADRReq(0, chMask()),
			},
			ExpectedEnabledChannels: []int{0, 1, 2},
			ExpectedAnswers:         []lorawan.MACCommand{linkADRAns(false)},
		},
		{
			Name: "a second block replaces the answer of the first",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				linkADRReq(0, chMask(0, 1)),
				{CID: lorawan.DevStatusReq},
				linkADRReq(0, chMask(0, 2)),
			},
			ExpectedEnabledChannels: []int{0, 2},
			ExpectedAnswers: []lorawan.MACCommand{
				linkADRAns(true),
				{CID: lorawan.DevStatusAns, Payload: &lorawan.DevStatusAnsPayload{Battery: 255}},
			},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			c := newContext(t, tst.Band)

			assert.NoError(Handle(context.Background(), c, tst.Commands))
			assert.Equal(tst.ExpectedEnabledChannels, c.Band.EnabledChannels())
			assert.Equal(tst.ExpectedAnswers, c.Uplink.Commands())
		})
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		Name            string
		Band            string
		Commands        []lorawan.MACCommand
		Assert          func(assert *require.Assertions, c Context)
		ExpectedAnswers []lorawan.MACCommand
	}{
		{
			Name: "duty_cycle",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				{CID: lorawan.DutyCycleReq, Payload: &lorawan.DutyCycleReqPayload{MaxDCycle: 5}},
			},
			Assert: func(assert *require.Assertions, c Context) {
				assert.EqualValues(5, c.Session.MaxDutyCycle)
			},
			ExpectedAnswers: []lorawan.MACCommand{{CID: lorawan.DutyCycleAns}},
		},
		{
			Name: "rx_param_setup ack",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				{
					CID: lorawan.RXParamSetupReq,
					Payload: &lorawan.RXParamSetupReqPayload{
						Frequency:  868525000,
						DLSettings: lorawan.DLSettings{RX2DataRate: 3, RX1DROffset: 2},
					},
				},
			},
			Assert: func(assert *require.Assertions, c Context) {
				assert.Equal(band.RXParameters{Frequency: 868525000, DataRate: 3}, c.Band.RX2Parameters())
				rx1, err := c.Band.RX1Parameters(0, 5)
				assert.NoError(err)
				assert.Equal(3, rx1.DataRate)

				assert.Equal(2, c.Session.RX1DROffset)
				assert.EqualValues(868525000, c.Session.RX2Frequency)
				assert.Equal(3, c.Session.RX2DataRate)
			},
			ExpectedAnswers: []lorawan.MACCommand{
				{
					CID: lorawan.RXParamSetupAns,
					Payload: &lorawan.RXParamSetupAnsPayload{
						ChannelACK:     true,
						RX2DataRateACK: true,
						RX1DROffsetACK: true,
					},
				},
			},
		},
		{
			Name: "rx_param_setup invalid frequency",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				{
					CID: lorawan.RXParamSetupReq,
					Payload: &lorawan.RXParamSetupReqPayload{
						Frequency:  800000000,
						DLSettings: lorawan.DLSettings{RX2DataRate: 3, RX1DROffset: 2},
					},
				},
			},
			Assert: func(assert *require.Assertions, c Context) {
				assert.Equal(band.RXParameters{Frequency: 869525000, DataRate: 0}, c.Band.RX2Parameters())
				assert.Equal(storage.DeviceSession{}, *c.Session)
			},
			ExpectedAnswers: []lorawan.MACCommand{
				{
					CID: lorawan.RXParamSetupAns,
					Payload: &lorawan.RXParamSetupAnsPayload{
						ChannelACK:     false,
						RX2DataRateACK: true,
						RX1DROffsetACK: true,
					},
				},
			},
		},
		{
			Name: "new_channel",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				{
					CID: lorawan.NewChannelReq,
					Payload: &lorawan.NewChannelReqPayload{
						ChIndex: 3,
						Freq:    867100000,
						MinDR:   0,
						MaxDR:   5,
					},
				},
			},
			Assert: func(assert *require.Assertions, c Context) {
				assert.Equal([]int{0, 1, 2, 3}, c.Band.EnabledChannels())
			},
			ExpectedAnswers: []lorawan.MACCommand{
				{
					CID: lorawan.NewChannelAns,
					Payload: &lorawan.NewChannelAnsPayload{
						ChannelFrequencyOK: true,
						DataRateRangeOK:    true,
					},
				},
			},
		},
		{
			Name: "new_channel AS923 first non-default channel",
			Band: band.AS923,
			Commands: []lorawan.MACCommand{
				{
					CID: lorawan.NewChannelReq,
					Payload: &lorawan.NewChannelReqPayload{
						ChIndex: 2,
						Freq:    923600000,
						MinDR:   0,
						MaxDR:   5,
					},
				},
			},
			Assert: func(assert *require.Assertions, c Context) {
				assert.Equal([]int{0, 1, 2}, c.Band.EnabledChannels())
			},
			ExpectedAnswers: []lorawan.MACCommand{
				{
					CID: lorawan.NewChannelAns,
					Payload: &lorawan.NewChannelAnsPayload{
						ChannelFrequencyOK: true,
						DataRateRangeOK:    true,
					},
				},
			},
		},
		{
			Name: "new_channel fixed channel-plan",
			Band: band.US915,
			Commands: []lorawan.MACCommand{
				{
					CID: lorawan.NewChannelReq,
					Payload: &lorawan.NewChannelReqPayload{
						ChIndex: 3,
						Freq:    903100000,
						MaxDR:   3,
					},
				},
			},
			ExpectedAnswers: []lorawan.MACCommand{
				{
					CID:     lorawan.NewChannelAns,
					Payload: &lorawan.NewChannelAnsPayload{},
				},
			},
		},
		{
			Name: "rx_timing_setup",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				{CID: lorawan.RXTimingSetupReq, Payload: &lorawan.RXTimingSetupReqPayload{Delay: 5}},
			},
			Assert: func(assert *require.Assertions, c Context) {
				assert.Equal(5*time.Second, c.Band.ReceiveDelay1())
				assert.EqualValues(5, c.Session.RXDelay)
			},
			ExpectedAnswers: []lorawan.MACCommand{{CID: lorawan.RXTimingSetupAns}},
		},
		{
			Name: "tx_param_setup not supported",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				{CID: lorawan.TxParamSetupReq, Payload: &lorawan.TXParamSetupReqPayload{MaxEIRP: 5}},
			},
		},
		{
			Name: "tx_param_setup",
			Band: band.AS923,
			Commands: []lorawan.MACCommand{
				{CID: lorawan.TxParamSetupReq, Payload: &lorawan.TXParamSetupReqPayload{MaxEIRP: 5}},
			},
			Assert: func(assert *require.Assertions, c Context) {
				eirp, err := c.Band.GetTXPower(0)
				assert.NoError(err)
				assert.Equal(16, eirp)
			},
			ExpectedAnswers: []lorawan.MACCommand{{CID: lorawan.TxParamSetupAns}},
		},
		{
			Name: "dl_channel",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				{CID: lorawan.DlChannelReq, Payload: &lorawan.DlChannelReqPayload{ChIndex: 0, Freq: 868500000}},
			},
			Assert: func(assert *require.Assertions, c Context) {
				rx1, err := c.Band.RX1Parameters(0, 5)
				assert.NoError(err)
				assert.EqualValues(868500000, rx1.Frequency)
			},
			ExpectedAnswers: []lorawan.MACCommand{
				{
					CID: lorawan.DlChannelAns,
					Payload: &lorawan.DlChannelAnsPayload{
						ChannelFrequencyOK:    true,
						UplinkFrequencyExists: true,
					},
				},
			},
		},
		{
			Name: "link_check answer",
			Band: band.EU868,
			Commands: []lorawan.MACCommand{
				{CID: lorawan.LinkCheckAns, Payload: &lorawan.LinkCheckAnsPayload{Margin: 7, GwCnt: 3}},
			},
			Assert: func(assert *require.Assertions, c Context) {
				assert.Equal(&storage.LinkCheck{Margin: 7, GwCnt: 3}, c.Session.LinkCheck)
			},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			c := newContext(t, tst.Band)

			assert.NoError(Handle(context.Background(), c, tst.Commands))
			if tst.Assert != nil {
				tst.Assert(assert, c)
			}
			assert.Equal(tst.ExpectedAnswers, c.Uplink.Commands())
		})
	}
}

func TestDevStatusReq(t *testing.T) {
	assert := require.New(t)
	c := newContext(t, band.EU868)
	c.Battery = func() uint8 { return 100 }
	c.Margin = 40

	assert.NoError(Handle(context.Background(), c, []lorawan.MACCommand{{CID: lorawan.DevStatusReq}}))
	assert.Equal([]lorawan.MACCommand{
		{
			CID: lorawan.DevStatusAns,
			Payload: &lorawan.DevStatusAnsPayload{
				Battery: 100,
				Margin:  31,
			},
		},
	}, c.Uplink.Commands())
}

func TestDeviceTimeAns(t *testing.T) {
	assert := require.New(t)
	c := newContext(t, band.EU868)

	var received time.Duration
	c.DeviceTime = func(d time.Duration) {
		received = d
	}

	assert.NoError(RequestDeviceTime(c))
	assert.Equal([]lorawan.MACCommand{{CID: lorawan.DeviceTimeReq}}, c.Uplink.Commands())

	assert.NoError(Handle(context.Background(), c, []lorawan.MACCommand{
		{CID: lorawan.DeviceTimeAns, Payload: &lorawan.DeviceTimeAnsPayload{TimeSinceGPSEpoch: time.Hour}},
	}))
	assert.Equal(time.Hour, received)
}

func TestAnswerCapacity(t *testing.T) {
	assert := require.New(t)
	c := newContext(t, band.EU868)

	var cmds []lorawan.MACCommand
	for i := 0; i < 6; i++ {
		cmds = append(cmds, lorawan.MACCommand{CID: lorawan.DevStatusReq})
	}
	cmds = append(cmds, lorawan.MACCommand{CID: lorawan.DutyCycleReq, Payload: &lorawan.DutyCycleReqPayload{MaxDCycle: 2}})

	err := Handle(context.Background(), c, cmds)
	assert.Equal(uplink.ErrAnswerCapacity, errors.Cause(err))

	// the answers that fit are kept and the remaining commands are still
	// applied
	assert.Len(c.Uplink.Commands(), 5)
	assert.Equal(lorawan.MaxFOptsLen, c.Uplink.Size())
	assert.EqualValues(2, c.Session.MaxDutyCycle)
}

func seq(from, to int) []int {
	var out []int
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
