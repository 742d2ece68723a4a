package uplink

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

func TestStateAnswers(t *testing.T) {
	t.Run("Sticky answers survive until downlink", func(t *testing.T) {
		assert := require.New(t)
		s := NewState()

		assert.NoError(s.AddSticky(lorawan.MACCommand{
			CID:     lorawan.RXTimingSetupAns,
			Payload: nil,
		}))
		assert.NoError(s.AddAnswer(lorawan.MACCommand{CID: lorawan.DutyCycleAns}))
		assert.Len(s.Commands(), 2)

		s.ConfirmSent()
		assert.Equal([]lorawan.MACCommand{{CID: lorawan.RXTimingSetupAns}}, s.Commands())

		s.ConfirmSent()
		assert.Len(s.Commands(), 1)

		s.DownlinkReceived()
		assert.Len(s.Commands(), 0)
	})

	t.Run("Sticky answer with the same CID is replaced", func(t *testing.T) {
		assert := require.New(t)
		s := NewState()

		assert.NoError(s.AddSticky(lorawan.MACCommand{
			CID:     lorawan.RXParamSetupAns,
			Payload: &lorawan.RXParamSetupAnsPayload{ChannelACK: true},
		}))
		assert.NoError(s.AddSticky(lorawan.MACCommand{
			CID:     lorawan.RXParamSetupAns,
			Payload: &lorawan.RXParamSetupAnsPayload{ChannelACK: true, RX2DataRateACK: true, RX1DROffsetACK: true},
		}))

		assert.Equal([]lorawan.MACCommand{
			{
				CID:     lorawan.RXParamSetupAns,
				Payload: &lorawan.RXParamSetupAnsPayload{ChannelACK: true, RX2DataRateACK: true, RX1DROffsetACK: true},
			},
		}, s.Commands())
	})

	t.Run("LinkADRAns is replaced", func(t *testing.T) {
		assert := require.New(t)
		s := NewState()

		assert.NoError(s.SetLinkADRAns(lorawan.LinkADRAnsPayload{ChannelMaskACK: false, DataRateACK: true, PowerACK: true}, 2))
		assert.NoError(s.SetLinkADRAns(lorawan.LinkADRAnsPayload{ChannelMaskACK: true, DataRateACK: true, PowerACK: true}, 1))

		assert.Equal([]lorawan.MACCommand{
			{
				CID:     lorawan.LinkADRAns,
				Payload: &lorawan.LinkADRAnsPayload{ChannelMaskACK: true, DataRateACK: true, PowerACK: true},
			},
		}, s.Commands())
	})

	t.Run("LinkADRAns per request of a block", func(t *testing.T) {
		assert := require.New(t)
		s := NewState()

		assert.NoError(s.AddSticky(lorawan.MACCommand{
			CID: lorawan.RXTimingSetupAns,
		}))
		assert.NoError(s.SetLinkADRAns(lorawan.LinkADRAnsPayload{ChannelMaskACK: true, DataRateACK: true, PowerACK: true}, 3))

		ans := lorawan.MACCommand{
			CID:     lorawan.LinkADRAns,
			Payload: &lorawan.LinkADRAnsPayload{ChannelMaskACK: true, DataRateACK: true, PowerACK: true},
		}
		assert.Equal([]lorawan.MACCommand{
			{CID: lorawan.RXTimingSetupAns},
			ans,
			ans,
			ans,
		}, s.Commands())
		assert.Equal(7, s.Size())
	})

	t.Run("Requests follow answers and are not duplicated", func(t *testing.T) {
		assert := require.New(t)
		s := NewState()

		assert.NoError(s.AddRequest(lorawan.LinkCheckReq))
		assert.NoError(s.AddAnswer(lorawan.MACCommand{CID: lorawan.DutyCycleAns}))
		assert.NoError(s.AddRequest(lorawan.LinkCheckReq))
		assert.NoError(s.AddRequest(lorawan.DeviceTimeReq))

		assert.Equal([]lorawan.MACCommand{
			{CID: lorawan.DutyCycleAns},
			{CID: lorawan.LinkCheckReq},
			{CID: lorawan.DeviceTimeReq},
		}, s.Commands())

		s.ConfirmSent()
		assert.Len(s.Commands(), 0)
	})
}

func TestStateCapacity(t *testing.T) {
	assert := require.New(t)
	s := NewState()

	// 5 x 3 bytes
	for i := 0; i < 5; i++ {
		assert.NoError(s.AddAnswer(lorawan.MACCommand{
			CID:     lorawan.DevStatusAns,
			Payload: &lorawan.DevStatusAnsPayload{Battery: 255, Margin: 10},
		}))
	}
	assert.Equal(lorawan.MaxFOptsLen, s.Size())

	err := s.AddAnswer(lorawan.MACCommand{CID: lorawan.DutyCycleAns})
	assert.Equal(ErrAnswerCapacity, errors.Cause(err))
	assert.Len(s.Commands(), 5)

	err = s.AddRequest(lorawan.LinkCheckReq)
	assert.Equal(ErrAnswerCapacity, errors.Cause(err))
	assert.Equal(lorawan.MaxFOptsLen, s.Size())

	b, err := lorawan.EncodeMACCommands(s.Commands(), lorawan.MaxFOptsLen)
	assert.NoError(err)
	assert.Len(b, lorawan.MaxFOptsLen)
}

func TestStateACKAndADR(t *testing.T) {
	assert := require.New(t)
	s := NewState()

	assert.False(s.ACKPending())
	s.SetACKPending()
	assert.True(s.ACKPending())
	s.ConfirmSent()
	assert.False(s.ACKPending())

	for i := 1; i <= 64; i++ {
		assert.Equal(i, s.IncrementADRACKCnt())
	}
	assert.True(s.ADRACKReq(64))
	assert.False(s.ADRACKReq(65))

	s.ResetADRACKCnt()
	assert.Equal(0, s.ADRACKCnt())
	assert.False(s.ADRACKReq(64))
}
