package band

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

func mustGetConfig(t *testing.T, name string, opts Options) Band {
	b, err := GetConfig(name, opts)
	require.NoError(t, err)
	return b
}

func TestGetConfig(t *testing.T) {
	assert := require.New(t)

	_, err := GetConfig("XX123", Options{})
	assert.Equal(ErrUnknownBand, errors.Cause(err))

	_, err = GetConfig(US915, Options{SubBand: 9})
	assert.Error(err)

	for _, name := range []string{EU868, US915, AU915, AS923, CN470, EU433, IN865, KR920} {
		b, err := GetConfig(name, Options{})
		assert.NoError(err, name)
		assert.Equal(name, b.Name())
		assert.NotEmpty(b.EnabledChannels(), name)
	}
}

func TestDefaults(t *testing.T) {
	tests := []struct {
		Name             string
		Band             string
		RX2Frequency     uint32
		RX2DataRate      int
		Channels         int
		FixedChannelPlan bool
	}{
		{
			Name:         "EU868",
			Band:         EU868,
			RX2Frequency: 869525000,
			RX2DataRate:  0,
			Channels:     16,
		},
		{
			Name:             "US915",
			Band:             US915,
			RX2Frequency:     923300000,
			RX2DataRate:      8,
			Channels:         72,
			FixedChannelPlan: true,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			b := mustGetConfig(t, tst.Band, Options{})

			d := b.Defaults()
			assert.Equal(time.Second, d.ReceiveDelay1)
			assert.Equal(2*time.Second, d.ReceiveDelay2)
			assert.Equal(5*time.Second, d.JoinAcceptDelay1)
			assert.Equal(6*time.Second, d.JoinAcceptDelay2)
			assert.EqualValues(16384, d.MaxFCntGap)
			assert.Equal(tst.RX2Frequency, d.RX2Frequency)
			assert.Equal(tst.RX2DataRate, d.RX2DataRate)

			assert.Equal(RXParameters{Frequency: tst.RX2Frequency, DataRate: tst.RX2DataRate}, b.RX2Parameters())
			assert.Len(b.ChannelMask(), tst.Channels)
			assert.Equal(tst.FixedChannelPlan, b.FixedChannelPlan())
		})
	}
}

func TestGetDataRate(t *testing.T) {
	assert := require.New(t)
	b := mustGetConfig(t, EU868, Options{})

	dr, err := b.GetDataRate(0)
	assert.NoError(err)
	assert.Equal(DataRate{SpreadFactor: 12, Bandwidth: 125}, dr)

	dr, err = b.GetDataRate(6)
	assert.NoError(err)
	assert.Equal(DataRate{SpreadFactor: 7, Bandwidth: 250}, dr)

	// FSK
	_, err = b.GetDataRate(7)
	assert.Equal(ErrUnsupportedDataRate, errors.Cause(err))

	// reserved
	_, err = b.GetDataRate(15)
	assert.Equal(ErrUnsupportedDataRate, errors.Cause(err))

	n, err := b.GetMaxPayloadSize(0)
	assert.NoError(err)
	assert.Equal(51, n)

	_, err = b.GetMaxPayloadSize(7)
	assert.Equal(ErrUnsupportedDataRate, errors.Cause(err))
}

func TestGetMaxPayloadSize(t *testing.T) {
	tests := []struct {
		Name     string
		Band     string
		Options  Options
		Expected []int
	}{
		{
			Name:     "EU868",
			Band:     EU868,
			Expected: []int{51, 51, 51, 115, 242, 242, 242},
		},
		{
			Name:     "EU868 repeater compatible",
			Band:     EU868,
			Options:  Options{RepeaterCompatible: true},
			Expected: []int{51, 51, 51, 115, 222, 222, 222},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			b := mustGetConfig(t, tst.Band, tst.Options)

			for dr, expected := range tst.Expected {
				n, err := b.GetMaxPayloadSize(dr)
				assert.NoError(err)
				assert.Equal(expected, n, "dr: %d", dr)
			}
		})
	}
}

func TestGetTXPower(t *testing.T) {
	assert := require.New(t)
	b := mustGetConfig(t, EU868, Options{})

	p, err := b.GetTXPower(0)
	assert.NoError(err)
	assert.Equal(16, p)

	p, err = b.GetTXPower(7)
	assert.NoError(err)
	assert.Equal(2, p)

	_, err = b.GetTXPower(8)
	assert.Error(err)

	assert.Equal(ErrNotSupported, errors.Cause(b.SetTXParams(true, true, 5)))
}

func TestRXParameters(t *testing.T) {
	t.Run("EU868", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, EU868, Options{})

		rx1, err := b.RX1Parameters(0, 5)
		assert.NoError(err)
		assert.Equal(RXParameters{Frequency: 868100000, DataRate: 5}, rx1)

		s := b.SetRXParameters(1, 869525000, 3)
		assert.True(s.OK())
		assert.Equal(RXParameters{Frequency: 869525000, DataRate: 3}, b.RX2Parameters())

		rx1, err = b.RX1Parameters(0, 5)
		assert.NoError(err)
		assert.Equal(4, rx1.DataRate)

		_, err = b.RX1Parameters(5, 5)
		assert.Equal(ErrInvalidChannel, errors.Cause(err))
	})

	t.Run("EU868 invalid values are not applied", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, EU868, Options{})

		s := b.SetRXParameters(1, 869525000, 7)
		assert.Equal(RXParamStatus{ChannelOK: true, RX1DROffsetOK: true}, s)

		s = b.SetRXParameters(1, 915000000, 3)
		assert.Equal(RXParamStatus{RX2DataRateOK: true, RX1DROffsetOK: true}, s)

		s = b.SetRXParameters(6, 869525000, 3)
		assert.Equal(RXParamStatus{ChannelOK: true, RX2DataRateOK: true}, s)

		assert.Equal(RXParameters{Frequency: 869525000, DataRate: 0}, b.RX2Parameters())
	})

	t.Run("US915", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, US915, Options{})

		rx1, err := b.RX1Parameters(0, 0)
		assert.NoError(err)
		assert.Equal(RXParameters{Frequency: 923300000, DataRate: 10}, rx1)

		rx1, err = b.RX1Parameters(9, 3)
		assert.NoError(err)
		assert.Equal(RXParameters{Frequency: 923900000, DataRate: 13}, rx1)

		rx1, err = b.RX1Parameters(64, 4)
		assert.NoError(err)
		assert.Equal(RXParameters{Frequency: 923300000, DataRate: 13}, rx1)
	})
}

func TestReceiveDelay1(t *testing.T) {
	assert := require.New(t)
	b := mustGetConfig(t, EU868, Options{})

	assert.Equal(time.Second, b.ReceiveDelay1())
	b.SetReceiveDelay1(5)
	assert.Equal(5*time.Second, b.ReceiveDelay1())
	b.SetReceiveDelay1(0)
	assert.Equal(time.Second, b.ReceiveDelay1())
}

func TestFixedSelectUplinkChannel(t *testing.T) {
	tests := []struct {
		Name     string
		Options  Options
		Rnd      uint32
		DR       int
		Join     bool
		Expected int
	}{
		{
			Name:     "no sub-band",
			Rnd:      17,
			DR:       0,
			Expected: 17,
		},
		{
			Name:     "sub-band 2 first channel",
			Options:  Options{SubBand: 2},
			Rnd:      0,
			DR:       0,
			Expected: 8,
		},
		{
			Name:     "sub-band 2 wraps",
			Options:  Options{SubBand: 2},
			Rnd:      9,
			DR:       0,
			Expected: 9,
		},
		{
			Name:     "sub-band 2 500kHz channel",
			Options:  Options{SubBand: 2},
			Rnd:      3,
			DR:       4,
			Expected: 65,
		},
		{
			Name:     "join sub-band",
			Options:  Options{SubBand: 2, JoinSubBand: 1},
			Rnd:      2,
			DR:       0,
			Join:     true,
			Expected: 2,
		},
		{
			Name:     "join sub-band ignored for data",
			Options:  Options{SubBand: 2, JoinSubBand: 1},
			Rnd:      2,
			DR:       0,
			Expected: 10,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			b := mustGetConfig(t, US915, tst.Options)

			ch, err := b.SelectUplinkChannel(tst.Rnd, tst.DR, tst.Join)
			assert.NoError(err)
			assert.Equal(tst.Expected, ch)
		})
	}

	t.Run("no channel", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, US915, Options{})

		_, err := b.SelectUplinkChannel(0, 7, false)
		assert.Equal(ErrNoChannelAvailable, errors.Cause(err))
	})
}

func TestFixedApplyChannelMask(t *testing.T) {
	var first8 lorawan.ChMask
	for i := 0; i < 8; i++ {
		first8[i] = true
	}

	tests := []struct {
		Name       string
		ChMaskCntl uint8
		ChMask     lorawan.ChMask
		Enabled    []int
		Error      error
	}{
		{
			Name:       "block 0",
			ChMaskCntl: 0,
			ChMask:     first8,
			Enabled:    append(seq(0, 8), seq(16, 72)...),
		},
		{
			Name:       "all 125kHz off",
			ChMaskCntl: 7,
			ChMask:     lorawan.ChMask{true},
			Enabled:    []int{64},
		},
		{
			Name:       "all 125kHz on",
			ChMaskCntl: 6,
			ChMask:     lorawan.ChMask{true, true},
			Enabled:    append(seq(0, 64), 64, 65),
		},
		{
			Name:       "invalid cntl",
			ChMaskCntl: 5,
			Error:      ErrInvalidChannelMask,
		},
		{
			Name:       "undefined channel in last block",
			ChMaskCntl: 4,
			ChMask:     lorawan.ChMask{8: true},
			Error:      ErrInvalidChannelMask,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)
			b := mustGetConfig(t, US915, Options{})

			mask, err := b.ApplyChannelMask(b.ChannelMask(), tst.ChMaskCntl, tst.ChMask)
			if tst.Error != nil {
				assert.Equal(tst.Error, errors.Cause(err))
				return
			}
			assert.NoError(err)
			assert.Equal(tst.Enabled, enabled(mask))

			// the band itself is not changed until the mask is set
			assert.Len(b.EnabledChannels(), 72)
			assert.NoError(b.SetChannelMask(mask))
			assert.Equal(tst.Enabled, b.EnabledChannels())
		})
	}
}

func TestFixedApplyCFList(t *testing.T) {
	assert := require.New(t)
	b := mustGetConfig(t, US915, Options{})

	var cfList lorawan.CFList
	cfList.Type = lorawan.CFListChannelMask
	for i := 0; i < 8; i++ {
		cfList.ChMasks[0][8+i] = true
	}
	cfList.ChMasks[4][1] = true

	assert.NoError(b.ApplyCFList(cfList))
	assert.Equal(append(seq(8, 16), 65), b.EnabledChannels())

	assert.Equal(ErrNotSupported, errors.Cause(b.ApplyCFList(lorawan.CFList{Type: lorawan.CFListChannel})))

	s := b.SetChannel(3, 903000000, 0, 3)
	assert.False(s.OK())
}

func TestDynamicChannels(t *testing.T) {
	t.Run("SetChannel", func(t *testing.T) {
		tests := []struct {
			Name      string
			Index     int
			Frequency uint32
			MinDR     int
			MaxDR     int
			Expected  ChannelStatus
		}{
			{
				Name:      "valid",
				Index:     3,
				Frequency: 867100000,
				MaxDR:     5,
				Expected:  ChannelStatus{FrequencyOK: true, DataRateOK: true},
			},
			{
				Name:      "default channel",
				Index:     2,
				Frequency: 867100000,
				MaxDR:     5,
			},
			{
				Name:      "out of range index",
				Index:     16,
				Frequency: 867100000,
				MaxDR:     5,
			},
			{
				Name:      "invalid frequency",
				Index:     3,
				Frequency: 915000000,
				MaxDR:     5,
				Expected:  ChannelStatus{DataRateOK: true},
			},
			{
				Name:      "invalid data-rate range",
				Index:     3,
				Frequency: 867100000,
				MinDR:     5,
				MaxDR:     2,
				Expected:  ChannelStatus{FrequencyOK: true},
			},
			{
				Name:      "unsupported data-rate",
				Index:     3,
				Frequency: 867100000,
				MaxDR:     7,
				Expected:  ChannelStatus{FrequencyOK: true},
			},
		}

		for _, tst := range tests {
			t.Run(tst.Name, func(t *testing.T) {
				assert := require.New(t)
				b := mustGetConfig(t, EU868, Options{})

				s := b.SetChannel(tst.Index, tst.Frequency, tst.MinDR, tst.MaxDR)
				assert.Equal(tst.Expected, s)

				if s.OK() {
					c, err := b.UplinkChannel(tst.Index)
					assert.NoError(err)
					assert.Equal(Channel{Frequency: tst.Frequency, MinDR: tst.MinDR, MaxDR: tst.MaxDR, Enabled: true, Custom: true}, c)
				} else {
					assert.Equal([]int{0, 1, 2}, b.EnabledChannels())
				}
			})
		}
	})

	t.Run("remove channel", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, EU868, Options{})

		assert.True(b.SetChannel(3, 867100000, 0, 5).OK())
		assert.Equal([]int{0, 1, 2, 3}, b.EnabledChannels())
		assert.True(b.SetChannel(3, 0, 0, 0).OK())
		assert.Equal([]int{0, 1, 2}, b.EnabledChannels())
	})

	t.Run("SetDownlinkFrequency", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, EU868, Options{})

		assert.Equal(ChannelStatus{FrequencyOK: true}, b.SetDownlinkFrequency(5, 868500000))
		assert.Equal(ChannelStatus{DataRateOK: true}, b.SetDownlinkFrequency(0, 920000000))
		assert.True(b.SetDownlinkFrequency(0, 869000000).OK())

		rx1, err := b.RX1Parameters(0, 0)
		assert.NoError(err)
		assert.Equal(RXParameters{Frequency: 869000000, DataRate: 0}, rx1)
	})

	t.Run("ApplyCFList", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, EU868, Options{})

		assert.NoError(b.ApplyCFList(lorawan.CFList{
			Type:        lorawan.CFListChannel,
			Frequencies: [5]uint32{867100000, 867300000, 867500000, 867700000, 867900000},
		}))
		assert.Equal(seq(0, 8), b.EnabledChannels())

		c, err := b.UplinkChannel(7)
		assert.NoError(err)
		assert.Equal(Channel{Frequency: 867900000, MinDR: 0, MaxDR: 5, Enabled: true, Custom: true}, c)

		assert.Equal(ErrNotSupported, errors.Cause(b.ApplyCFList(lorawan.CFList{Type: lorawan.CFListChannelMask})))
	})

	t.Run("ApplyChannelMask", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, EU868, Options{})

		mask, err := b.ApplyChannelMask(b.ChannelMask(), 0, lorawan.ChMask{true, false, true})
		assert.NoError(err)
		assert.Equal([]int{0, 2}, enabled(mask))

		_, err = b.ApplyChannelMask(b.ChannelMask(), 0, lorawan.ChMask{true, true, true, true})
		assert.Equal(ErrInvalidChannelMask, errors.Cause(err))

		mask, err = b.ApplyChannelMask(mask, 6, lorawan.ChMask{})
		assert.NoError(err)
		assert.Equal([]int{0, 1, 2}, enabled(mask))

		_, err = b.ApplyChannelMask(mask, 1, lorawan.ChMask{})
		assert.Equal(ErrInvalidChannelMask, errors.Cause(err))

		assert.Equal(ErrInvalidChannelMask, errors.Cause(b.SetChannelMask(make([]bool, 16))))
	})

	t.Run("SelectUplinkChannel", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, EU868, Options{})
		assert.True(b.SetChannel(3, 867100000, 0, 5).OK())

		ch, err := b.SelectUplinkChannel(3, 0, false)
		assert.NoError(err)
		assert.Equal(3, ch)

		ch, err = b.SelectUplinkChannel(3, 0, true)
		assert.NoError(err)
		assert.Equal(0, ch)

		_, err = b.SelectUplinkChannel(0, 6, false)
		assert.Equal(ErrNoChannelAvailable, errors.Cause(err))
	})
}

func TestAS923Channels(t *testing.T) {
	t.Run("default channels", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, AS923, Options{})

		assert.Equal([]int{0, 1}, b.EnabledChannels())
		assert.Equal(ChannelStatus{}, b.SetChannel(1, 923600000, 0, 5))
	})

	t.Run("SetChannel", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, AS923, Options{})

		assert.Equal(ChannelStatus{FrequencyOK: true, DataRateOK: true}, b.SetChannel(2, 923600000, 0, 5))
		assert.Equal([]int{0, 1, 2}, b.EnabledChannels())
	})

	t.Run("ApplyCFList", func(t *testing.T) {
		assert := require.New(t)
		b := mustGetConfig(t, AS923, Options{})

		assert.NoError(b.ApplyCFList(lorawan.CFList{
			Type:        lorawan.CFListChannel,
			Frequencies: [5]uint32{923600000, 923800000, 924000000, 924200000, 924400000},
		}))
		assert.Equal(seq(0, 7), b.EnabledChannels())

		c, err := b.UplinkChannel(2)
		assert.NoError(err)
		assert.Equal(uint32(923600000), c.Frequency)

		c, err = b.UplinkChannel(6)
		assert.NoError(err)
		assert.Equal(uint32(924400000), c.Frequency)
	})
}

func TestClone(t *testing.T) {
	assert := require.New(t)
	a := mustGetConfig(t, EU868, Options{})
	b := a.Clone()

	assert.True(b.SetChannel(3, 867100000, 0, 5).OK())
	b.SetReceiveDelay1(3)

	assert.Equal([]int{0, 1, 2}, a.EnabledChannels())
	assert.Equal(time.Second, a.ReceiveDelay1())
	assert.Equal([]int{0, 1, 2, 3}, b.EnabledChannels())
}

func seq(from, to int) []int {
	var out []int
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func enabled(mask []bool) []int {
	var out []int
	for i, on := range mask {
		if on {
			out = append(out, i)
		}
	}
	return out
}
