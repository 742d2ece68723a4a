package band

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// dynamicBand implements the dynamic channel-plan regions (EU868, EU433,
// AS923, IN865 and KR920). The region defines the default channels (two for
// AS923, three for the others), the network can add up to 16 channels in
// total.
type dynamicBand struct {
	*region
}

func (b *dynamicBand) FixedChannelPlan() bool {
	return false
}

func (b *dynamicBand) SelectUplinkChannel(rnd uint32, dr int, join bool) (int, error) {
	var filter func(i int) bool
	if join {
		filter = func(i int) bool {
			return !b.channels[i].Custom
		}
	}

	candidates := b.candidates(dr, filter)
	if len(candidates) == 0 {
		return 0, errors.Wrapf(ErrNoChannelAvailable, "dr: %d", dr)
	}
	return candidates[int(rnd%uint32(len(candidates)))], nil
}

func (b *dynamicBand) RX1Parameters(channel, dr int) (RXParameters, error) {
	c, err := b.UplinkChannel(channel)
	if err != nil {
		return RXParameters{}, err
	}

	rx1DR, err := b.rx1DataRate(dr)
	if err != nil {
		return RXParameters{}, err
	}

	freq := c.Frequency
	if c.DownlinkFrequency != 0 {
		freq = c.DownlinkFrequency
	}

	return RXParameters{
		Frequency: freq,
		DataRate:  rx1DR,
	}, nil
}

func (b *dynamicBand) ApplyChannelMask(mask []bool, chMaskCntl uint8, chMask lorawan.ChMask) ([]bool, error) {
	if len(mask) != len(b.channels) {
		return nil, errors.Wrap(ErrInvalidChannelMask, "mask length")
	}

	out := make([]bool, len(mask))
	copy(out, mask)

	switch chMaskCntl {
	case 0:
		for i, on := range chMask {
			if on && b.channels[i].Frequency == 0 {
				return nil, errors.Wrapf(ErrInvalidChannelMask, "channel %d is undefined", i)
			}
			out[i] = on
		}
	case 6:
		for i, c := range b.channels {
			out[i] = c.Frequency != 0
		}
	default:
		return nil, errors.Wrapf(ErrInvalidChannelMask, "chmaskcntl: %d", chMaskCntl)
	}

	return out, nil
}

func (b *dynamicBand) SetChannel(index int, freq uint32, minDR, maxDR int) ChannelStatus {
	if index < b.defaultChannels || index >= len(b.channels) {
		return ChannelStatus{}
	}

	if freq == 0 {
		b.channels[index] = Channel{}
		return ChannelStatus{FrequencyOK: true, DataRateOK: true}
	}

	s := ChannelStatus{
		FrequencyOK: b.ValidFrequency(freq),
	}
	if minDR <= maxDR {
		_, errMin := b.GetDataRate(minDR)
		_, errMax := b.GetDataRate(maxDR)
		s.DataRateOK = errMin == nil && errMax == nil
	}

	if s.OK() {
		b.channels[index] = Channel{
			Frequency: freq,
			MinDR:     minDR,
			MaxDR:     maxDR,
			Enabled:   true,
			Custom:    true,
		}
	}
	return s
}

func (b *dynamicBand) SetDownlinkFrequency(index int, freq uint32) ChannelStatus {
	s := ChannelStatus{
		FrequencyOK: b.ValidFrequency(freq),
	}
	if index >= 0 && index < len(b.channels) && b.channels[index].Frequency != 0 {
		s.DataRateOK = true
	}

	if s.OK() {
		b.channels[index].DownlinkFrequency = freq
	}
	return s
}

func (b *dynamicBand) ApplyCFList(cfList lorawan.CFList) error {
	if cfList.Type != lorawan.CFListChannel {
		return errors.Wrap(ErrNotSupported, "cflist type")
	}

	minDR, maxDR := b.channels[0].MinDR, b.channels[0].MaxDR
	for i, f := range cfList.Frequencies {
		if s := b.SetChannel(b.defaultChannels+i, f, minDR, maxDR); !s.OK() {
			return errors.Wrapf(ErrInvalidChannel, "cflist frequency %d", f)
		}
	}
	return nil
}

func (b *dynamicBand) Clone() Band {
	return &dynamicBand{region: b.region.clone()}
}
