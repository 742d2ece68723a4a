package band

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// fixedBand implements the fixed channel-plan regions (US915, AU915 and
// CN470). All channels are defined by the region, the network can only
// enable or disable them.
type fixedBand struct {
	*region
	subBand     int
	joinSubBand int
}

func (b *fixedBand) FixedChannelPlan() bool {
	return true
}

// hasWideChannels returns true for the 64 + 8 channel plans (US915, AU915).
func (b *fixedBand) hasWideChannels() bool {
	return len(b.channels) == 72
}

func (b *fixedBand) SelectUplinkChannel(rnd uint32, dr int, join bool) (int, error) {
	sb := b.subBand
	if join && b.joinSubBand != 0 {
		sb = b.joinSubBand
	}

	var candidates []int
	if sb != 0 {
		candidates = b.candidates(dr, func(i int) bool {
			if i >= (sb-1)*8 && i < sb*8 {
				return true
			}
			return b.hasWideChannels() && i == 64+sb-1
		})
	}
	if len(candidates) == 0 {
		candidates = b.candidates(dr, nil)
	}
	if len(candidates) == 0 {
		return 0, errors.Wrapf(ErrNoChannelAvailable, "dr: %d", dr)
	}

	return candidates[int(rnd%uint32(len(candidates)))], nil
}

func (b *fixedBand) RX1Parameters(channel, dr int) (RXParameters, error) {
	c, err := b.UplinkChannel(channel)
	if err != nil {
		return RXParameters{}, err
	}

	rx1DR, err := b.rx1DataRate(dr)
	if err != nil {
		return RXParameters{}, err
	}

	freq, err := b.lb.GetRX1FrequencyForUplinkFrequency(c.Frequency)
	if err != nil {
		return RXParameters{}, errors.Wrap(err, "get rx1 frequency error")
	}

	return RXParameters{
		Frequency: freq,
		DataRate:  rx1DR,
	}, nil
}

func (b *fixedBand) ApplyChannelMask(mask []bool, chMaskCntl uint8, chMask lorawan.ChMask) ([]bool, error) {
	if len(mask) != len(b.channels) {
		return nil, errors.Wrap(ErrInvalidChannelMask, "mask length")
	}

	out := make([]bool, len(mask))
	copy(out, mask)

	blocks := (len(out) + 15) / 16
	cntl := int(chMaskCntl)

	switch {
	case cntl < blocks:
		for i := 0; i < 16; i++ {
			ch := cntl*16 + i
			if ch >= len(out) {
				if chMask[i] {
					return nil, errors.Wrapf(ErrInvalidChannelMask, "channel %d is undefined", ch)
				}
				continue
			}
			out[ch] = chMask[i]
		}
	case cntl == 6 && b.hasWideChannels():
		for i := 0; i < 64; i++ {
			out[i] = true
		}
		for i := 0; i < 8; i++ {
			out[64+i] = chMask[i]
		}
	case cntl == 7 && b.hasWideChannels():
		for i := 0; i < 64; i++ {
			out[i] = false
		}
		for i := 0; i < 8; i++ {
			out[64+i] = chMask[i]
		}
	case cntl == 6:
		for i := range out {
			out[i] = true
		}
	default:
		return nil, errors.Wrapf(ErrInvalidChannelMask, "chmaskcntl: %d", cntl)
	}

	return out, nil
}

func (b *fixedBand) SetChannel(index int, freq uint32, minDR, maxDR int) ChannelStatus {
	return ChannelStatus{}
}

func (b *fixedBand) SetDownlinkFrequency(index int, freq uint32) ChannelStatus {
	return ChannelStatus{}
}

func (b *fixedBand) ApplyCFList(cfList lorawan.CFList) error {
	if cfList.Type != lorawan.CFListChannelMask {
		return errors.Wrap(ErrNotSupported, "cflist type")
	}

	mask := make([]bool, len(b.channels))
	for block, m := range cfList.ChMasks {
		for i, on := range m {
			ch := block*16 + i
			if ch < len(mask) {
				mask[ch] = on
			}
		}
	}
	return b.SetChannelMask(mask)
}

func (b *fixedBand) Clone() Band {
	out := *b
	out.region = b.region.clone()
	return &out
}
