package band

import (
	"time"

	"github.com/pkg/errors"

	lw "github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// protocol defaults shared by all regions
const (
	receiveDelay1 = time.Second
	receiveDelay2 = 2 * time.Second
	maxFCntGap    = 16384
	adrACKLimit   = 64
	adrACKDelay   = 32
)

// maxEIRPTable maps the TxParamSetupReq MaxEIRP field to dBm.
var maxEIRPTable = [16]int{8, 10, 12, 13, 14, 16, 18, 20, 21, 24, 26, 27, 29, 30, 33, 36}

type regionParams struct {
	fixed        bool
	minFrequency uint32
	maxFrequency uint32
	maxEIRP      int
	txPowers     int
	subBands     int
	txParamSetup bool
}

var regions = map[string]regionParams{
	EU868: {minFrequency: 863000000, maxFrequency: 870000000, maxEIRP: 16, txPowers: 8},
	US915: {fixed: true, minFrequency: 902000000, maxFrequency: 928000000, maxEIRP: 30, txPowers: 15, subBands: 8},
	AU915: {fixed: true, minFrequency: 915000000, maxFrequency: 928000000, maxEIRP: 30, txPowers: 15, subBands: 8, txParamSetup: true},
	AS923: {minFrequency: 915000000, maxFrequency: 928000000, maxEIRP: 16, txPowers: 8, txParamSetup: true},
	CN470: {fixed: true, minFrequency: 470000000, maxFrequency: 510000000, maxEIRP: 19, txPowers: 8, subBands: 12},
	EU433: {minFrequency: 433175000, maxFrequency: 434665000, maxEIRP: 12, txPowers: 6},
	IN865: {minFrequency: 865000000, maxFrequency: 867000000, maxEIRP: 30, txPowers: 11},
	KR920: {minFrequency: 920900000, maxFrequency: 923300000, maxEIRP: 14, txPowers: 8},
}

// dynamicChannels defines the max. number of channels of dynamic
// channel-plan regions.
const dynamicChannels = 16

// The max. payload sizes are those of LoRaWAN 1.0.2 (regional parameters
// revision B), the MAC version implemented by the end-device.
const (
	macVersion        = loraband.LoRaWAN_1_0_2
	regParamsRevision = loraband.RegParamRevB
)

// region implements the state and table lookups shared by the fixed and
// dynamic channel-plan implementations.
type region struct {
	name     string
	params   regionParams
	lb       loraband.Band
	defaults Defaults

	// defaultChannels holds the number of channels defined by the region,
	// these can not be modified by NewChannelReq or the CFList.
	defaultChannels    int
	repeaterCompatible bool

	channels      []Channel
	rx1DROffset   int
	rx2           RXParameters
	receiveDelay1 time.Duration
	maxEIRP       int
	dwellTime     bool
}

func newRegion(name string, lb loraband.Band, p regionParams, repeaterCompatible bool) (*region, error) {
	lbDefaults := lb.GetDefaults()

	r := region{
		name:   name,
		params: p,
		lb:     lb,
		defaults: Defaults{
			ReceiveDelay1:    receiveDelay1,
			ReceiveDelay2:    receiveDelay2,
			JoinAcceptDelay1: lbDefaults.JoinAcceptDelay1,
			JoinAcceptDelay2: lbDefaults.JoinAcceptDelay2,
			MaxFCntGap:       maxFCntGap,
			ADRACKLimit:      adrACKLimit,
			ADRACKDelay:      adrACKDelay,
			RX2Frequency:     uint32(lbDefaults.RX2Frequency),
			RX2DataRate:      lbDefaults.RX2DataRate,
		},
		receiveDelay1:      receiveDelay1,
		maxEIRP:            p.maxEIRP,
		repeaterCompatible: repeaterCompatible,
	}
	r.rx2 = RXParameters{
		Frequency: r.defaults.RX2Frequency,
		DataRate:  r.defaults.RX2DataRate,
	}

	indices := lb.GetStandardUplinkChannelIndices()
	r.defaultChannels = len(indices)
	n := len(indices)
	if !p.fixed {
		n = dynamicChannels
	}
	r.channels = make([]Channel, n)

	for _, i := range indices {
		c, err := lb.GetUplinkChannel(i)
		if err != nil {
			return nil, errors.Wrap(err, "get uplink channel error")
		}
		if i >= len(r.channels) {
			return nil, errors.Wrapf(ErrInvalidChannel, "default channel %d", i)
		}
		r.channels[i] = Channel{
			Frequency: uint32(c.Frequency),
			MinDR:     c.MinDR,
			MaxDR:     c.MaxDR,
			Enabled:   true,
		}
	}

	return &r, nil
}

func (r *region) clone() *region {
	out := *r
	out.channels = make([]Channel, len(r.channels))
	copy(out.channels, r.channels)
	return &out
}

func (r *region) Name() string {
	return r.name
}

func (r *region) Defaults() Defaults {
	return r.defaults
}

func (r *region) GetDataRate(dr int) (DataRate, error) {
	d, err := r.lb.GetDataRate(dr)
	if err != nil {
		return DataRate{}, errors.Wrapf(ErrUnsupportedDataRate, "dr: %d", dr)
	}
	if d.Modulation != loraband.LoRaModulation {
		return DataRate{}, errors.Wrapf(ErrUnsupportedDataRate, "dr: %d, modulation: %s", dr, d.Modulation)
	}
	return DataRate{
		SpreadFactor: d.SpreadFactor,
		Bandwidth:    d.Bandwidth,
	}, nil
}

func (r *region) GetMaxPayloadSize(dr int) (int, error) {
	if _, err := r.GetDataRate(dr); err != nil {
		return 0, err
	}
	ps, err := r.lb.GetMaxPayloadSizeForDataRateIndex(macVersion, regParamsRevision, dr)
	if err != nil {
		return 0, errors.Wrapf(ErrUnsupportedDataRate, "dr: %d", dr)
	}
	return ps.N, nil
}

func (r *region) GetTXPower(index int) (int, error) {
	if index < 0 || index >= r.params.txPowers {
		return 0, errors.Errorf("band: invalid tx-power index: %d", index)
	}
	return r.maxEIRP - 2*index, nil
}

func (r *region) SetTXParams(uplinkDwellTime, downlinkDwellTime bool, maxEIRP int) error {
	if !r.params.txParamSetup {
		return ErrNotSupported
	}
	if maxEIRP < 0 || maxEIRP >= len(maxEIRPTable) {
		return errors.Errorf("band: invalid max eirp: %d", maxEIRP)
	}

	if uplinkDwellTime != r.dwellTime {
		dwellTime := lw.DwellTimeNoLimit
		if uplinkDwellTime {
			dwellTime = lw.DwellTime400ms
		}
		lb, err := loraband.GetConfig(loraband.Name(r.name), r.repeaterCompatible, dwellTime)
		if err != nil {
			return errors.Wrap(err, "get lorawan band error")
		}
		r.lb = lb
		r.dwellTime = uplinkDwellTime
	}

	r.maxEIRP = maxEIRPTable[maxEIRP]
	return nil
}

func (r *region) UplinkChannel(index int) (Channel, error) {
	if index < 0 || index >= len(r.channels) || r.channels[index].Frequency == 0 {
		return Channel{}, errors.Wrapf(ErrInvalidChannel, "channel: %d", index)
	}
	return r.channels[index], nil
}

func (r *region) EnabledChannels() []int {
	var out []int
	for i, c := range r.channels {
		if c.Enabled && c.Frequency != 0 {
			out = append(out, i)
		}
	}
	return out
}

func (r *region) RX2Parameters() RXParameters {
	return r.rx2
}

func (r *region) ReceiveDelay1() time.Duration {
	return r.receiveDelay1
}

func (r *region) SetReceiveDelay1(seconds uint8) {
	if seconds == 0 {
		seconds = 1
	}
	r.receiveDelay1 = time.Duration(seconds&0x0f) * time.Second
}

func (r *region) SetRXParameters(rx1DROffset int, rx2Frequency uint32, rx2DR int) RXParamStatus {
	var s RXParamStatus
	s.ChannelOK = r.ValidFrequency(rx2Frequency)
	if _, err := r.GetDataRate(rx2DR); err == nil {
		s.RX2DataRateOK = true
	}
	if _, err := r.lb.GetRX1DataRateIndex(0, rx1DROffset); err == nil && rx1DROffset >= 0 {
		s.RX1DROffsetOK = true
	}

	if s.OK() {
		r.rx1DROffset = rx1DROffset
		r.rx2 = RXParameters{
			Frequency: rx2Frequency,
			DataRate:  rx2DR,
		}
	}
	return s
}

func (r *region) ChannelMask() []bool {
	out := make([]bool, len(r.channels))
	for i, c := range r.channels {
		out[i] = c.Enabled && c.Frequency != 0
	}
	return out
}

func (r *region) SetChannelMask(mask []bool) error {
	if len(mask) != len(r.channels) {
		return errors.Wrap(ErrInvalidChannelMask, "mask length")
	}

	var enabled int
	for i, on := range mask {
		if !on {
			continue
		}
		if r.channels[i].Frequency == 0 {
			return errors.Wrapf(ErrInvalidChannelMask, "channel %d is undefined", i)
		}
		enabled++
	}
	if enabled == 0 {
		return errors.Wrap(ErrInvalidChannelMask, "all channels disabled")
	}

	for i := range r.channels {
		r.channels[i].Enabled = mask[i]
	}
	return nil
}

// rx1DataRate returns the RX1 data-rate for the given uplink data-rate
// using the current RX1 data-rate offset.
func (r *region) rx1DataRate(dr int) (int, error) {
	rx1DR, err := r.lb.GetRX1DataRateIndex(dr, r.rx1DROffset)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidRX1DROffset, "dr: %d, offset: %d", dr, r.rx1DROffset)
	}
	return rx1DR, nil
}

func (r *region) ValidFrequency(f uint32) bool {
	return f >= r.params.minFrequency && f <= r.params.maxFrequency
}

// candidates returns the enabled channels supporting the given data-rate.
func (r *region) candidates(dr int, filter func(i int) bool) []int {
	var out []int
	for i, c := range r.channels {
		if !c.Enabled || c.Frequency == 0 || dr < c.MinDR || dr > c.MaxDR {
			continue
		}
		if filter != nil && !filter(i) {
			continue
		}
		out = append(out, i)
	}
	return out
}
