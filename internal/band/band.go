// Package band implements the region specific channel plans of the
// end-device. The regulatory tables (data-rates, max. payload sizes, RX1
// data-rate offsets and default channels) are read from the LoRaWAN
// Regional Parameters implementation of the lorawan/band package, the
// mutable channel state (channel mask, server-added channels, RX window
// overrides) is owned by the Band.
package band

import (
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/config"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	lw "github.com/brocaar/lorawan"
	loraband "github.com/brocaar/lorawan/band"
)

// errors
var (
	ErrUnsupportedDataRate = errors.New("band: unsupported data-rate")
	ErrInvalidRX1DROffset  = errors.New("band: invalid rx1 data-rate offset")
	ErrInvalidChannel      = errors.New("band: invalid channel")
	ErrInvalidChannelMask  = errors.New("band: invalid channel-mask")
	ErrNoChannelAvailable  = errors.New("band: no channel available")
	ErrNotSupported        = errors.New("band: not supported by region")
	ErrUnknownBand         = errors.New("band: unknown band")
)

// Supported regions.
const (
	EU868 = string(loraband.EU868)
	US915 = string(loraband.US915)
	AU915 = string(loraband.AU915)
	AS923 = string(loraband.AS923)
	CN470 = string(loraband.CN470)
	EU433 = string(loraband.EU433)
	IN865 = string(loraband.IN865)
	KR920 = string(loraband.KR920)
)

// Defaults holds the protocol defaults of a region.
type Defaults struct {
	ReceiveDelay1    time.Duration
	ReceiveDelay2    time.Duration
	JoinAcceptDelay1 time.Duration
	JoinAcceptDelay2 time.Duration
	MaxFCntGap       uint32
	ADRACKLimit      int
	ADRACKDelay      int
	RX2Frequency     uint32
	RX2DataRate      int
}

// DataRate defines a LoRa data-rate.
type DataRate struct {
	SpreadFactor int
	// Bandwidth in kHz.
	Bandwidth int
}

// Channel defines an uplink channel.
type Channel struct {
	Frequency uint32
	// DownlinkFrequency overrides the RX1 frequency (DlChannelReq). When 0,
	// the uplink frequency (or the region RX1 mapping) is used.
	DownlinkFrequency uint32
	MinDR             int
	MaxDR             int
	Enabled           bool
	// Custom is set for channels that were added by the network.
	Custom bool
}

// RXParameters holds the frequency and data-rate of a receive window.
type RXParameters struct {
	Frequency uint32
	DataRate  int
}

// Options holds the band options.
type Options struct {
	// SubBand (1 - 8, 0 = disabled) biases uplink channel selection for
	// fixed channel-plan regions.
	SubBand int
	// JoinSubBand biases the join channel selection. When 0, SubBand is
	// used.
	JoinSubBand          int
	UplinkDwellTime400ms bool
	// RepeaterCompatible selects the (smaller) repeater compatible max.
	// payload sizes.
	RepeaterCompatible bool
}

// Band defines the device-side channel plan of a region.
type Band interface {
	// Name returns the region name.
	Name() string

	// Defaults returns the region defaults.
	Defaults() Defaults

	// FixedChannelPlan returns true for regions with a fixed channel plan.
	FixedChannelPlan() bool

	// GetDataRate returns the data-rate for the given index. Reserved and
	// non-LoRa data-rates return ErrUnsupportedDataRate.
	GetDataRate(dr int) (DataRate, error)

	// GetMaxPayloadSize returns the max. FRMPayload size (N) for the given
	// data-rate.
	GetMaxPayloadSize(dr int) (int, error)

	// GetTXPower returns the EIRP (dBm) for the given TXPower index.
	GetTXPower(index int) (int, error)

	// SetTXParams applies the TxParamSetupReq. It returns ErrNotSupported
	// for regions that do not implement the command.
	SetTXParams(uplinkDwellTime, downlinkDwellTime bool, maxEIRP int) error

	// ValidFrequency returns true when the given frequency is within the
	// frequency range of the region.
	ValidFrequency(freq uint32) bool

	// UplinkChannel returns the uplink channel for the given index.
	UplinkChannel(index int) (Channel, error)

	// EnabledChannels returns the indices of the enabled uplink channels.
	EnabledChannels() []int

	// SelectUplinkChannel selects the uplink channel for the given
	// data-rate using the given random value.
	SelectUplinkChannel(rnd uint32, dr int, join bool) (int, error)

	// RX1Parameters returns the RX1 window parameters given the uplink
	// channel and data-rate.
	RX1Parameters(channel, dr int) (RXParameters, error)

	// RX2Parameters returns the RX2 window parameters.
	RX2Parameters() RXParameters

	// ReceiveDelay1 returns the (current) RECEIVE_DELAY1.
	ReceiveDelay1() time.Duration

	// SetReceiveDelay1 sets the RECEIVE_DELAY1 (RXTimingSetupReq or
	// join-accept RxDelay). A value of 0 is interpreted as 1 second.
	SetReceiveDelay1(seconds uint8)

	// SetRXParameters validates and applies the RX1 data-rate offset and
	// RX2 parameters. The values are only applied when all three are
	// valid.
	SetRXParameters(rx1DROffset int, rx2Frequency uint32, rx2DR int) RXParamStatus

	// ChannelMask returns a copy of the current channel mask.
	ChannelMask() []bool

	// ApplyChannelMask applies a LinkADRReq channel-mask to the given mask
	// and returns the result. The band state is not changed.
	ApplyChannelMask(mask []bool, chMaskCntl uint8, chMask lorawan.ChMask) ([]bool, error)

	// SetChannelMask validates and sets the channel mask.
	SetChannelMask(mask []bool) error

	// SetChannel creates, modifies or (freq = 0) removes a channel
	// (NewChannelReq).
	SetChannel(index int, freq uint32, minDR, maxDR int) ChannelStatus

	// SetDownlinkFrequency sets the RX1 frequency of a channel
	// (DlChannelReq).
	SetDownlinkFrequency(index int, freq uint32) ChannelStatus

	// ApplyCFList applies the join-accept CFList.
	ApplyCFList(cfList lorawan.CFList) error

	// Clone returns a deep copy of the band.
	Clone() Band
}

// RXParamStatus holds the validation result of SetRXParameters.
type RXParamStatus struct {
	ChannelOK     bool
	RX2DataRateOK bool
	RX1DROffsetOK bool
}

// OK returns true when all parameters are valid.
func (s RXParamStatus) OK() bool {
	return s.ChannelOK && s.RX2DataRateOK && s.RX1DROffsetOK
}

// ChannelStatus holds the validation result of SetChannel and
// SetDownlinkFrequency.
type ChannelStatus struct {
	FrequencyOK bool
	// DataRateOK holds the data-rate range status (NewChannelReq) or the
	// uplink frequency exists status (DlChannelReq).
	DataRateOK bool
}

// OK returns true when both values are valid.
func (s ChannelStatus) OK() bool {
	return s.FrequencyOK && s.DataRateOK
}

var defaultBand Band

// Setup sets up the band template with the given configuration.
func Setup(c config.Config) error {
	b, err := GetConfig(c.Band.Name, Options{
		SubBand:              c.Band.SubBand,
		JoinSubBand:          c.Band.JoinSubBand,
		UplinkDwellTime400ms: c.Band.UplinkDwellTime400ms,
		RepeaterCompatible:   c.Band.RepeaterCompatible,
	})
	if err != nil {
		return errors.Wrap(err, "get band config error")
	}

	for _, ec := range c.Band.ExtraChannels {
		if s := b.SetChannel(ec.Index, ec.Frequency, ec.MinDR, ec.MaxDR); !s.OK() {
			return errors.Wrapf(ErrInvalidChannel, "extra channel %d", ec.Index)
		}
	}

	defaultBand = b
	return nil
}

// New returns a copy of the configured band template. Each device owns its
// own copy.
func New() Band {
	if defaultBand == nil {
		return nil
	}
	return defaultBand.Clone()
}

// GetConfig returns the band for the given region name.
func GetConfig(name string, opts Options) (Band, error) {
	dwellTime := lw.DwellTimeNoLimit
	if opts.UplinkDwellTime400ms {
		dwellTime = lw.DwellTime400ms
	}

	p, ok := regions[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownBand, name)
	}

	lb, err := loraband.GetConfig(loraband.Name(name), opts.RepeaterCompatible, dwellTime)
	if err != nil {
		return nil, errors.Wrap(err, "get lorawan band error")
	}

	r, err := newRegion(name, lb, p, opts.RepeaterCompatible)
	if err != nil {
		return nil, err
	}
	r.dwellTime = opts.UplinkDwellTime400ms

	if p.fixed {
		if opts.SubBand < 0 || opts.SubBand > p.subBands || opts.JoinSubBand < 0 || opts.JoinSubBand > p.subBands {
			return nil, errors.New("band: invalid sub-band")
		}
		return &fixedBand{
			region:      r,
			subBand:     opts.SubBand,
			joinSubBand: opts.JoinSubBand,
		}, nil
	}

	return &dynamicBand{region: r}, nil
}
