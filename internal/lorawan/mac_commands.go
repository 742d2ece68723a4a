package lorawan

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// CID defines the command identifier.
type CID byte

// MAC commands as specified by the LoRaWAN 1.0.x specification. Each *Req
// and *Ans pair shares the same value, the direction determines which one
// is meant.
const (
	LinkCheckReq     CID = 0x02
	LinkCheckAns     CID = 0x02
	LinkADRReq       CID = 0x03
	LinkADRAns       CID = 0x03
	DutyCycleReq     CID = 0x04
	DutyCycleAns     CID = 0x04
	RXParamSetupReq  CID = 0x05
	RXParamSetupAns  CID = 0x05
	DevStatusReq     CID = 0x06
	DevStatusAns     CID = 0x06
	NewChannelReq    CID = 0x07
	NewChannelAns    CID = 0x07
	RXTimingSetupReq CID = 0x08
	RXTimingSetupAns CID = 0x08
	TxParamSetupReq  CID = 0x09
	TxParamSetupAns  CID = 0x09
	DlChannelReq     CID = 0x0a
	DlChannelAns     CID = 0x0a
	DeviceTimeReq    CID = 0x0d
	DeviceTimeAns    CID = 0x0d
)

// Payload is the interface that every command payload must implement.
type Payload interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// MACCommand represents a command with optional payload. The same type is
// used for the MAC commands and the application-layer package commands.
type MACCommand struct {
	CID     CID
	Payload Payload
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m MACCommand) MarshalBinary() ([]byte, error) {
	b := []byte{byte(m.CID)}
	if m.Payload != nil {
		p, err := m.Payload.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = append(b, p...)
	}
	return b, nil
}

// Size returns the encoded size of the command.
func (m MACCommand) Size() (int, error) {
	b, err := m.MarshalBinary()
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// EncodeMACCommands encodes the given commands. It returns
// ErrMACCommandCapacity when the encoded size exceeds max.
func EncodeMACCommands(cmds []MACCommand, max int) ([]byte, error) {
	var out []byte
	for _, cmd := range cmds {
		b, err := cmd.MarshalBinary()
		if err != nil {
			return nil, errors.Wrap(err, "marshal mac-command error")
		}
		out = append(out, b...)
	}
	if len(out) > max {
		return nil, ErrMACCommandCapacity
	}
	return out, nil
}

func marshalFrequency(freq uint32) ([]byte, error) {
	if freq/100 >= 1<<24 {
		return nil, errors.New("lorawan: max value of frequency is 2^24-1")
	}
	if freq%100 != 0 {
		return nil, errors.New("lorawan: frequency must be a multiple of 100")
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, freq/100)
	return b[0:3], nil
}

func unmarshalFrequency(b []byte) uint32 {
	buf := make([]byte, 4)
	copy(buf, b[0:3])
	return binary.LittleEndian.Uint32(buf) * 100
}

func expectLen(data []byte, n int) error {
	if len(data) != n {
		return fmt.Errorf("lorawan: %d bytes of data are expected", n)
	}
	return nil
}

// LinkCheckAnsPayload represents the LinkCheckAns payload.
type LinkCheckAnsPayload struct {
	Margin uint8
	GwCnt  uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p LinkCheckAnsPayload) MarshalBinary() ([]byte, error) {
	return []byte{p.Margin, p.GwCnt}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *LinkCheckAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 2); err != nil {
		return err
	}
	p.Margin = data[0]
	p.GwCnt = data[1]
	return nil
}

// ChMask encodes the channels usable for uplink access. 0 = channel 1,
// 15 = channel 16.
type ChMask [16]bool

// MarshalBinary implements encoding.BinaryMarshaler.
func (m ChMask) MarshalBinary() ([]byte, error) {
	var v uint16
	for i, set := range m {
		if set {
			v |= 1 << uint(i)
		}
	}
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ChMask) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 2); err != nil {
		return err
	}
	v := binary.LittleEndian.Uint16(data)
	for i := range m {
		m[i] = v&(1<<uint(i)) != 0
	}
	return nil
}

// Redundancy represents the redundancy field of the LinkADRReq.
type Redundancy struct {
	ChMaskCntl uint8
	NbRep      uint8
}

// LinkADRReqPayload represents the LinkADRReq payload.
type LinkADRReqPayload struct {
	DataRate   uint8
	TXPower    uint8
	ChMask     ChMask
	Redundancy Redundancy
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p LinkADRReqPayload) MarshalBinary() ([]byte, error) {
	if p.DataRate > 15 || p.TXPower > 15 {
		return nil, errors.New("lorawan: max value of DataRate and TXPower is 15")
	}
	if p.Redundancy.ChMaskCntl > 7 || p.Redundancy.NbRep > 15 {
		return nil, errors.New("lorawan: invalid redundancy field")
	}
	b := []byte{p.DataRate<<4 | p.TXPower}
	m, err := p.ChMask.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b = append(b, m...)
	return append(b, p.Redundancy.ChMaskCntl<<4|p.Redundancy.NbRep), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *LinkADRReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 4); err != nil {
		return err
	}
	p.DataRate = data[0] >> 4
	p.TXPower = data[0] & 0x0f
	if err := p.ChMask.UnmarshalBinary(data[1:3]); err != nil {
		return err
	}
	p.Redundancy.ChMaskCntl = (data[3] >> 4) & 0x07
	p.Redundancy.NbRep = data[3] & 0x0f
	return nil
}

// LinkADRAnsPayload represents the LinkADRAns payload.
type LinkADRAnsPayload struct {
	ChannelMaskACK bool
	DataRateACK    bool
	PowerACK       bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p LinkADRAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelMaskACK {
		b |= 0x01
	}
	if p.DataRateACK {
		b |= 0x02
	}
	if p.PowerACK {
		b |= 0x04
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *LinkADRAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.ChannelMaskACK = data[0]&0x01 != 0
	p.DataRateACK = data[0]&0x02 != 0
	p.PowerACK = data[0]&0x04 != 0
	return nil
}

// DutyCycleReqPayload represents the DutyCycleReq payload.
type DutyCycleReqPayload struct {
	MaxDCycle uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p DutyCycleReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxDCycle > 15 {
		return nil, errors.New("lorawan: max value of MaxDCycle is 15")
	}
	return []byte{p.MaxDCycle}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *DutyCycleReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.MaxDCycle = data[0] & 0x0f
	return nil
}

// RXParamSetupReqPayload represents the RXParamSetupReq payload.
type RXParamSetupReqPayload struct {
	Frequency  uint32
	DLSettings DLSettings
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p RXParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	b, err := p.DLSettings.MarshalBinary()
	if err != nil {
		return nil, err
	}
	f, err := marshalFrequency(p.Frequency)
	if err != nil {
		return nil, err
	}
	return append(b, f...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *RXParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 4); err != nil {
		return err
	}
	if err := p.DLSettings.UnmarshalBinary(data[0:1]); err != nil {
		return err
	}
	p.Frequency = unmarshalFrequency(data[1:4])
	return nil
}

// RXParamSetupAnsPayload represents the RXParamSetupAns payload.
type RXParamSetupAnsPayload struct {
	ChannelACK     bool
	RX2DataRateACK bool
	RX1DROffsetACK bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p RXParamSetupAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelACK {
		b |= 0x01
	}
	if p.RX2DataRateACK {
		b |= 0x02
	}
	if p.RX1DROffsetACK {
		b |= 0x04
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *RXParamSetupAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.ChannelACK = data[0]&0x01 != 0
	p.RX2DataRateACK = data[0]&0x02 != 0
	p.RX1DROffsetACK = data[0]&0x04 != 0
	return nil
}

// DevStatusAnsPayload represents the DevStatusAns payload.
type DevStatusAnsPayload struct {
	// Battery: 0 = external power source, 1..254 = battery level,
	// 255 = not able to measure.
	Battery uint8
	// Margin holds the demodulation SNR of the last DevStatusReq in dB,
	// in the range -32..31.
	Margin int8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p DevStatusAnsPayload) MarshalBinary() ([]byte, error) {
	if p.Margin < -32 || p.Margin > 31 {
		return nil, errors.New("lorawan: Margin must be in range -32...31")
	}
	return []byte{p.Battery, byte(p.Margin) & 0x3f}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *DevStatusAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 2); err != nil {
		return err
	}
	p.Battery = data[0]
	m := data[1] & 0x3f
	if m&0x20 != 0 {
		m |= 0xc0
	}
	p.Margin = int8(m)
	return nil
}

// NewChannelReqPayload represents the NewChannelReq payload.
type NewChannelReqPayload struct {
	ChIndex uint8
	Freq    uint32
	MaxDR   uint8
	MinDR   uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p NewChannelReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxDR > 15 || p.MinDR > 15 {
		return nil, errors.New("lorawan: max value of MaxDR and MinDR is 15")
	}
	f, err := marshalFrequency(p.Freq)
	if err != nil {
		return nil, err
	}
	b := []byte{p.ChIndex}
	b = append(b, f...)
	return append(b, p.MaxDR<<4|p.MinDR), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *NewChannelReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 5); err != nil {
		return err
	}
	p.ChIndex = data[0]
	p.Freq = unmarshalFrequency(data[1:4])
	p.MaxDR = data[4] >> 4
	p.MinDR = data[4] & 0x0f
	return nil
}

// NewChannelAnsPayload represents the NewChannelAns payload.
type NewChannelAnsPayload struct {
	ChannelFrequencyOK bool
	DataRateRangeOK    bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p NewChannelAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelFrequencyOK {
		b |= 0x01
	}
	if p.DataRateRangeOK {
		b |= 0x02
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *NewChannelAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.ChannelFrequencyOK = data[0]&0x01 != 0
	p.DataRateRangeOK = data[0]&0x02 != 0
	return nil
}

// RXTimingSetupReqPayload represents the RXTimingSetupReq payload.
type RXTimingSetupReqPayload struct {
	// Delay in seconds, 0 is interpreted as 1 second.
	Delay uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p RXTimingSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.Delay > 15 {
		return nil, errors.New("lorawan: max value of Delay is 15")
	}
	return []byte{p.Delay}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *RXTimingSetupReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.Delay = data[0] & 0x0f
	return nil
}

// TXParamSetupReqPayload represents the TxParamSetupReq payload.
type TXParamSetupReqPayload struct {
	DownlinkDwellTime bool
	UplinkDwellTime   bool
	MaxEIRP           uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p TXParamSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.MaxEIRP > 15 {
		return nil, errors.New("lorawan: max value of MaxEIRP is 15")
	}
	b := p.MaxEIRP
	if p.DownlinkDwellTime {
		b |= 0x20
	}
	if p.UplinkDwellTime {
		b |= 0x10
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *TXParamSetupReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.DownlinkDwellTime = data[0]&0x20 != 0
	p.UplinkDwellTime = data[0]&0x10 != 0
	p.MaxEIRP = data[0] & 0x0f
	return nil
}

// DlChannelReqPayload represents the DlChannelReq payload.
type DlChannelReqPayload struct {
	ChIndex uint8
	Freq    uint32
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p DlChannelReqPayload) MarshalBinary() ([]byte, error) {
	f, err := marshalFrequency(p.Freq)
	if err != nil {
		return nil, err
	}
	return append([]byte{p.ChIndex}, f...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *DlChannelReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 4); err != nil {
		return err
	}
	p.ChIndex = data[0]
	p.Freq = unmarshalFrequency(data[1:4])
	return nil
}

// DlChannelAnsPayload represents the DlChannelAns payload.
type DlChannelAnsPayload struct {
	ChannelFrequencyOK    bool
	UplinkFrequencyExists bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p DlChannelAnsPayload) MarshalBinary() ([]byte, error) {
	var b byte
	if p.ChannelFrequencyOK {
		b |= 0x01
	}
	if p.UplinkFrequencyExists {
		b |= 0x02
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *DlChannelAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.ChannelFrequencyOK = data[0]&0x01 != 0
	p.UplinkFrequencyExists = data[0]&0x02 != 0
	return nil
}

// DeviceTimeAnsPayload represents the DeviceTimeAns payload.
type DeviceTimeAnsPayload struct {
	// TimeSinceGPSEpoch with a resolution of 1/256 second.
	TimeSinceGPSEpoch time.Duration
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p DeviceTimeAnsPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, 5)
	secs := p.TimeSinceGPSEpoch / time.Second
	binary.LittleEndian.PutUint32(b, uint32(secs))
	b[4] = byte((p.TimeSinceGPSEpoch - secs*time.Second) * 256 / time.Second)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *DeviceTimeAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 5); err != nil {
		return err
	}
	secs := time.Duration(binary.LittleEndian.Uint32(data[0:4])) * time.Second
	p.TimeSinceGPSEpoch = secs + time.Duration(data[4])*time.Second/256
	return nil
}

// MACCommandSet holds the MAC commands received by the end-device.
var MACCommandSet = CommandSet{
	name: "mac",
	cmds: map[CID]commandSpec{
		LinkCheckAns:     {size: 2, payload: func() Payload { return &LinkCheckAnsPayload{} }},
		LinkADRReq:       {size: 4, payload: func() Payload { return &LinkADRReqPayload{} }},
		DutyCycleReq:     {size: 1, payload: func() Payload { return &DutyCycleReqPayload{} }},
		RXParamSetupReq:  {size: 4, payload: func() Payload { return &RXParamSetupReqPayload{} }},
		DevStatusReq:     {size: 0},
		NewChannelReq:    {size: 5, payload: func() Payload { return &NewChannelReqPayload{} }},
		RXTimingSetupReq: {size: 1, payload: func() Payload { return &RXTimingSetupReqPayload{} }},
		TxParamSetupReq:  {size: 1, payload: func() Payload { return &TXParamSetupReqPayload{} }},
		DlChannelReq:     {size: 4, payload: func() Payload { return &DlChannelReqPayload{} }},
		DeviceTimeAns:    {size: 5, payload: func() Payload { return &DeviceTimeAnsPayload{} }},
	},
}

// MACAnswerSet holds the MAC commands sent by the end-device.
var MACAnswerSet = CommandSet{
	name: "mac-answer",
	cmds: map[CID]commandSpec{
		LinkCheckReq:     {size: 0},
		LinkADRAns:       {size: 1, payload: func() Payload { return &LinkADRAnsPayload{} }},
		DutyCycleAns:     {size: 0},
		RXParamSetupAns:  {size: 1, payload: func() Payload { return &RXParamSetupAnsPayload{} }},
		DevStatusAns:     {size: 2, payload: func() Payload { return &DevStatusAnsPayload{} }},
		NewChannelAns:    {size: 1, payload: func() Payload { return &NewChannelAnsPayload{} }},
		RXTimingSetupAns: {size: 0},
		TxParamSetupAns:  {size: 0},
		DlChannelAns:     {size: 1, payload: func() Payload { return &DlChannelAnsPayload{} }},
		DeviceTimeReq:    {size: 0},
	},
}
