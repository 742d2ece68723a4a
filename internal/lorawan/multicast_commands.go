package lorawan

import (
	"encoding/binary"
	"math/bits"

	"github.com/pkg/errors"
)

// MulticastFPort defines the FPort of the remote multicast setup package.
const MulticastFPort = 200

// Remote multicast setup package commands.
const (
	McPackageVersionReq CID = 0x00
	McPackageVersionAns CID = 0x00
	McGroupStatusReq    CID = 0x01
	McGroupStatusAns    CID = 0x01
	McGroupSetupReq     CID = 0x02
	McGroupSetupAns     CID = 0x02
	McGroupDeleteReq    CID = 0x03
	McGroupDeleteAns    CID = 0x03
	McClassCSessionReq  CID = 0x04
	McClassCSessionAns  CID = 0x04
)

// Remote multicast setup package identifier and version.
const (
	McPackageIdentifier = 2
	McPackageVersion    = 1
)

// PackageVersionAnsPayload represents the PackageVersionAns payload of an
// application-layer package.
type PackageVersionAnsPayload struct {
	PackageIdentifier uint8
	PackageVersion    uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PackageVersionAnsPayload) MarshalBinary() ([]byte, error) {
	return []byte{p.PackageIdentifier, p.PackageVersion}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PackageVersionAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 2); err != nil {
		return err
	}
	p.PackageIdentifier = data[0]
	p.PackageVersion = data[1]
	return nil
}

// McGroupStatusReqPayload represents the McGroupStatusReq payload.
type McGroupStatusReqPayload struct {
	// ReqGroupMask holds the groups (bit 0 = group 0) for which the status
	// is requested.
	ReqGroupMask uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p McGroupStatusReqPayload) MarshalBinary() ([]byte, error) {
	return []byte{p.ReqGroupMask & 0x0f}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *McGroupStatusReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.ReqGroupMask = data[0] & 0x0f
	return nil
}

// McGroupStatusItem holds the status of a single multicast group.
type McGroupStatusItem struct {
	McGroupID uint8
	McAddr    DevAddr
}

// McGroupStatusAnsPayload represents the McGroupStatusAns payload.
type McGroupStatusAnsPayload struct {
	NbTotalGroups uint8
	AnsGroupMask  uint8
	Items         []McGroupStatusItem
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p McGroupStatusAnsPayload) MarshalBinary() ([]byte, error) {
	if p.NbTotalGroups > 7 {
		return nil, errors.New("lorawan: max value of NbTotalGroups is 7")
	}
	if bits.OnesCount8(p.AnsGroupMask&0x0f) != len(p.Items) {
		return nil, errors.New("lorawan: AnsGroupMask does not match the number of items")
	}

	out := []byte{p.NbTotalGroups<<4 | p.AnsGroupMask&0x0f}
	for _, item := range p.Items {
		b, err := item.McAddr.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, item.McGroupID)
		out = append(out, b...)
	}
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *McGroupStatusAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return ErrBufferTooShort
	}
	p.NbTotalGroups = (data[0] >> 4) & 0x07
	p.AnsGroupMask = data[0] & 0x0f

	n := bits.OnesCount8(p.AnsGroupMask)
	if err := expectLen(data, 1+n*5); err != nil {
		return err
	}

	p.Items = make([]McGroupStatusItem, n)
	for i := range p.Items {
		b := data[1+i*5:]
		p.Items[i].McGroupID = b[0]
		if err := p.Items[i].McAddr.UnmarshalBinary(b[1:5]); err != nil {
			return err
		}
	}
	return nil
}

// McGroupSetupReqPayload represents the McGroupSetupReq payload.
type McGroupSetupReqPayload struct {
	McGroupID uint8
	McAddr    DevAddr
	// McKeyEncrypted holds the McKey, encrypted with the McKEKey.
	McKeyEncrypted AES128Key
	MinMcFCnt      uint32
	MaxMcFCnt      uint32
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p McGroupSetupReqPayload) MarshalBinary() ([]byte, error) {
	if p.McGroupID > 3 {
		return nil, errors.New("lorawan: max value of McGroupID is 3")
	}
	out := make([]byte, 29)
	out[0] = p.McGroupID
	b, err := p.McAddr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	copy(out[1:5], b)
	copy(out[5:21], p.McKeyEncrypted[:])
	binary.LittleEndian.PutUint32(out[21:25], p.MinMcFCnt)
	binary.LittleEndian.PutUint32(out[25:29], p.MaxMcFCnt)
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *McGroupSetupReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 29); err != nil {
		return err
	}
	p.McGroupID = data[0] & 0x03
	if err := p.McAddr.UnmarshalBinary(data[1:5]); err != nil {
		return err
	}
	copy(p.McKeyEncrypted[:], data[5:21])
	p.MinMcFCnt = binary.LittleEndian.Uint32(data[21:25])
	p.MaxMcFCnt = binary.LittleEndian.Uint32(data[25:29])
	return nil
}

// McGroupSetupAnsPayload represents the McGroupSetupAns payload.
type McGroupSetupAnsPayload struct {
	IDError   bool
	McGroupID uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p McGroupSetupAnsPayload) MarshalBinary() ([]byte, error) {
	b := p.McGroupID & 0x03
	if p.IDError {
		b |= 0x04
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *McGroupSetupAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.IDError = data[0]&0x04 != 0
	p.McGroupID = data[0] & 0x03
	return nil
}

// McGroupDeleteReqPayload represents the McGroupDeleteReq payload.
type McGroupDeleteReqPayload struct {
	McGroupID uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p McGroupDeleteReqPayload) MarshalBinary() ([]byte, error) {
	return []byte{p.McGroupID & 0x03}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *McGroupDeleteReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.McGroupID = data[0] & 0x03
	return nil
}

// McGroupDeleteAnsPayload represents the McGroupDeleteAns payload.
type McGroupDeleteAnsPayload struct {
	McGroupUndefined bool
	McGroupID        uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p McGroupDeleteAnsPayload) MarshalBinary() ([]byte, error) {
	b := p.McGroupID & 0x03
	if p.McGroupUndefined {
		b |= 0x04
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *McGroupDeleteAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.McGroupUndefined = data[0]&0x04 != 0
	p.McGroupID = data[0] & 0x03
	return nil
}

// McClassCSessionReqPayload represents the McClassCSessionReq payload.
type McClassCSessionReqPayload struct {
	McGroupID uint8
	// SessionTime holds the start of the session in seconds since the GPS
	// epoch (modulo 2^32).
	SessionTime uint32
	// SessionTimeOut holds the session duration as 2^SessionTimeOut seconds.
	SessionTimeOut uint8
	DLFrequency    uint32
	DR             uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p McClassCSessionReqPayload) MarshalBinary() ([]byte, error) {
	if p.SessionTimeOut > 15 {
		return nil, errors.New("lorawan: max value of SessionTimeOut is 15")
	}
	f, err := marshalFrequency(p.DLFrequency)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 10)
	out[0] = p.McGroupID & 0x03
	binary.LittleEndian.PutUint32(out[1:5], p.SessionTime)
	out[5] = p.SessionTimeOut
	copy(out[6:9], f)
	out[9] = p.DR
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *McClassCSessionReqPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 10); err != nil {
		return err
	}
	p.McGroupID = data[0] & 0x03
	p.SessionTime = binary.LittleEndian.Uint32(data[1:5])
	p.SessionTimeOut = data[5] & 0x0f
	p.DLFrequency = unmarshalFrequency(data[6:9])
	p.DR = data[9]
	return nil
}

// McClassCSessionAnsPayload represents the McClassCSessionAns payload.
type McClassCSessionAnsPayload struct {
	McGroupUndefined bool
	FreqError        bool
	DRError          bool
	McGroupID        uint8
	// TimeToStart (seconds) is only sent when none of the error bits is set.
	TimeToStart uint32
}

func (p McClassCSessionAnsPayload) hasError() bool {
	return p.McGroupUndefined || p.FreqError || p.DRError
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p McClassCSessionAnsPayload) MarshalBinary() ([]byte, error) {
	b := p.McGroupID & 0x03
	if p.DRError {
		b |= 0x04
	}
	if p.FreqError {
		b |= 0x08
	}
	if p.McGroupUndefined {
		b |= 0x10
	}
	if p.hasError() {
		return []byte{b}, nil
	}
	if p.TimeToStart >= 1<<24 {
		return nil, errors.New("lorawan: max value of TimeToStart is 2^24-1")
	}
	t := make([]byte, 4)
	binary.LittleEndian.PutUint32(t, p.TimeToStart)
	return append([]byte{b}, t[0:3]...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *McClassCSessionAnsPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return ErrBufferTooShort
	}
	p.McGroupID = data[0] & 0x03
	p.DRError = data[0]&0x04 != 0
	p.FreqError = data[0]&0x08 != 0
	p.McGroupUndefined = data[0]&0x10 != 0
	p.TimeToStart = 0

	if p.hasError() {
		return expectLen(data, 1)
	}
	if err := expectLen(data, 4); err != nil {
		return err
	}
	t := make([]byte, 4)
	copy(t, data[1:4])
	p.TimeToStart = binary.LittleEndian.Uint32(t)
	return nil
}

// MulticastCommandSet holds the remote multicast setup commands received
// by the end-device.
var MulticastCommandSet = CommandSet{
	name: "multicast",
	cmds: map[CID]commandSpec{
		McPackageVersionReq: {size: 0},
		McGroupStatusReq:    {size: 1, payload: func() Payload { return &McGroupStatusReqPayload{} }},
		McGroupSetupReq:     {size: 29, payload: func() Payload { return &McGroupSetupReqPayload{} }},
		McGroupDeleteReq:    {size: 1, payload: func() Payload { return &McGroupDeleteReqPayload{} }},
		McClassCSessionReq:  {size: 10, payload: func() Payload { return &McClassCSessionReqPayload{} }},
	},
}

// MulticastAnswerSet holds the remote multicast setup answers sent by the
// end-device.
var MulticastAnswerSet = CommandSet{
	name: "multicast-answer",
	cmds: map[CID]commandSpec{
		McPackageVersionAns: {size: 2, payload: func() Payload { return &PackageVersionAnsPayload{} }},
		McGroupStatusAns: {
			sizeFn: func(rest []byte) int {
				if len(rest) < 1 {
					return 1
				}
				return 1 + 5*bits.OnesCount8(rest[0]&0x0f)
			},
			payload: func() Payload { return &McGroupStatusAnsPayload{} },
		},
		McGroupSetupAns:  {size: 1, payload: func() Payload { return &McGroupSetupAnsPayload{} }},
		McGroupDeleteAns: {size: 1, payload: func() Payload { return &McGroupDeleteAnsPayload{} }},
		McClassCSessionAns: {
			sizeFn: func(rest []byte) int {
				if len(rest) < 1 || rest[0]&0x1c != 0 {
					return 1
				}
				return 4
			},
			payload: func() Payload { return &McClassCSessionAnsPayload{} },
		},
	},
}
