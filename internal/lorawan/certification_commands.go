package lorawan

import "encoding/binary"

// CertificationFPort defines the FPort of the certification protocol
// package.
const CertificationFPort = 224

// Certification protocol package commands.
const (
	CertPackageVersionReq        CID = 0x00
	CertPackageVersionAns        CID = 0x00
	CertDutResetReq              CID = 0x01
	CertDutJoinReq               CID = 0x02
	CertSwitchClassReq           CID = 0x03
	CertADRBitChangeReq          CID = 0x04
	CertRegionalDutyCycleCtrlReq CID = 0x05
	CertTxPeriodicityChangeReq   CID = 0x06
	CertTxFramesCtrlReq          CID = 0x07
	CertEchoPayloadReq           CID = 0x08
	CertEchoPayloadAns           CID = 0x08
	CertRxAppCntReq              CID = 0x09
	CertRxAppCntAns              CID = 0x09
	CertRxAppCntResetReq         CID = 0x0a
	CertLinkCheckReq             CID = 0x20
	CertDeviceTimeReq            CID = 0x21
	CertPingSlotInfoReq          CID = 0x22
	CertDutVersionsReq           CID = 0x7f
	CertDutVersionsAns           CID = 0x7f
)

// Certification protocol package identifier and version.
const (
	CertPackageIdentifier = 6
	CertPackageVersion    = 1
)

// ByteValuePayload represents a single byte command payload.
type ByteValuePayload struct {
	Value uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p ByteValuePayload) MarshalBinary() ([]byte, error) {
	return []byte{p.Value}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *ByteValuePayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 1); err != nil {
		return err
	}
	p.Value = data[0]
	return nil
}

// TxFrameType defines the frame type of the TxFramesCtrlReq.
type TxFrameType uint8

// Possible TxFramesCtrlReq frame types.
const (
	TxFrameNoChange    TxFrameType = 0
	TxFrameUnconfirmed TxFrameType = 1
	TxFrameConfirmed   TxFrameType = 2
)

// TxFramesCtrlReqPayload represents the TxFramesCtrlReq payload. The
// command has no length field and consumes the remainder of the buffer.
type TxFramesCtrlReqPayload struct {
	FrameType TxFrameType
	Extra     []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p TxFramesCtrlReqPayload) MarshalBinary() ([]byte, error) {
	return append([]byte{byte(p.FrameType)}, p.Extra...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *TxFramesCtrlReqPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return ErrBufferTooShort
	}
	p.FrameType = TxFrameType(data[0])
	p.Extra = nil
	if len(data) > 1 {
		p.Extra = make([]byte, len(data)-1)
		copy(p.Extra, data[1:])
	}
	return nil
}

// BytesPayload represents a variable length command payload consuming the
// remainder of the buffer.
type BytesPayload struct {
	Data []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p BytesPayload) MarshalBinary() ([]byte, error) {
	return p.Data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *BytesPayload) UnmarshalBinary(data []byte) error {
	p.Data = make([]byte, len(data))
	copy(p.Data, data)
	return nil
}

// RxAppCntAnsPayload represents the RxAppCntAns payload.
type RxAppCntAnsPayload struct {
	RxAppCnt uint16
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p RxAppCntAnsPayload) MarshalBinary() ([]byte, error) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, p.RxAppCnt)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *RxAppCntAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 2); err != nil {
		return err
	}
	p.RxAppCnt = binary.LittleEndian.Uint16(data)
	return nil
}

// Version holds a major.minor.patch.revision version.
type Version struct {
	Major    uint8
	Minor    uint8
	Patch    uint8
	Revision uint8
}

// DutVersionsAnsPayload represents the DutVersionsAns payload.
type DutVersionsAnsPayload struct {
	FirmwareVersion       Version
	LoRaWANVersion        Version
	RegionalParamsVersion Version
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p DutVersionsAnsPayload) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 12)
	for _, v := range []Version{p.FirmwareVersion, p.LoRaWANVersion, p.RegionalParamsVersion} {
		out = append(out, v.Major, v.Minor, v.Patch, v.Revision)
	}
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *DutVersionsAnsPayload) UnmarshalBinary(data []byte) error {
	if err := expectLen(data, 12); err != nil {
		return err
	}
	for i, v := range []*Version{&p.FirmwareVersion, &p.LoRaWANVersion, &p.RegionalParamsVersion} {
		b := data[i*4 : i*4+4]
		v.Major, v.Minor, v.Patch, v.Revision = b[0], b[1], b[2], b[3]
	}
	return nil
}

// CertificationCommandSet holds the certification protocol commands
// received by the end-device.
var CertificationCommandSet = CommandSet{
	name: "certification",
	cmds: map[CID]commandSpec{
		CertPackageVersionReq:        {size: 0},
		CertDutResetReq:              {size: 0},
		CertDutJoinReq:               {size: 0},
		CertSwitchClassReq:           {size: 1, payload: func() Payload { return &ByteValuePayload{} }},
		CertADRBitChangeReq:          {size: 1, payload: func() Payload { return &ByteValuePayload{} }},
		CertRegionalDutyCycleCtrlReq: {size: 1, payload: func() Payload { return &ByteValuePayload{} }},
		CertTxPeriodicityChangeReq:   {size: 1, payload: func() Payload { return &ByteValuePayload{} }},
		CertTxFramesCtrlReq:          {size: remainder, payload: func() Payload { return &TxFramesCtrlReqPayload{} }},
		CertEchoPayloadReq:           {size: remainder, payload: func() Payload { return &BytesPayload{} }},
		CertRxAppCntReq:              {size: 0},
		CertRxAppCntResetReq:         {size: 0},
		CertLinkCheckReq:             {size: 0},
		CertDeviceTimeReq:            {size: 0},
		CertPingSlotInfoReq:          {size: 1, payload: func() Payload { return &ByteValuePayload{} }},
		CertDutVersionsReq:           {size: 0},
	},
}

// CertificationAnswerSet holds the certification protocol answers sent by
// the end-device.
var CertificationAnswerSet = CommandSet{
	name: "certification-answer",
	cmds: map[CID]commandSpec{
		CertPackageVersionAns: {size: 2, payload: func() Payload { return &PackageVersionAnsPayload{} }},
		CertEchoPayloadAns:    {size: remainder, payload: func() Payload { return &BytesPayload{} }},
		CertRxAppCntAns:       {size: 2, payload: func() Payload { return &RxAppCntAnsPayload{} }},
		CertDutVersionsAns:    {size: 12, payload: func() Payload { return &DutVersionsAnsPayload{} }},
	},
}

// EchoPayload returns the EchoPayloadAns data for the given request data.
// Each byte is incremented by one.
func EchoPayload(req []byte) []byte {
	out := make([]byte, len(req))
	for i, b := range req {
		out[i] = b + 1
	}
	return out
}
