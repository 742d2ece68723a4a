package lorawan

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MaxFOptsLen defines the max. number of bytes of the FOpts field.
const MaxFOptsLen = 15

// FCtrl represents the frame control field.
type FCtrl struct {
	ADR       bool
	ADRACKReq bool
	ACK       bool
	// FPending is only used for downlink. For uplink this bit is RFU (or
	// ClassB in later protocol versions).
	FPending bool
	ClassB   bool
	fOptsLen uint8
}

// FOptsLen returns the FOpts length as decoded from the FCtrl byte.
func (c FCtrl) FOptsLen() int {
	return int(c.fOptsLen)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c FCtrl) MarshalBinary() ([]byte, error) {
	if c.fOptsLen > MaxFOptsLen {
		return nil, ErrMACCommandCapacity
	}

	b := c.fOptsLen
	if c.ADR {
		b |= 0x80
	}
	if c.ADRACKReq {
		b |= 0x40
	}
	if c.ACK {
		b |= 0x20
	}
	if c.FPending || c.ClassB {
		b |= 0x10
	}
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *FCtrl) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	c.fOptsLen = data[0] & 0x0f
	c.ADR = data[0]&0x80 != 0
	c.ADRACKReq = data[0]&0x40 != 0
	c.ACK = data[0]&0x20 != 0
	c.FPending = data[0]&0x10 != 0
	c.ClassB = c.FPending
	return nil
}

// FHDR represents the frame header.
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl

	// FCnt holds the frame-counter. Only the least-significant 16 bits are
	// transmitted.
	FCnt uint32

	// FOpts holds the (encoded) MAC commands piggybacked in the frame
	// header.
	FOpts []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h FHDR) MarshalBinary() ([]byte, error) {
	if len(h.FOpts) > MaxFOptsLen {
		return nil, ErrMACCommandCapacity
	}

	out := make([]byte, 0, 7+len(h.FOpts))
	b, err := h.DevAddr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	h.FCtrl.fOptsLen = uint8(len(h.FOpts))
	b, err = h.FCtrl.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	fCnt := make([]byte, 2)
	binary.LittleEndian.PutUint16(fCnt, uint16(h.FCnt))
	out = append(out, fCnt...)

	return append(out, h.FOpts...), nil
}

// UnmarshalBinary decodes the FHDR from the given bytes. The number of
// bytes consumed is 7 + FOptsLen.
func (h *FHDR) UnmarshalBinary(data []byte) error {
	if len(data) < 7 {
		return ErrBufferTooShort
	}
	if err := h.DevAddr.UnmarshalBinary(data[0:4]); err != nil {
		return err
	}
	if err := h.FCtrl.UnmarshalBinary(data[4:5]); err != nil {
		return err
	}
	h.FCnt = uint32(binary.LittleEndian.Uint16(data[5:7]))

	fOptsLen := h.FCtrl.FOptsLen()
	if len(data) < 7+fOptsLen {
		return ErrBufferTooShort
	}
	h.FOpts = nil
	if fOptsLen > 0 {
		h.FOpts = make([]byte, fOptsLen)
		copy(h.FOpts, data[7:7+fOptsLen])
	}
	return nil
}

// MACPayload represents the data frame MAC payload.
type MACPayload struct {
	FHDR  FHDR
	FPort *uint8

	// FRMPayload holds the (encrypted) frame payload.
	FRMPayload []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p MACPayload) MarshalBinary() ([]byte, error) {
	out, err := p.FHDR.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if p.FPort == nil {
		if len(p.FRMPayload) != 0 {
			return nil, errors.New("lorawan: FPort must be set when FRMPayload is not empty")
		}
		return out, nil
	}

	if *p.FPort == 0 && len(p.FHDR.FOpts) != 0 {
		return nil, errors.New("lorawan: FPort must not be 0 when FOpts are set")
	}

	out = append(out, *p.FPort)
	return append(out, p.FRMPayload...), nil
}

// UnmarshalBinary decodes the MACPayload from the given bytes.
func (p *MACPayload) UnmarshalBinary(uplink bool, data []byte) error {
	if err := p.FHDR.UnmarshalBinary(data); err != nil {
		return err
	}

	rest := data[7+p.FHDR.FCtrl.FOptsLen():]
	p.FPort = nil
	p.FRMPayload = nil
	if len(rest) == 0 {
		return nil
	}

	fPort := rest[0]
	p.FPort = &fPort
	if fPort == 0 && len(p.FHDR.FOpts) != 0 {
		return errors.Wrap(ErrInvalidFrame, "FOpts and FPort 0 are mutually exclusive")
	}
	if len(rest) > 1 {
		p.FRMPayload = make([]byte, len(rest)-1)
		copy(p.FRMPayload, rest[1:])
	}
	return nil
}

// FullFCnt reconstructs the 32 bit frame-counter given the next expected
// 32 bit counter value and the received 16 bit value.
func FullFCnt(next uint32, fCnt16 uint32) uint32 {
	full := next&0xffff0000 | fCnt16&0xffff
	if full < next {
		full += 0x10000
	}
	return full
}
