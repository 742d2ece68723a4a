package lorawan

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/crypto"
)

// errors
var (
	ErrBufferTooShort     = errors.New("lorawan: buffer too short")
	ErrInvalidMType       = errors.New("lorawan: invalid message type")
	ErrInvalidMajor       = errors.New("lorawan: unsupported major version")
	ErrInvalidMIC         = errors.New("lorawan: invalid mic")
	ErrInvalidFrame       = errors.New("lorawan: invalid frame")
	ErrMACCommandCapacity = errors.New("lorawan: mac-command capacity exceeded")
)

// MType represents the message type.
type MType byte

// Supported message types (MType)
const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

// String implements fmt.Stringer.
func (m MType) String() string {
	switch m {
	case JoinRequest:
		return "JoinRequest"
	case JoinAccept:
		return "JoinAccept"
	case UnconfirmedDataUp:
		return "UnconfirmedDataUp"
	case UnconfirmedDataDown:
		return "UnconfirmedDataDown"
	case ConfirmedDataUp:
		return "ConfirmedDataUp"
	case ConfirmedDataDown:
		return "ConfirmedDataDown"
	case RFU:
		return "RFU"
	case Proprietary:
		return "Proprietary"
	default:
		return fmt.Sprintf("MType(%d)", byte(m))
	}
}

// IsUplink returns true for the message types sent by the end-device.
func (m MType) IsUplink() bool {
	return m == JoinRequest || m == UnconfirmedDataUp || m == ConfirmedDataUp
}

// IsData returns true for the data message types.
func (m MType) IsData() bool {
	return m >= UnconfirmedDataUp && m <= ConfirmedDataDown
}

// Major defines the major version of the data message.
type Major byte

// Supported major versions
const (
	LoRaWANR1 Major = 0
)

// MHDR represents the MAC header.
type MHDR struct {
	MType MType
	Major Major
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h MHDR) MarshalBinary() ([]byte, error) {
	return []byte{byte(h.MType)<<5 | byte(h.Major)&0x03}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *MHDR) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	h.MType = MType(data[0] >> 5)
	h.Major = Major(data[0] & 0x03)
	return nil
}

// minimum frame sizes (including MHDR and MIC)
const (
	joinRequestLen      = 23
	joinAcceptLen       = 17
	joinAcceptCFListLen = 33
	minDataLen          = 12
)

// PHYPayload represents the physical payload. Depending the MType, one of
// JoinRequestPayload, EncryptedJoinAccept or MACPayload is set.
type PHYPayload struct {
	MHDR MHDR

	JoinRequestPayload *JoinRequestPayload

	// EncryptedJoinAccept holds the encrypted join-accept payload, including
	// the encrypted MIC.
	EncryptedJoinAccept []byte

	MACPayload *MACPayload

	MIC crypto.MIC
}

// Parse classifies and decodes the given bytes. Data frames are returned
// with their FRMPayload still encrypted and join-accepts with their payload
// still encrypted.
func Parse(b []byte) (PHYPayload, error) {
	var p PHYPayload

	if len(b) < 1 {
		return p, ErrBufferTooShort
	}

	if err := p.MHDR.UnmarshalBinary(b[0:1]); err != nil {
		return p, err
	}
	if p.MHDR.Major != LoRaWANR1 {
		return p, ErrInvalidMajor
	}

	switch p.MHDR.MType {
	case JoinRequest:
		if len(b) < joinRequestLen {
			return p, ErrBufferTooShort
		}
		if len(b) != joinRequestLen {
			return p, errors.Wrap(ErrInvalidFrame, "join-request length")
		}
		p.JoinRequestPayload = &JoinRequestPayload{}
		if err := p.JoinRequestPayload.UnmarshalBinary(b[1:19]); err != nil {
			return p, err
		}
		copy(p.MIC[:], b[19:])
	case JoinAccept:
		if len(b) < joinAcceptLen {
			return p, ErrBufferTooShort
		}
		if len(b) != joinAcceptLen && len(b) != joinAcceptCFListLen {
			return p, errors.Wrap(ErrInvalidFrame, "join-accept length")
		}
		p.EncryptedJoinAccept = make([]byte, len(b)-1)
		copy(p.EncryptedJoinAccept, b[1:])
	case UnconfirmedDataUp, UnconfirmedDataDown, ConfirmedDataUp, ConfirmedDataDown:
		if len(b) < minDataLen {
			return p, ErrBufferTooShort
		}
		p.MACPayload = &MACPayload{}
		if err := p.MACPayload.UnmarshalBinary(p.MHDR.MType.IsUplink(), b[1:len(b)-4]); err != nil {
			return p, err
		}
		copy(p.MIC[:], b[len(b)-4:])
	default:
		return p, ErrInvalidMType
	}

	return p, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PHYPayload) MarshalBinary() ([]byte, error) {
	out, err := p.MHDR.MarshalBinary()
	if err != nil {
		return nil, err
	}

	switch {
	case p.JoinRequestPayload != nil:
		b, err := p.JoinRequestPayload.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	case p.EncryptedJoinAccept != nil:
		return append(out, p.EncryptedJoinAccept...), nil
	case p.MACPayload != nil:
		b, err := p.MACPayload.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	default:
		return nil, errors.New("lorawan: payload must not be empty")
	}

	return append(out, p.MIC[:]...), nil
}

// micBytes returns the MHDR and MACPayload bytes over which the MIC is
// computed.
func (p PHYPayload) micBytes() ([]byte, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return b[:len(b)-4], nil
}
