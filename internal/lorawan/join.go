package lorawan

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/crypto"
)

// Credentials holds the OTAA root credentials of the end-device.
type Credentials struct {
	DevEUI EUI64
	AppEUI EUI64
	AppKey AES128Key
}

// JoinRequestPayload represents the join-request message payload.
type JoinRequestPayload struct {
	AppEUI   EUI64
	DevEUI   EUI64
	DevNonce DevNonce
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p JoinRequestPayload) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 18)
	b, err := p.AppEUI.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)
	b, err = p.DevEUI.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	nonce := make([]byte, 2)
	binary.LittleEndian.PutUint16(nonce, uint16(p.DevNonce))
	return append(out, nonce...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *JoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 18 {
		return errors.New("lorawan: 18 bytes of data are expected")
	}
	if err := p.AppEUI.UnmarshalBinary(data[0:8]); err != nil {
		return err
	}
	if err := p.DevEUI.UnmarshalBinary(data[8:16]); err != nil {
		return err
	}
	p.DevNonce = DevNonce(binary.LittleEndian.Uint16(data[16:18]))
	return nil
}

// BuildJoinRequest builds the join-request frame for the given credentials
// and DevNonce.
func BuildJoinRequest(f crypto.Factory, creds Credentials, devNonce DevNonce) ([]byte, error) {
	phy := PHYPayload{
		MHDR: MHDR{
			MType: JoinRequest,
			Major: LoRaWANR1,
		},
		JoinRequestPayload: &JoinRequestPayload{
			AppEUI:   creds.AppEUI,
			DevEUI:   creds.DevEUI,
			DevNonce: devNonce,
		},
	}

	b, err := phy.micBytes()
	if err != nil {
		return nil, err
	}

	phy.MIC, err = crypto.JoinMIC(f, creds.AppKey, b)
	if err != nil {
		return nil, errors.Wrap(err, "calculate join-request mic error")
	}

	return phy.MarshalBinary()
}

// DLSettings represents the downlink settings.
type DLSettings struct {
	RX2DataRate uint8
	RX1DROffset uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s DLSettings) MarshalBinary() ([]byte, error) {
	if s.RX2DataRate > 15 {
		return nil, errors.New("lorawan: max value of RX2DataRate is 15")
	}
	if s.RX1DROffset > 7 {
		return nil, errors.New("lorawan: max value of RX1DROffset is 7")
	}
	return []byte{s.RX1DROffset<<4 | s.RX2DataRate}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *DLSettings) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return errors.New("lorawan: 1 byte of data is expected")
	}
	s.RX2DataRate = data[0] & 0x0f
	s.RX1DROffset = (data[0] >> 4) & 0x07
	return nil
}

// CFListType defines the CFList type.
type CFListType uint8

// Possible CFList types.
const (
	CFListChannel     CFListType = 0
	CFListChannelMask CFListType = 1
)

// CFList represents the optional join-accept channel frequency list.
type CFList struct {
	Type CFListType

	// Frequencies (in Hz) of channels 3 - 7 (CFListChannel). A zero value
	// means the channel is unused.
	Frequencies [5]uint32

	// ChMasks holds the channel-mask blocks 0 - 4 (CFListChannelMask).
	ChMasks [5]ChMask
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c CFList) MarshalBinary() ([]byte, error) {
	out := make([]byte, 16)
	switch c.Type {
	case CFListChannel:
		for i, f := range c.Frequencies {
			b, err := marshalFrequency(f)
			if err != nil {
				return nil, err
			}
			copy(out[i*3:i*3+3], b)
		}
	case CFListChannelMask:
		for i, m := range c.ChMasks {
			b, err := m.MarshalBinary()
			if err != nil {
				return nil, err
			}
			copy(out[i*2:i*2+2], b)
		}
	default:
		return nil, fmt.Errorf("lorawan: unknown CFList type %d", c.Type)
	}
	out[15] = byte(c.Type)
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *CFList) UnmarshalBinary(data []byte) error {
	if len(data) != 16 {
		return errors.New("lorawan: 16 bytes of data are expected")
	}

	c.Type = CFListType(data[15])
	switch c.Type {
	case CFListChannel:
		for i := range c.Frequencies {
			c.Frequencies[i] = unmarshalFrequency(data[i*3 : i*3+3])
		}
	case CFListChannelMask:
		for i := range c.ChMasks {
			if err := c.ChMasks[i].UnmarshalBinary(data[i*2 : i*2+2]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("lorawan: unknown CFList type %d", c.Type)
	}
	return nil
}

// JoinAcceptPayload represents the (decrypted) join-accept payload.
type JoinAcceptPayload struct {
	AppNonce   AppNonce
	NetID      NetID
	DevAddr    DevAddr
	DLSettings DLSettings
	RXDelay    uint8
	CFList     *CFList
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p JoinAcceptPayload) MarshalBinary() ([]byte, error) {
	if p.AppNonce > 0xffffff {
		return nil, errors.New("lorawan: max value of AppNonce is 2^24-1")
	}

	out := make([]byte, 0, 28)
	nonce := make([]byte, 4)
	binary.LittleEndian.PutUint32(nonce, uint32(p.AppNonce))
	out = append(out, nonce[0:3]...)
	out = append(out, reverse(p.NetID[:])...)

	b, err := p.DevAddr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)

	b, err = p.DLSettings.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, b...)
	out = append(out, p.RXDelay)

	if p.CFList != nil {
		b, err = p.CFList.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *JoinAcceptPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 12 && len(data) != 28 {
		return errors.New("lorawan: 12 or 28 bytes of data are expected")
	}

	nonce := make([]byte, 4)
	copy(nonce, data[0:3])
	p.AppNonce = AppNonce(binary.LittleEndian.Uint32(nonce))
	copy(p.NetID[:], reverse(data[3:6]))

	if err := p.DevAddr.UnmarshalBinary(data[6:10]); err != nil {
		return err
	}
	if err := p.DLSettings.UnmarshalBinary(data[10:11]); err != nil {
		return err
	}
	p.RXDelay = data[11]

	p.CFList = nil
	if len(data) == 28 {
		p.CFList = &CFList{}
		if err := p.CFList.UnmarshalBinary(data[12:]); err != nil {
			return err
		}
	}
	return nil
}

// DecryptJoinAccept decrypts the join-accept payload using the AppKey. It
// returns the decrypted payload and MIC. The MIC must be validated using
// ValidateJoinAcceptMIC.
func (p PHYPayload) DecryptJoinAccept(f crypto.Factory, appKey AES128Key) (JoinAcceptPayload, crypto.MIC, error) {
	var ja JoinAcceptPayload
	var mic crypto.MIC

	if p.MHDR.MType != JoinAccept || p.EncryptedJoinAccept == nil {
		return ja, mic, ErrInvalidMType
	}

	pt, err := crypto.DecryptJoinAccept(f, appKey, p.EncryptedJoinAccept)
	if err != nil {
		return ja, mic, errors.Wrap(err, "decrypt join-accept error")
	}

	copy(mic[:], pt[len(pt)-4:])
	if err := ja.UnmarshalBinary(pt[:len(pt)-4]); err != nil {
		return ja, mic, errors.Wrap(ErrInvalidFrame, err.Error())
	}
	return ja, mic, nil
}

// ValidateJoinAcceptMIC validates the MIC of the decrypted join-accept.
func ValidateJoinAcceptMIC(f crypto.Factory, appKey AES128Key, mhdr MHDR, ja JoinAcceptPayload, mic crypto.MIC) (bool, error) {
	b, err := mhdr.MarshalBinary()
	if err != nil {
		return false, err
	}
	pl, err := ja.MarshalBinary()
	if err != nil {
		return false, err
	}

	expected, err := crypto.JoinMIC(f, appKey, append(b, pl...))
	if err != nil {
		return false, errors.Wrap(err, "calculate join-accept mic error")
	}
	return crypto.EqualMIC(expected, mic), nil
}

// OpenJoinAccept decrypts the join-accept and validates its MIC.
func (p PHYPayload) OpenJoinAccept(f crypto.Factory, appKey AES128Key) (JoinAcceptPayload, error) {
	ja, mic, err := p.DecryptJoinAccept(f, appKey)
	if err != nil {
		return ja, err
	}

	ok, err := ValidateJoinAcceptMIC(f, appKey, p.MHDR, ja, mic)
	if err != nil {
		return ja, err
	}
	if !ok {
		return ja, ErrInvalidMIC
	}
	return ja, nil
}

// BuildJoinAccept builds an encrypted join-accept frame. This is the
// network-server side of the join procedure.
func BuildJoinAccept(f crypto.Factory, appKey AES128Key, ja JoinAcceptPayload) ([]byte, error) {
	mhdr := MHDR{MType: JoinAccept, Major: LoRaWANR1}
	b, err := mhdr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	pl, err := ja.MarshalBinary()
	if err != nil {
		return nil, err
	}

	mic, err := crypto.JoinMIC(f, appKey, append(b, pl...))
	if err != nil {
		return nil, errors.Wrap(err, "calculate join-accept mic error")
	}

	ct, err := crypto.EncryptJoinAccept(f, appKey, append(pl, mic[:]...))
	if err != nil {
		return nil, errors.Wrap(err, "encrypt join-accept error")
	}
	return append(b, ct...), nil
}

// DeriveSessionKeys derives the NwkSKey and AppSKey for the given
// join-accept and DevNonce.
func DeriveSessionKeys(f crypto.Factory, appKey AES128Key, ja JoinAcceptPayload, devNonce DevNonce) (nwkSKey, appSKey AES128Key, err error) {
	var appNonce [3]byte
	appNonce[0] = byte(ja.AppNonce)
	appNonce[1] = byte(ja.AppNonce >> 8)
	appNonce[2] = byte(ja.AppNonce >> 16)

	var netID [3]byte
	copy(netID[:], reverse(ja.NetID[:]))

	var nonce [2]byte
	binary.LittleEndian.PutUint16(nonce[:], uint16(devNonce))

	nwk, app, err := crypto.DeriveSessionKeys(f, appKey, appNonce, netID, nonce)
	return AES128Key(nwk), AES128Key(app), err
}
