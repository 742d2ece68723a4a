package lorawan

import (
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-end-device/internal/crypto"
)

// MaxFRMPayloadMACLen defines the max. number of bytes of MAC commands
// that can be sent as FRMPayload (FPort 0).
const MaxFRMPayloadMACLen = 242

// SessionKeys holds the address and keys of an activated session.
type SessionKeys struct {
	DevAddr DevAddr
	NwkSKey AES128Key
	AppSKey AES128Key
}

// DataFrame contains the fields of an (unencrypted) data frame.
type DataFrame struct {
	Confirmed bool
	Uplink    bool

	ADR       bool
	ADRACKReq bool
	ACK       bool
	FPending  bool

	// FPort is nil when the frame does not contain a FRMPayload. When set
	// to 0, the MACCommands are sent as FRMPayload.
	FPort       *uint8
	Payload     []byte
	MACCommands []MACCommand
}

// MType returns the message type of the data frame.
func (d DataFrame) MType() MType {
	switch {
	case d.Uplink && d.Confirmed:
		return ConfirmedDataUp
	case d.Uplink:
		return UnconfirmedDataUp
	case d.Confirmed:
		return ConfirmedDataDown
	default:
		return UnconfirmedDataDown
	}
}

// BuildDataFrame builds, encrypts and signs the given data frame. The
// fCnt is the full 32 bit frame-counter.
func BuildDataFrame(f crypto.Factory, keys SessionKeys, fCnt uint32, frame DataFrame) ([]byte, error) {
	macPL := MACPayload{
		FHDR: FHDR{
			DevAddr: keys.DevAddr,
			FCtrl: FCtrl{
				ADR:       frame.ADR,
				ADRACKReq: frame.ADRACKReq,
				ACK:       frame.ACK,
				FPending:  frame.FPending,
			},
			FCnt: fCnt,
		},
		FPort: frame.FPort,
	}

	key := keys.AppSKey
	plaintext := frame.Payload

	if frame.FPort != nil && *frame.FPort == 0 {
		if len(frame.Payload) != 0 {
			return nil, errors.New("lorawan: FPort 0 must not contain application payload")
		}
		b, err := EncodeMACCommands(frame.MACCommands, MaxFRMPayloadMACLen)
		if err != nil {
			return nil, err
		}
		key = keys.NwkSKey
		plaintext = b
	} else {
		b, err := EncodeMACCommands(frame.MACCommands, MaxFOptsLen)
		if err != nil {
			return nil, err
		}
		macPL.FHDR.FOpts = b
	}

	if frame.FPort == nil && len(frame.Payload) != 0 {
		return nil, errors.New("lorawan: FPort must be set when payload is not empty")
	}

	if len(plaintext) != 0 {
		ct, err := crypto.EncryptFRMPayload(f, key, frame.Uplink, keys.DevAddr.wire(), fCnt, plaintext)
		if err != nil {
			return nil, errors.Wrap(err, "encrypt frmpayload error")
		}
		macPL.FRMPayload = ct
	}

	phy := PHYPayload{
		MHDR: MHDR{
			MType: frame.MType(),
			Major: LoRaWANR1,
		},
		MACPayload: &macPL,
	}

	b, err := phy.micBytes()
	if err != nil {
		return nil, err
	}

	phy.MIC, err = crypto.DataMIC(f, keys.NwkSKey, frame.Uplink, keys.DevAddr.wire(), fCnt, b)
	if err != nil {
		return nil, errors.Wrap(err, "calculate data mic error")
	}

	return phy.MarshalBinary()
}

// ValidateDataMIC validates the MIC of a data frame given the full 32 bit
// frame-counter.
func (p PHYPayload) ValidateDataMIC(f crypto.Factory, nwkSKey AES128Key, fCnt uint32) (bool, error) {
	if p.MACPayload == nil || !p.MHDR.MType.IsData() {
		return false, ErrInvalidMType
	}

	b, err := p.micBytes()
	if err != nil {
		return false, err
	}

	mic, err := crypto.DataMIC(f, nwkSKey, p.MHDR.MType.IsUplink(), p.MACPayload.FHDR.DevAddr.wire(), fCnt, b)
	if err != nil {
		return false, errors.Wrap(err, "calculate data mic error")
	}
	return crypto.EqualMIC(mic, p.MIC), nil
}

// DecryptFRMPayload returns the decrypted FRMPayload given the full 32 bit
// frame-counter. The key must be the NwkSKey for FPort 0 and the AppSKey
// otherwise.
func (p PHYPayload) DecryptFRMPayload(f crypto.Factory, key AES128Key, fCnt uint32) ([]byte, error) {
	if p.MACPayload == nil || !p.MHDR.MType.IsData() {
		return nil, ErrInvalidMType
	}
	if len(p.MACPayload.FRMPayload) == 0 {
		return nil, nil
	}

	pt, err := crypto.EncryptFRMPayload(f, key, p.MHDR.MType.IsUplink(), p.MACPayload.FHDR.DevAddr.wire(), fCnt, p.MACPayload.FRMPayload)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt frmpayload error")
	}
	return pt, nil
}
