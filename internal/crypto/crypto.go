package crypto

import (
	"crypto/subtle"
	"encoding/binary"

	"github.com/pkg/errors"
)

// MIC defines the 4 byte message integrity code.
type MIC [4]byte

// EqualMIC returns true when both MICs are equal. The comparison is
// performed in constant time.
func EqualMIC(a, b MIC) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// DataMIC computes the MIC of a data frame. msg must contain the MHDR and
// the MACPayload. devAddr must be given in wire (little-endian) order.
func DataMIC(f Factory, key [16]byte, uplink bool, devAddr [4]byte, fCnt uint32, msg []byte) (MIC, error) {
	var mic MIC

	b0 := make([]byte, 16)
	b0[0] = 0x49
	if !uplink {
		b0[5] = 0x01
	}
	copy(b0[6:10], devAddr[:])
	binary.LittleEndian.PutUint32(b0[10:14], fCnt)
	b0[15] = byte(len(msg))

	h, err := f.NewMAC(key)
	if err != nil {
		return mic, err
	}
	if _, err := h.Write(b0); err != nil {
		return mic, errors.Wrap(err, "write b0 error")
	}
	if _, err := h.Write(msg); err != nil {
		return mic, errors.Wrap(err, "write message error")
	}

	copy(mic[:], h.Sum(nil))
	return mic, nil
}

// JoinMIC computes the MIC of a join-request or of a (decrypted)
// join-accept. msg must contain the MHDR and the payload.
func JoinMIC(f Factory, key [16]byte, msg []byte) (MIC, error) {
	var mic MIC

	h, err := f.NewMAC(key)
	if err != nil {
		return mic, err
	}
	if _, err := h.Write(msg); err != nil {
		return mic, errors.Wrap(err, "write message error")
	}

	copy(mic[:], h.Sum(nil))
	return mic, nil
}

// EncryptFRMPayload encrypts the given FRMPayload. As the keystream is
// XOR-ed with the data, the same function is used for decryption.
// devAddr must be given in wire (little-endian) order.
func EncryptFRMPayload(f Factory, key [16]byte, uplink bool, devAddr [4]byte, fCnt uint32, data []byte) ([]byte, error) {
	block, err := f.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	a := make([]byte, 16)
	s := make([]byte, 16)

	a[0] = 0x01
	if !uplink {
		a[5] = 0x01
	}
	copy(a[6:10], devAddr[:])
	binary.LittleEndian.PutUint32(a[10:14], fCnt)

	for i := 0; i < len(data); i += 16 {
		a[15] = byte(i/16 + 1)
		block.Encrypt(s, a)

		for j := 0; j < 16 && i+j < len(data); j++ {
			out[i+j] = data[i+j] ^ s[j]
		}
	}

	return out, nil
}

// EncryptJoinAccept encrypts the join-accept payload (including the MIC).
// The network uses the AES decrypt operation so that the end-device only
// needs the encrypt operation.
func EncryptJoinAccept(f Factory, key [16]byte, pt []byte) ([]byte, error) {
	if len(pt)%16 != 0 {
		return nil, errors.New("plaintext must be a multiple of 16 bytes")
	}

	block, err := f.NewCipher(key)
	if err != nil {
		return nil, err
	}

	ct := make([]byte, len(pt))
	for i := 0; i < len(pt); i += 16 {
		block.Decrypt(ct[i:i+16], pt[i:i+16])
	}
	return ct, nil
}

// DecryptJoinAccept decrypts the join-accept payload (including the MIC).
func DecryptJoinAccept(f Factory, key [16]byte, ct []byte) ([]byte, error) {
	if len(ct)%16 != 0 {
		return nil, errors.New("ciphertext must be a multiple of 16 bytes")
	}

	block, err := f.NewCipher(key)
	if err != nil {
		return nil, err
	}

	pt := make([]byte, len(ct))
	for i := 0; i < len(ct); i += 16 {
		block.Encrypt(pt[i:i+16], ct[i:i+16])
	}
	return pt, nil
}

// DeriveSessionKeys derives the LoRaWAN 1.0.x NwkSKey and AppSKey. The
// appNonce, netID and devNonce must be given in wire (little-endian) order.
func DeriveSessionKeys(f Factory, appKey [16]byte, appNonce [3]byte, netID [3]byte, devNonce [2]byte) (nwkSKey, appSKey [16]byte, err error) {
	nwkSKey, err = deriveSessionKey(f, 0x01, appKey, appNonce, netID, devNonce)
	if err != nil {
		return nwkSKey, appSKey, errors.Wrap(err, "derive NwkSKey error")
	}

	appSKey, err = deriveSessionKey(f, 0x02, appKey, appNonce, netID, devNonce)
	if err != nil {
		return nwkSKey, appSKey, errors.Wrap(err, "derive AppSKey error")
	}

	return nwkSKey, appSKey, nil
}

func deriveSessionKey(f Factory, typ byte, appKey [16]byte, appNonce [3]byte, netID [3]byte, devNonce [2]byte) ([16]byte, error) {
	var b [16]byte
	b[0] = typ
	copy(b[1:4], appNonce[:])
	copy(b[4:7], netID[:])
	copy(b[7:9], devNonce[:])

	return encryptBlock(f, appKey, b)
}

// McRootKey derives the multicast root-key from the GenAppKey (the AppKey
// for LoRaWAN 1.0.x devices).
func McRootKey(f Factory, genAppKey [16]byte) ([16]byte, error) {
	return encryptBlock(f, genAppKey, [16]byte{})
}

// McKEKey derives the multicast key-encryption key from the McRootKey.
func McKEKey(f Factory, mcRootKey [16]byte) ([16]byte, error) {
	return encryptBlock(f, mcRootKey, [16]byte{})
}

// DecryptMcKey decrypts the McKey as received in a McGroupSetupReq.
func DecryptMcKey(f Factory, mcKEKey [16]byte, encrypted [16]byte) ([16]byte, error) {
	var out [16]byte

	block, err := f.NewCipher(mcKEKey)
	if err != nil {
		return out, err
	}
	block.Decrypt(out[:], encrypted[:])
	return out, nil
}

// DeriveMulticastKeys derives the McAppSKey and McNetSKey for the given
// McKey and McAddr. mcAddr must be given in wire (little-endian) order.
func DeriveMulticastKeys(f Factory, mcKey [16]byte, mcAddr [4]byte) (mcAppSKey, mcNetSKey [16]byte, err error) {
	var b [16]byte
	copy(b[1:5], mcAddr[:])

	b[0] = 0x01
	mcAppSKey, err = encryptBlock(f, mcKey, b)
	if err != nil {
		return mcAppSKey, mcNetSKey, errors.Wrap(err, "derive McAppSKey error")
	}

	b[0] = 0x02
	mcNetSKey, err = encryptBlock(f, mcKey, b)
	if err != nil {
		return mcAppSKey, mcNetSKey, errors.Wrap(err, "derive McNetSKey error")
	}

	return mcAppSKey, mcNetSKey, nil
}

func encryptBlock(f Factory, key [16]byte, b [16]byte) ([16]byte, error) {
	var out [16]byte

	block, err := f.NewCipher(key)
	if err != nil {
		return out, err
	}
	block.Encrypt(out[:], b[:])
	return out, nil
}
