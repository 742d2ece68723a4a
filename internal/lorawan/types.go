// Package lorawan implements the LoRaWAN 1.0.x frame codec and the MAC
// command codecs used by the end-device.
package lorawan

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// EUI64 data type. The value is stored in big-endian (display) order and
// transmitted in little-endian order.
type EUI64 [8]byte

// String implements fmt.Stringer.
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalText implements encoding.TextMarshaler.
func (e EUI64) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EUI64) UnmarshalText(text []byte) error {
	return decodeHex(e[:], text)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (e EUI64) MarshalBinary() ([]byte, error) {
	return reverse(e[:]), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *EUI64) UnmarshalBinary(data []byte) error {
	if len(data) != len(e) {
		return fmt.Errorf("lorawan: %d bytes of data are expected", len(e))
	}
	copy(e[:], reverse(data))
	return nil
}

// Scan implements sql.Scanner.
func (e *EUI64) Scan(src interface{}) error {
	return scanBytes(e[:], src)
}

// DevAddr defines the device address. The value is stored in big-endian
// (display) order and transmitted in little-endian order.
type DevAddr [4]byte

// String implements fmt.Stringer.
func (a DevAddr) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a DevAddr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *DevAddr) UnmarshalText(text []byte) error {
	return decodeHex(a[:], text)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a DevAddr) MarshalBinary() ([]byte, error) {
	return reverse(a[:]), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *DevAddr) UnmarshalBinary(data []byte) error {
	if len(data) != len(a) {
		return fmt.Errorf("lorawan: %d bytes of data are expected", len(a))
	}
	copy(a[:], reverse(data))
	return nil
}

// Scan implements sql.Scanner.
func (a *DevAddr) Scan(src interface{}) error {
	return scanBytes(a[:], src)
}

// wire returns the DevAddr in transmission order.
func (a DevAddr) wire() [4]byte {
	var out [4]byte
	copy(out[:], reverse(a[:]))
	return out
}

// AES128Key defines a 128 bit AES key.
type AES128Key [16]byte

// String implements fmt.Stringer.
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler.
func (k AES128Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *AES128Key) UnmarshalText(text []byte) error {
	return decodeHex(k[:], text)
}

// Scan implements sql.Scanner.
func (k *AES128Key) Scan(src interface{}) error {
	return scanBytes(k[:], src)
}

// NetID defines the network identifier. The value is stored in big-endian
// (display) order and transmitted in little-endian order.
type NetID [3]byte

// String implements fmt.Stringer.
func (n NetID) String() string {
	return hex.EncodeToString(n[:])
}

// MarshalText implements encoding.TextMarshaler.
func (n NetID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NetID) UnmarshalText(text []byte) error {
	return decodeHex(n[:], text)
}

// DevNonce defines the join-request nonce.
type DevNonce uint16

// AppNonce defines the 24 bit join-accept nonce.
type AppNonce uint32

func decodeHex(dst []byte, text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return errors.Wrap(err, "lorawan: decode hex error")
	}
	if len(b) != len(dst) {
		return fmt.Errorf("lorawan: exactly %d bytes are expected", len(dst))
	}
	copy(dst, b)
	return nil
}

func scanBytes(dst []byte, src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return errors.New("lorawan: []byte type expected")
	}
	if len(b) != len(dst) {
		return fmt.Errorf("lorawan: []byte must have length %d", len(dst))
	}
	copy(dst, b)
	return nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
