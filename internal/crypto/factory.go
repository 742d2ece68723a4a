// Package crypto implements the LoRaWAN security helpers (MIC computation,
// payload encryption and key derivation) on top of a pluggable cipher
// factory.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"hash"

	"github.com/jacobsa/crypto/cmac"
	"github.com/pkg/errors"
)

// Factory provides the AES-128 block cipher and AES-CMAC primitives.
// Implementations can be backed by a secure element or a hardware
// accelerator.
type Factory interface {
	// NewCipher returns an AES-128 block cipher for the given key.
	NewCipher(key [16]byte) (cipher.Block, error)

	// NewMAC returns an AES-CMAC hash for the given key.
	NewMAC(key [16]byte) (hash.Hash, error)
}

// DefaultFactory implements Factory using crypto/aes and an RFC 4493
// AES-CMAC implementation.
type DefaultFactory struct{}

// NewCipher returns a new AES-128 block cipher.
func (DefaultFactory) NewCipher(key [16]byte) (cipher.Block, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "new aes cipher error")
	}
	return block, nil
}

// NewMAC returns a new AES-CMAC hash.
func (DefaultFactory) NewMAC(key [16]byte) (hash.Hash, error) {
	h, err := cmac.New(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "new cmac error")
	}
	return h, nil
}
