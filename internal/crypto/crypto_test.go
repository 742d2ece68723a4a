package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func mustKey(s string) [16]byte {
	var k [16]byte
	copy(k[:], mustDecodeHex(s))
	return k
}

func repeat(b byte) [16]byte {
	var k [16]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestDefaultFactory(t *testing.T) {
	t.Run("CMAC RFC 4493 vectors", func(t *testing.T) {
		tests := []struct {
			Name        string
			Message     string
			ExpectedMAC string
		}{
			{
				Name:        "empty message",
				Message:     "",
				ExpectedMAC: "bb1d6929e95937287fa37d129b756746",
			},
			{
				Name:        "one block",
				Message:     "6bc1bee22e409f96e93d7e117393172a",
				ExpectedMAC: "070a16b46b4d4144f79bdd9dd04a287c",
			},
		}

		key := mustKey("2b7e151628aed2a6abf7158809cf4f3c")

		for _, tst := range tests {
			t.Run(tst.Name, func(t *testing.T) {
				assert := require.New(t)

				h, err := DefaultFactory{}.NewMAC(key)
				assert.NoError(err)
				_, err = h.Write(mustDecodeHex(tst.Message))
				assert.NoError(err)
				assert.Equal(tst.ExpectedMAC, hex.EncodeToString(h.Sum(nil)))
			})
		}
	})
}

func TestDataFrame(t *testing.T) {
	// 40 | 04030201 | 80 | 0100 | 01 | a694642615 | d6c3b582
	frame := mustDecodeHex("400403020180010001a694642615d6c3b582")
	devAddr := [4]byte{0x04, 0x03, 0x02, 0x01}

	t.Run("DataMIC", func(t *testing.T) {
		assert := require.New(t)

		mic, err := DataMIC(DefaultFactory{}, repeat(2), true, devAddr, 1, frame[:len(frame)-4])
		assert.NoError(err)
		assert.Equal(MIC{0xd6, 0xc3, 0xb5, 0x82}, mic)

		mic, err = DataMIC(DefaultFactory{}, repeat(1), true, devAddr, 1, frame[:len(frame)-4])
		assert.NoError(err)
		assert.False(EqualMIC(MIC{0xd6, 0xc3, 0xb5, 0x82}, mic))
	})

	t.Run("EncryptFRMPayload", func(t *testing.T) {
		assert := require.New(t)

		pt, err := EncryptFRMPayload(DefaultFactory{}, repeat(1), true, devAddr, 1, frame[9:14])
		assert.NoError(err)
		assert.Equal([]byte("hello"), pt)

		ct, err := EncryptFRMPayload(DefaultFactory{}, repeat(1), true, devAddr, 1, pt)
		assert.NoError(err)
		assert.Equal(frame[9:14], ct)
	})

	t.Run("EncryptFRMPayload multiple blocks", func(t *testing.T) {
		assert := require.New(t)

		data := make([]byte, 40)
		for i := range data {
			data[i] = byte(i)
		}

		ct, err := EncryptFRMPayload(DefaultFactory{}, repeat(1), false, devAddr, 65536, data)
		assert.NoError(err)
		assert.Len(ct, 40)
		assert.NotEqual(data, ct)

		pt, err := EncryptFRMPayload(DefaultFactory{}, repeat(1), false, devAddr, 65536, ct)
		assert.NoError(err)
		assert.Equal(data, pt)
	})
}

func TestJoin(t *testing.T) {
	appKey := repeat(1)

	t.Run("JoinMIC join-request", func(t *testing.T) {
		assert := require.New(t)

		b := mustDecodeHex("00080706050403020118171615141312110000bd43d06c")
		mic, err := JoinMIC(DefaultFactory{}, appKey, b[:19])
		assert.NoError(err)
		assert.Equal(MIC{0xbd, 0x43, 0xd0, 0x6c}, mic)
	})

	t.Run("DecryptJoinAccept", func(t *testing.T) {
		assert := require.New(t)

		frame := mustDecodeHex("20f4bc3e1c2120a39b51c8c41a53b931a9")
		pt, err := DecryptJoinAccept(DefaultFactory{}, appKey, frame[1:])
		assert.NoError(err)
		assert.Equal(mustDecodeHex("0c0b0a1300003412012612015788c471"), pt)

		mic, err := JoinMIC(DefaultFactory{}, appKey, append([]byte{0x20}, pt[:12]...))
		assert.NoError(err)
		assert.True(EqualMIC(MIC{0x57, 0x88, 0xc4, 0x71}, mic))

		ct, err := EncryptJoinAccept(DefaultFactory{}, appKey, pt)
		assert.NoError(err)
		assert.Equal(frame[1:], ct)
	})

	t.Run("DecryptJoinAccept invalid length", func(t *testing.T) {
		assert := require.New(t)
		_, err := DecryptJoinAccept(DefaultFactory{}, appKey, make([]byte, 15))
		assert.Error(err)
	})

	t.Run("DeriveSessionKeys", func(t *testing.T) {
		assert := require.New(t)

		nwkSKey, appSKey, err := DeriveSessionKeys(DefaultFactory{}, appKey, [3]byte{0x0c, 0x0b, 0x0a}, [3]byte{0x13, 0x00, 0x00}, [2]byte{0x00, 0x00})
		assert.NoError(err)
		assert.Equal(mustKey("2c22ea4c273a39bcecf0ecf6ae00cbd1"), nwkSKey)
		assert.Equal(mustKey("b4ecb80b26e28f4e7b0f9412dec79178"), appSKey)
	})
}

func TestMulticastKeys(t *testing.T) {
	assert := require.New(t)
	f := DefaultFactory{}

	rootKey, err := McRootKey(f, repeat(1))
	assert.NoError(err)
	assert.Equal(mustKey("b6aeaffa752dc08b51639731761aed00"), rootKey)

	keKey, err := McKEKey(f, rootKey)
	assert.NoError(err)
	assert.Equal(mustKey("a0aed6fb824daf97d957f983e2b73f97"), keKey)

	mcKey, err := DecryptMcKey(f, keKey, mustKey("05fb56b36ebf43e49978bb3422e9bf5e"))
	assert.NoError(err)
	assert.Equal(repeat(3), mcKey)

	mcAppSKey, mcNetSKey, err := DeriveMulticastKeys(f, mcKey, [4]byte{0x04, 0x03, 0x02, 0x01})
	assert.NoError(err)
	assert.Equal(mustKey("7a95e0919ded8e52ad7364f5a5b37b93"), mcAppSKey)
	assert.Equal(mustKey("9eb5fe21f508730ec1de3ebe5858151a"), mcNetSKey)
}
