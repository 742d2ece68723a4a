package lorawan

import (
	"testing"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestBuildDataFrame(t *testing.T) {
	keys := SessionKeys{
		DevAddr: DevAddr{0x01, 0x02, 0x03, 0x04},
		NwkSKey: keyOf(2),
		AppSKey: keyOf(1),
	}
	fPort := uint8(1)

	t.Run("test vector", func(t *testing.T) {
		assert := require.New(t)

		b, err := BuildDataFrame(testFactory, keys, 1, DataFrame{
			Uplink:  true,
			ADR:     true,
			FPort:   &fPort,
			Payload: []byte("hello"),
		})
		assert.NoError(err)
		assert.Equal(mustHex("400403020180010001a694642615d6c3b582"), b)
	})

	t.Run("decrypt test vector", func(t *testing.T) {
		assert := require.New(t)

		phy, err := Parse(mustHex("400403020180010001a694642615d6c3b582"))
		assert.NoError(err)

		ok, err := phy.ValidateDataMIC(testFactory, keys.NwkSKey, 1)
		assert.NoError(err)
		assert.True(ok)

		ok, err = phy.ValidateDataMIC(testFactory, keys.NwkSKey, 65537)
		assert.NoError(err)
		assert.False(ok)

		pt, err := phy.DecryptFRMPayload(testFactory, keys.AppSKey, 1)
		assert.NoError(err)
		assert.Equal([]byte("hello"), pt)
	})

	t.Run("mac-commands in fopts", func(t *testing.T) {
		assert := require.New(t)

		b, err := BuildDataFrame(testFactory, keys, 70000, DataFrame{
			Uplink:    true,
			Confirmed: true,
			ACK:       true,
			FPort:     &fPort,
			Payload:   []byte{0x01},
			MACCommands: []MACCommand{
				{CID: LinkADRAns, Payload: &LinkADRAnsPayload{ChannelMaskACK: true, DataRateACK: true, PowerACK: true}},
				{CID: RXTimingSetupAns},
			},
		})
		assert.NoError(err)

		phy, err := Parse(b)
		assert.NoError(err)
		assert.Equal(ConfirmedDataUp, phy.MHDR.MType)
		assert.True(phy.MACPayload.FHDR.FCtrl.ACK)
		assert.Equal(uint32(70000&0xffff), phy.MACPayload.FHDR.FCnt)
		assert.Equal([]byte{0x03, 0x07, 0x08}, phy.MACPayload.FHDR.FOpts)

		ok, err := phy.ValidateDataMIC(testFactory, keys.NwkSKey, FullFCnt(65536, phy.MACPayload.FHDR.FCnt))
		assert.NoError(err)
		assert.True(ok)
	})

	t.Run("mac-commands as fport 0 payload", func(t *testing.T) {
		assert := require.New(t)
		fPort0 := uint8(0)

		b, err := BuildDataFrame(testFactory, keys, 3, DataFrame{
			Uplink: true,
			FPort:  &fPort0,
			MACCommands: []MACCommand{
				{CID: DevStatusAns, Payload: &DevStatusAnsPayload{Battery: 255, Margin: -5}},
			},
		})
		assert.NoError(err)

		phy, err := Parse(b)
		assert.NoError(err)
		assert.Len(phy.MACPayload.FHDR.FOpts, 0)

		pt, err := phy.DecryptFRMPayload(testFactory, keys.NwkSKey, 3)
		assert.NoError(err)

		cmds, err := DecodeCommands(MACAnswerSet, pt)
		assert.NoError(err)
		assert.Equal([]MACCommand{
			{CID: DevStatusAns, Payload: &DevStatusAnsPayload{Battery: 255, Margin: -5}},
		}, cmds)
	})

	t.Run("fopts capacity exceeded", func(t *testing.T) {
		assert := require.New(t)

		var cmds []MACCommand
		for i := 0; i < 8; i++ {
			cmds = append(cmds, MACCommand{CID: NewChannelAns, Payload: &NewChannelAnsPayload{}})
		}

		_, err := BuildDataFrame(testFactory, keys, 1, DataFrame{Uplink: true, MACCommands: cmds})
		assert.Equal(ErrMACCommandCapacity, errors.Cause(err))
	})

	t.Run("validated by reference implementation", func(t *testing.T) {
		assert := require.New(t)
		fPort := uint8(10)

		b, err := BuildDataFrame(testFactory, keys, 7, DataFrame{
			Uplink:    true,
			Confirmed: true,
			FPort:     &fPort,
			Payload:   []byte("reference"),
		})
		assert.NoError(err)

		var phy lorawan.PHYPayload
		assert.NoError(phy.UnmarshalBinary(b))

		ok, err := phy.ValidateUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, lorawan.AES128Key(keys.NwkSKey), lorawan.AES128Key(keys.NwkSKey))
		assert.NoError(err)
		assert.True(ok)

		assert.NoError(phy.DecryptFRMPayload(lorawan.AES128Key(keys.AppSKey)))
		macPL, ok := phy.MACPayload.(*lorawan.MACPayload)
		assert.True(ok)
		assert.Len(macPL.FRMPayload, 1)
		pl, ok := macPL.FRMPayload[0].(*lorawan.DataPayload)
		assert.True(ok)
		assert.Equal([]byte("reference"), pl.Bytes)
	})
}

func TestDownlinkFromReference(t *testing.T) {
	assert := require.New(t)

	nwkSKey := keyOf(2)
	appSKey := keyOf(1)
	fPort := uint8(10)

	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: lorawan.UnconfirmedDataDown,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.MACPayload{
			FHDR: lorawan.FHDR{
				DevAddr: lorawan.DevAddr{0x01, 0x02, 0x03, 0x04},
				FCtrl: lorawan.FCtrl{
					ACK: true,
				},
				FCnt: 5,
				FOpts: []lorawan.Payload{
					&lorawan.MACCommand{
						CID: lorawan.LinkADRReq,
						Payload: &lorawan.LinkADRReqPayload{
							DataRate: 3,
							TXPower:  2,
							ChMask:   lorawan.ChMask{true, true, true},
							Redundancy: lorawan.Redundancy{
								ChMaskCntl: 0,
								NbRep:      1,
							},
						},
					},
				},
			},
			FPort: &fPort,
			FRMPayload: []lorawan.Payload{
				&lorawan.DataPayload{Bytes: []byte("hi")},
			},
		},
	}
	assert.NoError(phy.EncryptFRMPayload(lorawan.AES128Key(appSKey)))
	assert.NoError(phy.SetDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, lorawan.AES128Key(nwkSKey)))
	b, err := phy.MarshalBinary()
	assert.NoError(err)

	p, err := Parse(b)
	assert.NoError(err)
	assert.Equal(UnconfirmedDataDown, p.MHDR.MType)
	assert.True(p.MACPayload.FHDR.FCtrl.ACK)

	ok, err := p.ValidateDataMIC(testFactory, nwkSKey, 5)
	assert.NoError(err)
	assert.True(ok)

	pt, err := p.DecryptFRMPayload(testFactory, appSKey, 5)
	assert.NoError(err)
	assert.Equal([]byte("hi"), pt)

	cmds, err := DecodeCommands(MACCommandSet, p.MACPayload.FHDR.FOpts)
	assert.NoError(err)
	assert.Equal([]MACCommand{
		{
			CID: LinkADRReq,
			Payload: &LinkADRReqPayload{
				DataRate:   3,
				TXPower:    2,
				ChMask:     ChMask{true, true, true},
				Redundancy: Redundancy{NbRep: 1},
			},
		},
	}, cmds)
}
