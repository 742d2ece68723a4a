package lorawan

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCommandRoundTrip(t *testing.T) {
	tests := []struct {
		Name     string
		Set      CommandSet
		Commands []MACCommand
	}{
		{
			Name: "downlink mac-commands",
			Set:  MACCommandSet,
			Commands: []MACCommand{
				{CID: LinkCheckAns, Payload: &LinkCheckAnsPayload{Margin: 20, GwCnt: 3}},
				{CID: LinkADRReq, Payload: &LinkADRReqPayload{DataRate: 5, TXPower: 1, ChMask: ChMask{true, false, true}, Redundancy: Redundancy{ChMaskCntl: 6, NbRep: 2}}},
				{CID: DutyCycleReq, Payload: &DutyCycleReqPayload{MaxDCycle: 7}},
				{CID: RXParamSetupReq, Payload: &RXParamSetupReqPayload{Frequency: 869525000, DLSettings: DLSettings{RX2DataRate: 3, RX1DROffset: 2}}},
				{CID: DevStatusReq},
				{CID: NewChannelReq, Payload: &NewChannelReqPayload{ChIndex: 3, Freq: 867100000, MaxDR: 5, MinDR: 0}},
				{CID: RXTimingSetupReq, Payload: &RXTimingSetupReqPayload{Delay: 3}},
				{CID: TxParamSetupReq, Payload: &TXParamSetupReqPayload{DownlinkDwellTime: true, MaxEIRP: 5}},
				{CID: DlChannelReq, Payload: &DlChannelReqPayload{ChIndex: 0, Freq: 868500000}},
				{CID: DeviceTimeAns, Payload: &DeviceTimeAnsPayload{TimeSinceGPSEpoch: 1234*time.Second + 500*time.Millisecond}},
			},
		},
		{
			Name: "uplink mac-commands",
			Set:  MACAnswerSet,
			Commands: []MACCommand{
				{CID: LinkCheckReq},
				{CID: LinkADRAns, Payload: &LinkADRAnsPayload{ChannelMaskACK: true}},
				{CID: DutyCycleAns},
				{CID: RXParamSetupAns, Payload: &RXParamSetupAnsPayload{ChannelACK: true, RX2DataRateACK: true, RX1DROffsetACK: true}},
				{CID: DevStatusAns, Payload: &DevStatusAnsPayload{Battery: 100, Margin: -32}},
				{CID: NewChannelAns, Payload: &NewChannelAnsPayload{ChannelFrequencyOK: true, DataRateRangeOK: true}},
				{CID: RXTimingSetupAns},
				{CID: TxParamSetupAns},
				{CID: DlChannelAns, Payload: &DlChannelAnsPayload{ChannelFrequencyOK: true}},
				{CID: DeviceTimeReq},
			},
		},
		{
			Name: "multicast requests",
			Set:  MulticastCommandSet,
			Commands: []MACCommand{
				{CID: McPackageVersionReq},
				{CID: McGroupStatusReq, Payload: &McGroupStatusReqPayload{ReqGroupMask: 0x05}},
				{CID: McGroupSetupReq, Payload: &McGroupSetupReqPayload{McGroupID: 1, McAddr: DevAddr{1, 2, 3, 4}, McKeyEncrypted: keyOf(9), MinMcFCnt: 10, MaxMcFCnt: 1000}},
				{CID: McGroupDeleteReq, Payload: &McGroupDeleteReqPayload{McGroupID: 2}},
				{CID: McClassCSessionReq, Payload: &McClassCSessionReqPayload{McGroupID: 1, SessionTime: 1000, SessionTimeOut: 8, DLFrequency: 869525000, DR: 0}},
			},
		},
		{
			Name: "multicast answers",
			Set:  MulticastAnswerSet,
			Commands: []MACCommand{
				{CID: McPackageVersionAns, Payload: &PackageVersionAnsPayload{PackageIdentifier: McPackageIdentifier, PackageVersion: McPackageVersion}},
				{CID: McGroupStatusAns, Payload: &McGroupStatusAnsPayload{NbTotalGroups: 2, AnsGroupMask: 0x03, Items: []McGroupStatusItem{{McGroupID: 0, McAddr: DevAddr{1, 2, 3, 4}}, {McGroupID: 1, McAddr: DevAddr{5, 6, 7, 8}}}}},
				{CID: McGroupSetupAns, Payload: &McGroupSetupAnsPayload{IDError: true, McGroupID: 3}},
				{CID: McGroupDeleteAns, Payload: &McGroupDeleteAnsPayload{McGroupUndefined: true, McGroupID: 1}},
				{CID: McClassCSessionAns, Payload: &McClassCSessionAnsPayload{McGroupID: 1, TimeToStart: 100}},
				{CID: McClassCSessionAns, Payload: &McClassCSessionAnsPayload{McGroupID: 2, FreqError: true}},
			},
		},
		{
			Name: "certification requests",
			Set:  CertificationCommandSet,
			Commands: []MACCommand{
				{CID: CertPackageVersionReq},
				{CID: CertSwitchClassReq, Payload: &ByteValuePayload{Value: 2}},
				{CID: CertRxAppCntReq},
				{CID: CertDutVersionsReq},
				{CID: CertEchoPayloadReq, Payload: &BytesPayload{Data: []byte{1, 2, 3}}},
			},
		},
		{
			Name: "certification answers",
			Set:  CertificationAnswerSet,
			Commands: []MACCommand{
				{CID: CertPackageVersionAns, Payload: &PackageVersionAnsPayload{PackageIdentifier: CertPackageIdentifier, PackageVersion: CertPackageVersion}},
				{CID: CertRxAppCntAns, Payload: &RxAppCntAnsPayload{RxAppCnt: 513}},
				{CID: CertDutVersionsAns, Payload: &DutVersionsAnsPayload{FirmwareVersion: Version{Major: 1, Minor: 2}, LoRaWANVersion: Version{Major: 1, Patch: 3}}},
			},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			b, err := EncodeMACCommands(tst.Commands, MaxFRMPayloadMACLen)
			assert.NoError(err)

			cmds, err := DecodeCommands(tst.Set, b)
			assert.NoError(err)
			assert.Equal(tst.Commands, cmds)
		})
	}
}

func TestCommandEncoding(t *testing.T) {
	tests := []struct {
		Name     string
		Command  MACCommand
		Expected []byte
	}{
		{
			Name:     "LinkADRReq",
			Command:  MACCommand{CID: LinkADRReq, Payload: &LinkADRReqPayload{DataRate: 5, TXPower: 1, ChMask: ChMask{true, false, true}, Redundancy: Redundancy{ChMaskCntl: 6, NbRep: 2}}},
			Expected: []byte{0x03, 0x51, 0x05, 0x00, 0x62},
		},
		{
			Name:     "RXParamSetupReq",
			Command:  MACCommand{CID: RXParamSetupReq, Payload: &RXParamSetupReqPayload{Frequency: 869525000, DLSettings: DLSettings{RX2DataRate: 3, RX1DROffset: 2}}},
			Expected: []byte{0x05, 0x23, 0xd2, 0xad, 0x84},
		},
		{
			Name:     "LinkADRAns all ack",
			Command:  MACCommand{CID: LinkADRAns, Payload: &LinkADRAnsPayload{ChannelMaskACK: true, DataRateACK: true, PowerACK: true}},
			Expected: []byte{0x03, 0x07},
		},
		{
			Name:     "DeviceTimeAns",
			Command:  MACCommand{CID: DeviceTimeAns, Payload: &DeviceTimeAnsPayload{TimeSinceGPSEpoch: 1234*time.Second + 500*time.Millisecond}},
			Expected: []byte{0x0d, 0xd2, 0x04, 0x00, 0x00, 0x80},
		},
		{
			Name:     "McClassCSessionAns with error",
			Command:  MACCommand{CID: McClassCSessionAns, Payload: &McClassCSessionAnsPayload{McGroupID: 2, McGroupUndefined: true}},
			Expected: []byte{0x04, 0x12},
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			b, err := tst.Command.MarshalBinary()
			assert.NoError(err)
			assert.Equal(tst.Expected, b)
		})
	}
}

func TestEncodeMACCommandsCapacity(t *testing.T) {
	assert := require.New(t)

	cmds := []MACCommand{
		{CID: RXParamSetupAns, Payload: &RXParamSetupAnsPayload{ChannelACK: true}},
	}
	for i := 0; i < 6; i++ {
		cmds = append(cmds, MACCommand{CID: LinkADRAns, Payload: &LinkADRAnsPayload{}})
	}

	b, err := EncodeMACCommands(cmds, MaxFOptsLen)
	assert.NoError(err)
	assert.Len(b, 14)

	cmds = append(cmds, MACCommand{CID: LinkADRAns, Payload: &LinkADRAnsPayload{}})
	_, err = EncodeMACCommands(cmds, MaxFOptsLen)
	assert.Equal(ErrMACCommandCapacity, errors.Cause(err))
}

func TestCommandIterator(t *testing.T) {
	t.Run("truncated stream yields prefix", func(t *testing.T) {
		assert := require.New(t)

		b := []byte{
			0x06,
			0x08, 0x01,
			0x03, 0x51, 0x05,
		}

		cmds, err := DecodeCommands(MACCommandSet, b)
		assert.Equal(ErrTruncatedCommand, errors.Cause(err))
		assert.Equal([]MACCommand{
			{CID: DevStatusReq},
			{CID: RXTimingSetupReq, Payload: &RXTimingSetupReqPayload{Delay: 1}},
		}, cmds)
	})

	t.Run("unknown command stops decoding", func(t *testing.T) {
		assert := require.New(t)

		cmds, err := DecodeCommands(MACCommandSet, []byte{0x06, 0x80, 0x06})
		assert.Equal(ErrUnknownCommand, errors.Cause(err))
		assert.Len(cmds, 1)
	})

	t.Run("every truncation of a valid stream", func(t *testing.T) {
		assert := require.New(t)

		b, err := EncodeMACCommands([]MACCommand{
			{CID: LinkADRReq, Payload: &LinkADRReqPayload{ChMask: ChMask{true}}},
			{CID: DevStatusReq},
			{CID: NewChannelReq, Payload: &NewChannelReqPayload{ChIndex: 3, Freq: 867100000, MaxDR: 5}},
			{CID: DlChannelReq, Payload: &DlChannelReqPayload{ChIndex: 3, Freq: 868100000}},
		}, MaxFRMPayloadMACLen)
		assert.NoError(err)

		full, err := DecodeCommands(MACCommandSet, b)
		assert.NoError(err)

		for i := 0; i <= len(b); i++ {
			cmds, _ := DecodeCommands(MACCommandSet, b[:i])
			assert.True(len(cmds) <= len(full))
			if len(cmds) > 0 {
				assert.Equal(full[:len(cmds)], cmds)
			}
		}
	})

	t.Run("reset", func(t *testing.T) {
		assert := require.New(t)

		it := NewCommandIterator(MACCommandSet, []byte{0x06, 0x08, 0x02})
		var first []MACCommand
		for it.Next() {
			first = append(first, it.Command())
		}
		assert.NoError(it.Err())
		assert.Len(first, 2)

		it.Reset()
		assert.True(it.Next())
		assert.Equal(MACCommand{CID: DevStatusReq}, it.Command())
	})

	t.Run("TxFramesCtrlReq consumes the remainder", func(t *testing.T) {
		assert := require.New(t)

		cmds, err := DecodeCommands(CertificationCommandSet, []byte{0x09, 0x07, 0x02, 0x09, 0x0a})
		assert.NoError(err)
		assert.Equal([]MACCommand{
			{CID: CertRxAppCntReq},
			{CID: CertTxFramesCtrlReq, Payload: &TxFramesCtrlReqPayload{FrameType: TxFrameConfirmed, Extra: []byte{0x09, 0x0a}}},
		}, cmds)
	})

	t.Run("TxFramesCtrlReq without frame type", func(t *testing.T) {
		assert := require.New(t)

		cmds, err := DecodeCommands(CertificationCommandSet, []byte{0x09, 0x07})
		assert.Error(err)
		assert.Equal([]MACCommand{{CID: CertRxAppCntReq}}, cmds)
	})

	t.Run("McGroupStatusAns size follows group mask", func(t *testing.T) {
		assert := require.New(t)

		cmds, err := DecodeCommands(MulticastAnswerSet, []byte{0x01, 0x11, 0x00, 0x04, 0x03, 0x02, 0x01, 0x00, 0x00, 0x00})
		assert.NoError(err)
		assert.Equal([]MACCommand{
			{CID: McGroupStatusAns, Payload: &McGroupStatusAnsPayload{NbTotalGroups: 1, AnsGroupMask: 1, Items: []McGroupStatusItem{{McGroupID: 0, McAddr: DevAddr{1, 2, 3, 4}}}}},
			{CID: McPackageVersionAns, Payload: &PackageVersionAnsPayload{}},
		}, cmds)
	})
}

func TestEchoPayload(t *testing.T) {
	assert := require.New(t)
	assert.Equal([]byte{0x02, 0x00, 0x11}, EchoPayload([]byte{0x01, 0xff, 0x10}))
}
