package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-end-device/internal/crypto"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

var (
	decodeNwkSKey string
	decodeAppSKey string
)

var decodeCmd = &cobra.Command{
	Use:     "decode [hex encoded phypayload]",
	Short:   "Decode and print a PHYPayload",
	Example: `chirpstack-end-device decode 40040302018000000194c4b1e7f5`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := hex.DecodeString(args[0])
		if err != nil {
			return errors.Wrap(err, "hex decode error")
		}

		phy, err := lorawan.Parse(b)
		if err != nil {
			return errors.Wrap(err, "parse phypayload error")
		}

		out, err := json.MarshalIndent(phy, "", "    ")
		if err != nil {
			return errors.Wrap(err, "marshal json error")
		}
		fmt.Println(string(out))

		if phy.MACPayload == nil {
			return nil
		}

		return printDecrypted(phy)
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeNwkSKey, "nwk-s-key", "", "network session key (HEX encoded) to validate the MIC with (optional)")
	decodeCmd.Flags().StringVar(&decodeAppSKey, "app-s-key", "", "application session key (HEX encoded) to decrypt the FRMPayload with (optional)")
}

// printDecrypted validates the MIC and decrypts the FRMPayload when the
// session keys are given.
func printDecrypted(phy lorawan.PHYPayload) error {
	fCnt := phy.MACPayload.FHDR.FCnt

	var nwkSKey lorawan.AES128Key
	if decodeNwkSKey != "" {
		if err := nwkSKey.UnmarshalText([]byte(decodeNwkSKey)); err != nil {
			return errors.Wrap(err, "decode nwk_s_key error")
		}

		ok, err := phy.ValidateDataMIC(crypto.DefaultFactory{}, nwkSKey, fCnt)
		if err != nil {
			return errors.Wrap(err, "validate mic error")
		}
		fmt.Printf("MIC valid: %t\n", ok)
	}

	key := nwkSKey
	if phy.MACPayload.FPort != nil && *phy.MACPayload.FPort != 0 {
		if decodeAppSKey == "" {
			return nil
		}
		if err := key.UnmarshalText([]byte(decodeAppSKey)); err != nil {
			return errors.Wrap(err, "decode app_s_key error")
		}
	} else if decodeNwkSKey == "" {
		return nil
	}

	pt, err := phy.DecryptFRMPayload(crypto.DefaultFactory{}, key, fCnt)
	if err != nil {
		return errors.Wrap(err, "decrypt frmpayload error")
	}
	fmt.Printf("FRMPayload: %s\n", hex.EncodeToString(pt))

	if phy.MACPayload.FPort != nil && *phy.MACPayload.FPort == 0 {
		set := lorawan.MACCommandSet
		if phy.MHDR.MType.IsUplink() {
			set = lorawan.MACAnswerSet
		}
		cmds, err := lorawan.DecodeCommands(set, pt)
		if err != nil {
			return errors.Wrap(err, "decode mac-commands error")
		}
		out, err := json.MarshalIndent(cmds, "", "    ")
		if err != nil {
			return errors.Wrap(err, "marshal json error")
		}
		fmt.Println(string(out))
	}

	return nil
}
