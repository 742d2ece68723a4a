// Package multicast implements the end-device side of the remote multicast
// setup package (FPort 200).
package multicast

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/band"
	"github.com/brocaar/chirpstack-end-device/internal/crypto"
	"github.com/brocaar/chirpstack-end-device/internal/gps"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
)

// maxTimeToStart defines the max. TimeToStart value (24 bits).
const maxTimeToStart = 1<<24 - 1

// Context holds the state the multicast commands operate on.
type Context struct {
	Factory crypto.Factory

	// McKEKey holds the key used to decrypt the McKey of a McGroupSetupReq.
	McKEKey lorawan.AES128Key

	Groups    *storage.MulticastGroups
	MaxGroups int
	Band      band.Band

	// Now holds the current time.
	Now time.Time
}

// DeriveMcKEKey derives the McKEKey from the AppKey.
func DeriveMcKEKey(f crypto.Factory, appKey lorawan.AES128Key) (lorawan.AES128Key, error) {
	rootKey, err := crypto.McRootKey(f, appKey)
	if err != nil {
		return lorawan.AES128Key{}, errors.Wrap(err, "derive McRootKey error")
	}

	keKey, err := crypto.McKEKey(f, rootKey)
	if err != nil {
		return lorawan.AES128Key{}, errors.Wrap(err, "derive McKEKey error")
	}

	return lorawan.AES128Key(keKey), nil
}

// Handle handles the given FPort 200 payload and returns the answer
// payload. It returns nil when there is nothing to answer. The commands of
// the payload are handled up to the first malformed command. When a group
// can not be stored because the max. number of groups is reached, the
// setup is answered with the IDError bit set and storage.ErrMaxGroups is
// returned together with the answer.
func Handle(ctx context.Context, c Context, payload []byte) ([]byte, error) {
	var answers []lorawan.MACCommand
	var firstErr error

	it := lorawan.NewCommandIterator(lorawan.MulticastCommandSet, payload)
	for it.Next() {
		cmd := it.Command()

		var ans *lorawan.MACCommand
		var err error

		switch cmd.CID {
		case lorawan.McPackageVersionReq:
			ans = &lorawan.MACCommand{
				CID: lorawan.McPackageVersionAns,
				Payload: &lorawan.PackageVersionAnsPayload{
					PackageIdentifier: lorawan.McPackageIdentifier,
					PackageVersion:    lorawan.McPackageVersion,
				},
			}
		case lorawan.McGroupStatusReq:
			ans, err = handleMcGroupStatusReq(c, cmd)
		case lorawan.McGroupSetupReq:
			ans, err = handleMcGroupSetupReq(ctx, c, cmd)
		case lorawan.McGroupDeleteReq:
			ans, err = handleMcGroupDeleteReq(ctx, c, cmd)
		case lorawan.McClassCSessionReq:
			ans, err = handleMcClassCSessionReq(ctx, c, cmd)
		default:
			err = fmt.Errorf("undefined CID %d", cmd.CID)
		}

		if ans != nil {
			answers = append(answers, *ans)
		}

		if err != nil {
			if errors.Cause(err) == storage.ErrMaxGroups {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}

			log.WithError(err).WithFields(log.Fields{
				"cid":    cmd.CID,
				"ctx_id": ctx.Value(logging.ContextIDKey),
			}).Warning("multicast: handle command error")
		}
	}

	if err := it.Err(); err != nil {
		log.WithError(err).WithField("ctx_id", ctx.Value(logging.ContextIDKey)).Debug("multicast: decode commands error")
	}

	if len(answers) == 0 {
		return nil, firstErr
	}

	b, err := lorawan.EncodeMACCommands(answers, lorawan.MaxFRMPayloadMACLen)
	if err != nil {
		return nil, errors.Wrap(err, "encode answers error")
	}

	return b, firstErr
}

func handleMcGroupStatusReq(c Context, cmd lorawan.MACCommand) (*lorawan.MACCommand, error) {
	pl, ok := cmd.Payload.(*lorawan.McGroupStatusReqPayload)
	if !ok {
		return nil, fmt.Errorf("expected *lorawan.McGroupStatusReqPayload, got %T", cmd.Payload)
	}

	ans := lorawan.McGroupStatusAnsPayload{
		NbTotalGroups: uint8(len(*c.Groups)),
	}

	for id := uint8(0); id < 4; id++ {
		if pl.ReqGroupMask&(1<<id) == 0 {
			continue
		}

		mg, ok := c.Groups.Get(id)
		if !ok {
			continue
		}

		ans.AnsGroupMask |= 1 << id
		ans.Items = append(ans.Items, lorawan.McGroupStatusItem{
			McGroupID: id,
			McAddr:    mg.McAddr,
		})
	}

	return &lorawan.MACCommand{
		CID:     lorawan.McGroupStatusAns,
		Payload: &ans,
	}, nil
}

func handleMcGroupSetupReq(ctx context.Context, c Context, cmd lorawan.MACCommand) (*lorawan.MACCommand, error) {
	pl, ok := cmd.Payload.(*lorawan.McGroupSetupReqPayload)
	if !ok {
		return nil, fmt.Errorf("expected *lorawan.McGroupSetupReqPayload, got %T", cmd.Payload)
	}

	ans := &lorawan.MACCommand{
		CID: lorawan.McGroupSetupAns,
		Payload: &lorawan.McGroupSetupAnsPayload{
			McGroupID: pl.McGroupID,
		},
	}

	mcKey, err := crypto.DecryptMcKey(c.Factory, c.McKEKey, pl.McKeyEncrypted)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt McKey error")
	}

	mcAddr, err := pl.McAddr.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshal McAddr error")
	}
	var mcAddrWire [4]byte
	copy(mcAddrWire[:], mcAddr)

	mcAppSKey, mcNetSKey, err := crypto.DeriveMulticastKeys(c.Factory, mcKey, mcAddrWire)
	if err != nil {
		return nil, errors.Wrap(err, "derive multicast keys error")
	}

	err = c.Groups.Set(storage.MulticastGroup{
		McGroupID: pl.McGroupID,
		McAddr:    pl.McAddr,
		McAppSKey: mcAppSKey,
		McNetSKey: mcNetSKey,
		FCnt:      pl.MinMcFCnt,
		MaxFCnt:   pl.MaxMcFCnt,
	}, c.MaxGroups)
	if err != nil {
		ans.Payload.(*lorawan.McGroupSetupAnsPayload).IDError = true
		log.WithFields(log.Fields{
			"mc_group_id": pl.McGroupID,
			"max_groups":  c.MaxGroups,
			"ctx_id":      ctx.Value(logging.ContextIDKey),
		}).Error("multicast: max number of multicast groups reached")
		return ans, err
	}

	log.WithFields(log.Fields{
		"mc_group_id":  pl.McGroupID,
		"mc_addr":      pl.McAddr,
		"min_mc_f_cnt": pl.MinMcFCnt,
		"max_mc_f_cnt": pl.MaxMcFCnt,
		"ctx_id":       ctx.Value(logging.ContextIDKey),
	}).Info("multicast: multicast group setup")

	return ans, nil
}

func handleMcGroupDeleteReq(ctx context.Context, c Context, cmd lorawan.MACCommand) (*lorawan.MACCommand, error) {
	pl, ok := cmd.Payload.(*lorawan.McGroupDeleteReqPayload)
	if !ok {
		return nil, fmt.Errorf("expected *lorawan.McGroupDeleteReqPayload, got %T", cmd.Payload)
	}

	deleted := c.Groups.Delete(pl.McGroupID)

	log.WithFields(log.Fields{
		"mc_group_id": pl.McGroupID,
		"deleted":     deleted,
		"ctx_id":      ctx.Value(logging.ContextIDKey),
	}).Info("multicast: multicast group delete")

	return &lorawan.MACCommand{
		CID: lorawan.McGroupDeleteAns,
		Payload: &lorawan.McGroupDeleteAnsPayload{
			McGroupID:        pl.McGroupID,
			McGroupUndefined: !deleted,
		},
	}, nil
}

func handleMcClassCSessionReq(ctx context.Context, c Context, cmd lorawan.MACCommand) (*lorawan.MACCommand, error) {
	pl, ok := cmd.Payload.(*lorawan.McClassCSessionReqPayload)
	if !ok {
		return nil, fmt.Errorf("expected *lorawan.McClassCSessionReqPayload, got %T", cmd.Payload)
	}

	ansPL := lorawan.McClassCSessionAnsPayload{
		McGroupID: pl.McGroupID,
	}
	ans := &lorawan.MACCommand{
		CID:     lorawan.McClassCSessionAns,
		Payload: &ansPL,
	}

	var mg *storage.MulticastGroup
	for i := range *c.Groups {
		if (*c.Groups)[i].McGroupID == pl.McGroupID {
			mg = &(*c.Groups)[i]
		}
	}

	ansPL.McGroupUndefined = mg == nil
	ansPL.FreqError = !c.Band.ValidFrequency(pl.DLFrequency)
	if _, err := c.Band.GetDataRate(int(pl.DR)); err != nil {
		ansPL.DRError = true
	}

	if ansPL.McGroupUndefined || ansPL.FreqError || ansPL.DRError {
		log.WithFields(log.Fields{
			"mc_group_id":        pl.McGroupID,
			"mc_group_undefined": ansPL.McGroupUndefined,
			"freq_error":         ansPL.FreqError,
			"dr_error":           ansPL.DRError,
			"ctx_id":             ctx.Value(logging.ContextIDKey),
		}).Warning("multicast: class-c session rejected")
		return ans, nil
	}

	start := gps.ToTime(time.Duration(pl.SessionTime) * time.Second)
	mg.ClassC = &storage.ClassCSession{
		Start:     start,
		End:       start.Add(time.Duration(1<<pl.SessionTimeOut) * time.Second),
		Frequency: pl.DLFrequency,
		DataRate:  int(pl.DR),
	}

	if start.After(c.Now) {
		tts := start.Sub(c.Now) / time.Second
		if tts > maxTimeToStart {
			tts = maxTimeToStart
		}
		ansPL.TimeToStart = uint32(tts)
	}

	log.WithFields(log.Fields{
		"mc_group_id":   pl.McGroupID,
		"start":         mg.ClassC.Start,
		"end":           mg.ClassC.End,
		"frequency":     pl.DLFrequency,
		"dr":            pl.DR,
		"time_to_start": ansPL.TimeToStart,
		"ctx_id":        ctx.Value(logging.ContextIDKey),
	}).Info("multicast: class-c session setup")

	return ans, nil
}
