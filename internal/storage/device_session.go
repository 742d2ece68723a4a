package storage

import (
	"time"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// MaxMulticastGroups defines the default max. number of multicast groups
// (the McGroupID field is 2 bits).
const MaxMulticastGroups = 4

// DeviceSession defines an activated (OTAA or ABP) session.
type DeviceSession struct {
	DevEUI  lorawan.EUI64     `json:"dev_eui"`
	DevAddr lorawan.DevAddr   `json:"dev_addr"`
	NwkSKey lorawan.AES128Key `json:"nwk_s_key"`
	AppSKey lorawan.AES128Key `json:"app_s_key"`

	// FCntUp holds the frame-counter of the next uplink.
	FCntUp uint32 `json:"f_cnt_up"`

	// FCntDown holds the next expected downlink frame-counter.
	FCntDown uint32 `json:"f_cnt_down"`

	// RX1DROffset, RX2Frequency and RX2DataRate hold the receive window
	// parameters of the join-accept or the last accepted RXParamSetupReq.
	// An RX2Frequency of 0 means that the band defaults are used.
	RX1DROffset  int    `json:"rx1_dr_offset"`
	RX2Frequency uint32 `json:"rx2_frequency"`
	RX2DataRate  int    `json:"rx2_dr"`

	// RXDelay holds the RX1 delay in seconds (0 = 1 second) of the
	// join-accept or the last RXTimingSetupReq.
	RXDelay uint8 `json:"rx_delay"`

	// MaxDutyCycle holds the aggregated duty-cycle requested by the
	// network (DutyCycleReq): 1 / 2^MaxDutyCycle.
	MaxDutyCycle uint8 `json:"max_duty_cycle"`

	// LinkCheck holds the result of the last LinkCheckReq.
	LinkCheck *LinkCheck `json:"link_check,omitempty"`

	MulticastGroups MulticastGroups `json:"multicast_groups"`
}

// LinkCheck holds the result of a LinkCheckReq.
type LinkCheck struct {
	Margin uint8 `json:"margin"`
	GwCnt  uint8 `json:"gw_cnt"`
}

// ValidFCntDown returns true when the given (full) downlink frame-counter
// is within [FCntDown, FCntDown + maxGap).
func (s DeviceSession) ValidFCntDown(fCnt, maxGap uint32) bool {
	return fCnt >= s.FCntDown && fCnt-s.FCntDown < maxGap
}

// SessionKeys returns the session keys.
func (s DeviceSession) SessionKeys() lorawan.SessionKeys {
	return lorawan.SessionKeys{
		DevAddr: s.DevAddr,
		NwkSKey: s.NwkSKey,
		AppSKey: s.AppSKey,
	}
}

// Clone returns a deep copy of the device-session.
func (s DeviceSession) Clone() DeviceSession {
	out := s
	if s.LinkCheck != nil {
		lc := *s.LinkCheck
		out.LinkCheck = &lc
	}
	out.MulticastGroups = nil
	for _, mg := range s.MulticastGroups {
		if mg.ClassC != nil {
			cc := *mg.ClassC
			mg.ClassC = &cc
		}
		out.MulticastGroups = append(out.MulticastGroups, mg)
	}
	return out
}

// MulticastGroup defines a multicast group and its session.
type MulticastGroup struct {
	McGroupID uint8             `json:"mc_group_id"`
	McAddr    lorawan.DevAddr   `json:"mc_addr"`
	McAppSKey lorawan.AES128Key `json:"mc_app_s_key"`
	McNetSKey lorawan.AES128Key `json:"mc_net_s_key"`

	// FCnt holds the next expected frame-counter.
	FCnt uint32 `json:"f_cnt"`

	// MaxFCnt holds the (exclusive) frame-counter at which the group
	// session ends.
	MaxFCnt uint32 `json:"max_f_cnt"`

	ClassC *ClassCSession `json:"class_c,omitempty"`
}

// ClassCSession defines a Class-C multicast session.
type ClassCSession struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Frequency uint32    `json:"frequency"`
	DataRate  int       `json:"data_rate"`
}

// Active returns true when the session is active at the given time.
func (s ClassCSession) Active(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// ValidFCnt returns true when the given (full) frame-counter is within the
// lifetime [FCnt, MaxFCnt) of the group and within [FCnt, FCnt + maxGap).
func (g MulticastGroup) ValidFCnt(fCnt, maxGap uint32) bool {
	return fCnt >= g.FCnt && fCnt < g.MaxFCnt && fCnt-g.FCnt < maxGap
}

// MulticastGroups holds the multicast groups of a device-session.
type MulticastGroups []MulticastGroup

// Set creates or replaces the group with the same McGroupID. It returns
// ErrMaxGroups when a new group would exceed max groups.
func (g *MulticastGroups) Set(mg MulticastGroup, max int) error {
	for i := range *g {
		if (*g)[i].McGroupID == mg.McGroupID {
			(*g)[i] = mg
			return nil
		}
	}

	if len(*g) >= max {
		return ErrMaxGroups
	}
	*g = append(*g, mg)
	return nil
}

// Delete removes the group with the given ID. It returns false when the
// group does not exist.
func (g *MulticastGroups) Delete(id uint8) bool {
	for i := range *g {
		if (*g)[i].McGroupID == id {
			*g = append((*g)[:i], (*g)[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the group with the given ID.
func (g MulticastGroups) Get(id uint8) (MulticastGroup, bool) {
	for _, mg := range g {
		if mg.McGroupID == id {
			return mg, true
		}
	}
	return MulticastGroup{}, false
}

// ByMcAddr returns the group matching the given McAddr or nil.
func (g MulticastGroups) ByMcAddr(addr lorawan.DevAddr) *MulticastGroup {
	for i := range g {
		if g[i].McAddr == addr {
			return &g[i]
		}
	}
	return nil
}
