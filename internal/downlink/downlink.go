// Package downlink holds the application downlinks received by the
// end-device.
package downlink

import (
	"sync"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// Quality holds the reception quality of a downlink.
type Quality struct {
	RSSI int
	SNR  float64
}

// Downlink defines a received application downlink.
type Downlink struct {
	FPort   uint8
	Payload []byte

	// FCnt holds the full (32 bit) frame-counter of the downlink.
	FCnt uint32

	// Multicast is set when the downlink was received through a multicast
	// group, in which case McAddr holds the address of the group.
	Multicast bool
	McAddr    lorawan.DevAddr

	// ACK is set when the downlink acknowledged the last confirmed uplink.
	ACK bool

	Quality Quality
}

// Slot holds at most one unconsumed downlink. A new downlink replaces the
// previous one.
type Slot struct {
	mu sync.Mutex
	dl *Downlink
}

// Put stores the given downlink. It returns true when an unconsumed
// downlink was overwritten.
func (s *Slot) Put(dl Downlink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	overwritten := s.dl != nil
	s.dl = &dl
	return overwritten
}

// Take returns and removes the stored downlink. It returns false when the
// slot is empty.
func (s *Slot) Take() (Downlink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dl == nil {
		return Downlink{}, false
	}

	dl := *s.dl
	s.dl = nil
	return dl, true
}

// Pending returns true when the slot holds an unconsumed downlink.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dl != nil
}
