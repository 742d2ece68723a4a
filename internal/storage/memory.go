package storage

import (
	"context"
	"sync"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// MemoryStore implements an in-memory Store. State is lost on restart.
type MemoryStore struct {
	sync.Mutex

	devNonces map[lorawan.EUI64]int
	sessions  map[lorawan.EUI64]DeviceSession
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devNonces: make(map[lorawan.EUI64]int),
		sessions:  make(map[lorawan.EUI64]DeviceSession),
	}
}

// NextDevNonce returns the next DevNonce.
func (s *MemoryStore) NextDevNonce(ctx context.Context, devEUI lorawan.EUI64) (lorawan.DevNonce, error) {
	s.Lock()
	defer s.Unlock()

	n, ok := s.devNonces[devEUI]
	if ok {
		n++
	}
	if n > 0xffff {
		return 0, ErrDevNonceExhausted
	}
	s.devNonces[devEUI] = n
	return lorawan.DevNonce(n), nil
}

// SaveDeviceSession saves the device-session.
func (s *MemoryStore) SaveDeviceSession(ctx context.Context, ds DeviceSession) error {
	s.Lock()
	defer s.Unlock()

	s.sessions[ds.DevEUI] = ds.Clone()
	return nil
}

// GetDeviceSession returns the device-session.
func (s *MemoryStore) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (DeviceSession, error) {
	s.Lock()
	defer s.Unlock()

	ds, ok := s.sessions[devEUI]
	if !ok {
		return DeviceSession{}, ErrDoesNotExist
	}
	return ds.Clone(), nil
}

// DeleteDeviceSession deletes the device-session.
func (s *MemoryStore) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.sessions[devEUI]; !ok {
		return ErrDoesNotExist
	}
	delete(s.sessions, devEUI)
	return nil
}
