package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

const (
	devNonceKeyTempl      = "%slora:ed:%s:dev_nonce"
	deviceSessionKeyTempl = "%slora:ed:%s:session"
)

// RedisStore implements a Redis based Store.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new RedisStore. A ttl of 0 means that the
// device-session does not expire.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// NextDevNonce returns the next DevNonce.
func (s *RedisStore) NextDevNonce(ctx context.Context, devEUI lorawan.EUI64) (lorawan.DevNonce, error) {
	key := GetRedisKey(devNonceKeyTempl, s.prefix, devEUI)

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "incr error")
	}

	// INCR starts at 1
	n--
	if n > 0xffff {
		return 0, ErrDevNonceExhausted
	}

	log.WithFields(log.Fields{
		"dev_eui":   devEUI,
		"dev_nonce": n,
		"ctx_id":    ctx.Value(logging.ContextIDKey),
	}).Debug("storage: dev-nonce allocated")

	return lorawan.DevNonce(n), nil
}

// SaveDeviceSession saves the device-session.
func (s *RedisStore) SaveDeviceSession(ctx context.Context, ds DeviceSession) error {
	b, err := json.Marshal(ds)
	if err != nil {
		return errors.Wrap(err, "marshal device-session error")
	}

	key := GetRedisKey(deviceSessionKeyTempl, s.prefix, ds.DevEUI)
	if err := s.client.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set error")
	}

	log.WithFields(log.Fields{
		"dev_eui":    ds.DevEUI,
		"dev_addr":   ds.DevAddr,
		"f_cnt_up":   ds.FCntUp,
		"f_cnt_down": ds.FCntDown,
		"ctx_id":     ctx.Value(logging.ContextIDKey),
	}).Debug("storage: device-session saved")

	return nil
}

// GetDeviceSession returns the device-session.
func (s *RedisStore) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (DeviceSession, error) {
	var ds DeviceSession
	key := GetRedisKey(deviceSessionKeyTempl, s.prefix, devEUI)

	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ds, ErrDoesNotExist
		}
		return ds, errors.Wrap(err, "get error")
	}

	if err := json.Unmarshal(b, &ds); err != nil {
		return ds, errors.Wrap(err, "unmarshal device-session error")
	}
	return ds, nil
}

// DeleteDeviceSession deletes the device-session.
func (s *RedisStore) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	key := GetRedisKey(deviceSessionKeyTempl, s.prefix, devEUI)

	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "delete error")
	}
	if n == 0 {
		return ErrDoesNotExist
	}

	log.WithFields(log.Fields{
		"dev_eui": devEUI,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("storage: device-session deleted")

	return nil
}
