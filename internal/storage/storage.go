// Package storage implements the persistence of the device-session and
// the DevNonce counter.
package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/config"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// Store defines the storage backend interface.
type Store interface {
	// NextDevNonce returns the next DevNonce for the given DevEUI. A
	// returned DevNonce is never returned again.
	NextDevNonce(ctx context.Context, devEUI lorawan.EUI64) (lorawan.DevNonce, error)

	// SaveDeviceSession creates or updates the device-session.
	SaveDeviceSession(ctx context.Context, ds DeviceSession) error

	// GetDeviceSession returns the device-session for the given DevEUI.
	GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (DeviceSession, error)

	// DeleteDeviceSession deletes the device-session for the given DevEUI.
	DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error
}

// Setup returns the storage backend for the given configuration.
func Setup(c config.Config) (Store, error) {
	log.WithField("type", c.Storage.Type).Info("storage: setting up storage backend")

	switch c.Storage.Type {
	case "memory":
		log.Warning("storage: the dev-nonce counter and device-session are not persisted, a restart re-uses dev-nonces")
		return NewMemoryStore(), nil
	case "redis":
		opt, err := redis.ParseURL(c.Storage.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url error")
		}
		return NewRedisStore(redis.NewClient(opt), c.Storage.Redis.KeyPrefix, c.Storage.Redis.TTL), nil
	case "sql":
		log.WithField("driver", c.Storage.SQL.Driver).Info("storage: connecting to database")
		db, err := sqlx.Open(c.Storage.SQL.Driver, c.Storage.SQL.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "storage: database connection error")
		}
		if c.Storage.SQL.Driver == "sqlite3" {
			db.SetMaxOpenConns(1)
		}
		if err := db.Ping(); err != nil {
			return nil, errors.Wrap(err, "storage: ping database error")
		}

		if c.Storage.SQL.Automigrate {
			if err := Migrate(db, c.Storage.SQL.Driver); err != nil {
				return nil, err
			}
		}

		return NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("storage: unknown storage type: %s", c.Storage.Type)
	}
}

// Transaction wraps the given function in a transaction. In case the given
// functions returns an error, the transaction will be rolled back.
func Transaction(db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return errors.Wrap(err, "storage: begin transaction error")
	}

	err = f(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(rbErr, "storage: transaction rollback error")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "storage: transaction commit error")
	}
	return nil
}

// GetRedisKey returns the Redis key given a template and parameters.
func GetRedisKey(tmpl string, params ...interface{}) string {
	return fmt.Sprintf(tmpl, params...)
}
