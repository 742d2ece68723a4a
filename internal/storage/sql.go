package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/logging"
	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// SQLStore implements a PostgreSQL / SQLite based Store.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a new SQLStore. The schema must have been migrated,
// see Migrate.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type deviceSessionRow struct {
	DevEUI          lorawan.EUI64     `db:"dev_eui"`
	DevAddr         lorawan.DevAddr   `db:"dev_addr"`
	NwkSKey         lorawan.AES128Key `db:"nwk_s_key"`
	AppSKey         lorawan.AES128Key `db:"app_s_key"`
	FCntUp          int64             `db:"f_cnt_up"`
	FCntDown        int64             `db:"f_cnt_down"`
	RX1DROffset     int               `db:"rx1_dr_offset"`
	RX2Frequency    int64             `db:"rx2_frequency"`
	RX2DataRate     int               `db:"rx2_dr"`
	RXDelay         int               `db:"rx_delay"`
	MaxDutyCycle    int               `db:"max_duty_cycle"`
	LinkCheck       sql.NullString    `db:"link_check"`
	MulticastGroups string            `db:"multicast_groups"`
}

// NextDevNonce returns the next DevNonce.
func (s *SQLStore) NextDevNonce(ctx context.Context, devEUI lorawan.EUI64) (lorawan.DevNonce, error) {
	var n int

	err := Transaction(s.db, func(tx *sqlx.Tx) error {
		err := sqlx.GetContext(ctx, tx, &n, tx.Rebind(`
			update dev_nonce
			set
				dev_nonce = dev_nonce + 1
			where
				dev_eui = ?
			returning dev_nonce`),
			devEUI[:],
		)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return handleSQLError(err, "update error")
		}

		n = 0
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			insert into dev_nonce (
				dev_eui,
				dev_nonce
			) values (?, ?)`),
			devEUI[:],
			n,
		)
		if err != nil {
			return handleSQLError(err, "insert error")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

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
func (s *SQLStore) SaveDeviceSession(ctx context.Context, ds DeviceSession) error {
	mgB, err := json.Marshal(ds.MulticastGroups)
	if err != nil {
		return errors.Wrap(err, "marshal multicast-groups error")
	}

	var linkCheck sql.NullString
	if ds.LinkCheck != nil {
		b, err := json.Marshal(ds.LinkCheck)
		if err != nil {
			return errors.Wrap(err, "marshal link-check error")
		}
		linkCheck = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		insert into device_session (
			dev_eui,
			dev_addr,
			nwk_s_key,
			app_s_key,
			f_cnt_up,
			f_cnt_down,
			rx1_dr_offset,
			rx2_frequency,
			rx2_dr,
			rx_delay,
			max_duty_cycle,
			link_check,
			multicast_groups,
			updated_at
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (dev_eui) do update
		set
			dev_addr = excluded.dev_addr,
			nwk_s_key = excluded.nwk_s_key,
			app_s_key = excluded.app_s_key,
			f_cnt_up = excluded.f_cnt_up,
			f_cnt_down = excluded.f_cnt_down,
			rx1_dr_offset = excluded.rx1_dr_offset,
			rx2_frequency = excluded.rx2_frequency,
			rx2_dr = excluded.rx2_dr,
			rx_delay = excluded.rx_delay,
			max_duty_cycle = excluded.max_duty_cycle,
			link_check = excluded.link_check,
			multicast_groups = excluded.multicast_groups,
			updated_at = excluded.updated_at`),
		ds.DevEUI[:],
		ds.DevAddr[:],
		ds.NwkSKey[:],
		ds.AppSKey[:],
		int64(ds.FCntUp),
		int64(ds.FCntDown),
		ds.RX1DROffset,
		int64(ds.RX2Frequency),
		ds.RX2DataRate,
		int(ds.RXDelay),
		int(ds.MaxDutyCycle),
		linkCheck,
		string(mgB),
		time.Now().UTC(),
	)
	if err != nil {
		return handleSQLError(err, "insert error")
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
func (s *SQLStore) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (DeviceSession, error) {
	var row deviceSessionRow
	err := sqlx.GetContext(ctx, s.db, &row, s.db.Rebind(`
		select
			dev_eui,
			dev_addr,
			nwk_s_key,
			app_s_key,
			f_cnt_up,
			f_cnt_down,
			rx1_dr_offset,
			rx2_frequency,
			rx2_dr,
			rx_delay,
			max_duty_cycle,
			link_check,
			multicast_groups
		from
			device_session
		where
			dev_eui = ?`),
		devEUI[:],
	)
	if err != nil {
		return DeviceSession{}, handleSQLError(err, "select error")
	}

	ds := DeviceSession{
		DevEUI:       row.DevEUI,
		DevAddr:      row.DevAddr,
		NwkSKey:      row.NwkSKey,
		AppSKey:      row.AppSKey,
		FCntUp:       uint32(row.FCntUp),
		FCntDown:     uint32(row.FCntDown),
		RX1DROffset:  row.RX1DROffset,
		RX2Frequency: uint32(row.RX2Frequency),
		RX2DataRate:  row.RX2DataRate,
		RXDelay:      uint8(row.RXDelay),
		MaxDutyCycle: uint8(row.MaxDutyCycle),
	}

	if row.LinkCheck.Valid {
		ds.LinkCheck = &LinkCheck{}
		if err := json.Unmarshal([]byte(row.LinkCheck.String), ds.LinkCheck); err != nil {
			return ds, errors.Wrap(err, "unmarshal link-check error")
		}
	}

	if err := json.Unmarshal([]byte(row.MulticastGroups), &ds.MulticastGroups); err != nil {
		return ds, errors.Wrap(err, "unmarshal multicast-groups error")
	}

	return ds, nil
}

// DeleteDeviceSession deletes the device-session.
func (s *SQLStore) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("delete from device_session where dev_eui = ?"), devEUI[:])
	if err != nil {
		return handleSQLError(err, "delete error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return ErrDoesNotExist
	}

	log.WithFields(log.Fields{
		"dev_eui": devEUI,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("storage: device-session deleted")

	return nil
}
