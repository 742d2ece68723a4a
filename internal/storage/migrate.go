package storage

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// Migrate applies the schema migrations for the given driver. The
// given database is not closed.
func Migrate(db *sqlx.DB, driver string) error {
	log.WithField("driver", driver).Info("storage: applying schema migrations")

	src, err := iofs.New(migrations, "migrations/"+driver)
	if err != nil {
		return errors.Wrap(err, "storage: migration source error")
	}

	var dbDriver database.Driver
	switch driver {
	case "postgres":
		dbDriver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case "sqlite3":
		dbDriver, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	default:
		return fmt.Errorf("storage: unsupported sql driver: %s", driver)
	}
	if err != nil {
		return errors.Wrap(err, "storage: migration driver error")
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDriver)
	if err != nil {
		return errors.Wrap(err, "storage: new migrate instance error")
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "storage: apply migrations error")
	}

	v, _, _ := m.Version()
	log.WithField("version", v).Info("storage: schema migrations applied")

	return nil
}
