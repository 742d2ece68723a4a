package storage

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// errors
var (
	ErrAlreadyExists     = errors.New("object already exists")
	ErrDoesNotExist      = errors.New("object does not exist")
	ErrMaxGroups         = errors.New("max number of multicast groups reached")
	ErrDevNonceExhausted = errors.New("all DevNonce values have been used")
)

func handleSQLError(err error, description string) error {
	if err == sql.ErrNoRows {
		return ErrDoesNotExist
	}

	switch err := err.(type) {
	case *pq.Error:
		switch err.Code.Name() {
		case "unique_violation":
			return ErrAlreadyExists
		}
	case sqlite3.Error:
		switch err.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrAlreadyExists
		}
	}

	return errors.Wrap(err, description)
}
