package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
)

// ErrNotFound indicates a missing or unauthorized resource lookup.
var ErrNotFound = apperr.ErrNotFound

// ErrConflict indicates a row violating a uniqueness constraint.
var ErrConflict = apperr.ErrConflict

const uniqueViolation = "23505"

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}
