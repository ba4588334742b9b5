package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation          = "23505"
	pgTooManyConnections       = "53300"
	pgCannotConnectNow         = "57P03"
	pgConnectionExceptionClass = "08"
)

// isDuplicate reports a unique constraint violation.
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// isUnavailable reports errors a caller can retry later: pool exhaustion,
// connection failures and timeouts.
func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgTooManyConnections, pgErr.Code == pgCannotConnectNow:
			return true
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == pgConnectionExceptionClass:
			return true
		}
	}
	return false
}

// wrap maps driver errors onto the package sentinels.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case isDuplicate(err):
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
