package store

import (
	"errors"

	"zombiezen.com/go/sqlite"
)

var (
	// ErrUnavailable is returned when the storage layer cannot be reached
	// (pool closed, file I/O failure, connection take failure).
	ErrUnavailable = errors.New("storage unavailable")

	// ErrBusy is returned when a write could not acquire the database
	// lock within the configured busy timeout. Callers may retry with
	// backoff a bounded number of times.
	ErrBusy = errors.New("storage busy")
)

// IsRetryable reports whether err is a transient contention failure that
// the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// mapError converts a low-level SQLite error into the store's typed
// errors. Unique-constraint violations are left untouched so callers can
// map them to their own duplicate sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch sqlite.ErrCode(err) {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return errors.Join(ErrBusy, err)
	case sqlite.ResultIOErr, sqlite.ResultCantOpen, sqlite.ResultFull:
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	code := sqlite.ErrCode(err)
	return code == sqlite.ResultConstraintUnique || code == sqlite.ResultConstraintPrimaryKey
}
