package registry

import (
	"context"
	"errors"
	"io/fs"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned for an unknown model version id.
	ErrNotFound = errors.New("model version not found")
	// ErrNoCurrent is returned when no version has been promoted yet.
	ErrNoCurrent = errors.New("no current model version")
)

// PersistenceError reports a storage failure while saving or loading a version.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "failed to " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// transient reports whether err may succeed on retry.
func transient(err error) bool {
	var se sqlite3.Error
	switch {
	case errors.As(err, &se) && se.Code == sqlite3.ErrConstraint:
		return false
	case err == nil,
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, fs.ErrExist),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
