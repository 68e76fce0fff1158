package changestore

import "errors"

var (
	// ErrNotFound is returned when no change or tag file exists under the
	// requested hash or merkle.
	ErrNotFound = errors.New("changestore: not found")
	// ErrIo wraps an underlying filesystem failure.
	ErrIo = errors.New("changestore: i/o error")
)
