package storage

import "errors"

var (
	// ErrNotFound is returned when a catalog record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownBackend is returned by Open for an unregistered backend.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrPrecisionLoss and ErrOutOfRange report a decimal a column cannot hold.
	ErrPrecisionLoss = errors.New("would lose precision")
	ErrOutOfRange    = errors.New("out of range")
)
