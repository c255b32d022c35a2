package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	// A call that fails validation writes nothing.
	ErrInvalidInput = errors.New("invalid input")
)
