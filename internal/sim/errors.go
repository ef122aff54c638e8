package sim

import "errors"

var (
	// ErrEmptyInput is returned by Act for blank input. Nothing is read,
	// sent or written.
	ErrEmptyInput = errors.New("input is required")

	// ErrNoCredential is returned when no provider API key is configured.
	ErrNoCredential = errors.New("no API key configured")
)
