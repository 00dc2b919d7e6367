package interfaces

import "github.com/pkg/errors"

// Common errors shared across store, router and API layers.
var (
	ErrNotFound     = errors.New("record not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrForbidden    = errors.New("forbidden")
)
