package types

import "github.com/pkg/errors"

var (
	ErrValidation = errors.New("validation failed")
)
