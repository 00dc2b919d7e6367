package websocket

import "github.com/pkg/errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write queue timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrUnknownConnection = errors.New("connection is not registered")
	ErrEmptyUserID       = errors.New("user id cannot be empty")
)

// Handler-related errors
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrMalformedFrame       = errors.New("malformed frame")
)
