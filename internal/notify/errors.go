package notify

import "github.com/pkg/errors"

var (
	ErrDispatcherAlreadyRunning = errors.New("dispatcher is already running")
	ErrDispatcherNotRunning     = errors.New("dispatcher is not running")
	ErrQueueFull                = errors.New("notification queue is full")
	ErrMissingTarget            = errors.New("notification target user is required")
)
