package moderation

import "github.com/pkg/errors"

var (
	ErrServiceUnavailable = errors.New("sentiment service unavailable")
	ErrUnknownPolicy      = errors.New("unknown moderation policy")
)

// Client-visible rejection reasons.
const (
	ReasonServiceFailed = "Sentiment analysis service failed"
	ReasonNegative      = "Message contains negative sentiment and cannot be sent."
)
