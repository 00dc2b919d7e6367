// Package ratelimit throttles message sends per user or client address.
package ratelimit

import "context"

// Limiter reports whether key may proceed now.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Unlimited allows everything; used when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) bool { return true }
