package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 5
	defaultBurst = 10
	pruneAbove   = 10000
	idleAfter    = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket pool local to this process.
type MemoryLimiter struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   float64
	burst int
	now   func() time.Time
}

func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	if rps <= 0 {
		rps = defaultRPS
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &MemoryLimiter{m: make(map[string]*limiterEntry), rps: rps, burst: burst, now: time.Now}
}

func (p *MemoryLimiter) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	if len(p.m) >= pruneAbove {
		p.pruneLocked(now)
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

func (p *MemoryLimiter) pruneLocked(now time.Time) {
	for k, e := range p.m {
		if now.Sub(e.lastSeen) > idleAfter {
			delete(p.m, k)
		}
	}
}

func (p *MemoryLimiter) Allow(_ context.Context, key string) bool {
	if key == "" {
		key = "unknown"
	}
	return p.get(key).Allow()
}

// Size returns the number of tracked keys.
func (p *MemoryLimiter) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
