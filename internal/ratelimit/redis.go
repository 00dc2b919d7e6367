package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisLimiter counts requests per key in fixed windows shared through Redis.
type RedisLimiter struct {
	limit    int
	window   time.Duration
	client   redis.UniversalClient
	prefix   string
	failOpen bool
	logger   *slog.Logger
}

// NewRedisLimiter wraps an existing client. Redis errors deny the request
// unless failOpen is set.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration, failOpen bool, logger *slog.Logger) (*RedisLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "schoolchat:ratelimit"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		limit:    limit,
		window:   window,
		client:   client,
		prefix:   prefix,
		failOpen: failOpen,
		logger:   logger.With("component", "ratelimit"),
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		l.logger.Warn("rate_limit_check_failed", "key", key, "error", err)
		return l.failOpen
	}
	return count <= int64(l.limit)
}
