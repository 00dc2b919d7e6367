package config

import (
	"strings"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"

	"schoolchat/internal/moderation"
)

const minSecretLength = 32

// Validate checks cross-field rules the struct tags cannot express.
func (c *Config) Validate() error {
	// Port 0 binds any free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.Errorf("http.port must be between 0 and 65535 (got %d)", c.HTTP.Port)
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("http timeouts must be positive")
	}

	if err := c.Database.Validate(); err != nil {
		return errors.Wrap(err, "database")
	}

	if err := c.WebSocket.validate(); err != nil {
		return errors.Wrap(err, "websocket")
	}

	if strings.TrimSpace(c.Moderation.Endpoint) == "" {
		return errors.New("moderation.endpoint is required")
	}
	if c.Moderation.Timeout <= 0 {
		return errors.New("moderation.timeout must be positive")
	}
	if _, err := moderation.ParsePolicy(c.Moderation.SocketPolicy); err != nil {
		return errors.Wrap(err, "moderation.socket_policy")
	}
	if _, err := moderation.ParsePolicy(c.Moderation.RESTPolicy); err != nil {
		return errors.Wrap(err, "moderation.rest_policy")
	}

	switch c.Notifications.Backend {
	case BackendMemory:
		if c.Notifications.Workers <= 0 || c.Notifications.QueueSize <= 0 {
			return errors.New("notifications.workers and notifications.queue_size must be positive")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis notification backend")
		}
	default:
		return errors.Errorf("notifications.backend must be memory or redis (got %q)", c.Notifications.Backend)
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case BackendMemory:
			if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
				return errors.New("rate_limit.rps and rate_limit.burst must be positive")
			}
		case BackendRedis:
			if c.Redis.Addr == "" {
				return errors.New("redis.addr is required for the redis rate limiter")
			}
			if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
				return errors.New("rate_limit.limit and rate_limit.window must be positive")
			}
		default:
			return errors.Errorf("rate_limit.backend must be memory or redis (got %q)", c.RateLimit.Backend)
		}
	}

	if len(c.Auth.JWTSecret) < minSecretLength {
		return errors.Errorf("auth.jwt_secret must be at least %d characters (got %d)", minSecretLength, len(c.Auth.JWTSecret))
	}

	if c.Retention.Enabled {
		if !gronx.IsValid(c.Retention.Cron) {
			return errors.Errorf("retention.cron %q is not a valid cron expression", c.Retention.Cron)
		}
		if c.Retention.MaxAge <= 0 {
			return errors.New("retention.max_age must be positive")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log.level must be debug, info, warn or error (got %q)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return errors.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}

func (w *WebSocketConfig) validate() error {
	if !strings.HasPrefix(w.Path, "/") {
		return errors.Errorf("path must start with / (got %q)", w.Path)
	}
	if w.PingInterval <= 0 || w.ReadTimeout <= 0 || w.WriteTimeout <= 0 || w.EventTimeout <= 0 {
		return errors.New("intervals and timeouts must be positive")
	}
	if w.PingInterval >= w.ReadTimeout {
		return errors.New("ping_interval must be shorter than read_timeout")
	}
	if w.SendBuffer <= 0 || w.MaxMessageSize <= 0 {
		return errors.New("send_buffer and max_message_size must be positive")
	}
	return nil
}
