// Package config loads service settings from YAML, environment variables and
// an optional .env file.
package config

import (
	"net"
	"strconv"
	"time"

	dbconfig "schoolchat/pkg/database"
)

// Config is the root application configuration.
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"          env-prefix:"SCHOOLCHAT_HTTP_"`
	Database      dbconfig.Config     `yaml:"database"      env-prefix:"SCHOOLCHAT_DATABASE_"`
	WebSocket     WebSocketConfig     `yaml:"websocket"     env-prefix:"SCHOOLCHAT_WEBSOCKET_"`
	Moderation    ModerationConfig    `yaml:"moderation"    env-prefix:"SCHOOLCHAT_MODERATION_"`
	Notifications NotificationsConfig `yaml:"notifications" env-prefix:"SCHOOLCHAT_NOTIFICATIONS_"`
	Redis         RedisConfig         `yaml:"redis"         env-prefix:"SCHOOLCHAT_REDIS_"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"    env-prefix:"SCHOOLCHAT_RATE_LIMIT_"`
	Auth          AuthConfig          `yaml:"auth"          env-prefix:"SCHOOLCHAT_AUTH_"`
	Audience      AudienceConfig      `yaml:"audience"      env-prefix:"SCHOOLCHAT_AUDIENCE_"`
	Retention     RetentionConfig     `yaml:"retention"     env-prefix:"SCHOOLCHAT_RETENTION_"`
	Log           LogConfig           `yaml:"log"           env-prefix:"SCHOOLCHAT_LOG_"`
	// SeedFile, when set, is upserted into the directory tables at startup.
	SeedFile string `yaml:"seed_file" env:"SCHOOLCHAT_SEED_FILE"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host"             env:"HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	CORSOrigins     []string      `yaml:"cors_origins"     env:"CORS_ORIGINS"     env-default:"*"`
	RequestLogs     bool          `yaml:"request_logs"     env:"REQUEST_LOGS"     env-default:"true"`
}

type WebSocketConfig struct {
	Path             string        `yaml:"path"              env:"PATH"              env-default:"/ws"`
	PingInterval     time.Duration `yaml:"ping_interval"     env:"PING_INTERVAL"     env-default:"30s"`
	ReadTimeout      time.Duration `yaml:"read_timeout"      env:"READ_TIMEOUT"      env-default:"60s"`
	WriteTimeout     time.Duration `yaml:"write_timeout"     env:"WRITE_TIMEOUT"     env-default:"5s"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT" env-default:"10s"`
	EventTimeout     time.Duration `yaml:"event_timeout"     env:"EVENT_TIMEOUT"     env-default:"15s"`
	SendBuffer       int           `yaml:"send_buffer"       env:"SEND_BUFFER"       env-default:"100"`
	MaxMessageSize   int64         `yaml:"max_message_size"  env:"MAX_MESSAGE_SIZE"  env-default:"1048576"`
	RequireToken     bool          `yaml:"require_token"     env:"REQUIRE_TOKEN"     env-default:"false"`
	AllowedOrigins   []string      `yaml:"allowed_origins"   env:"ALLOWED_ORIGINS"`
}

type ModerationConfig struct {
	Endpoint     string        `yaml:"endpoint"      env:"ENDPOINT"      env-default:"https://sentiment-analysis-m66p.onrender.com/api/v1/data"`
	Timeout      time.Duration `yaml:"timeout"       env:"TIMEOUT"       env-default:"8s"`
	SocketPolicy string        `yaml:"socket_policy" env:"SOCKET_POLICY" env-default:"fail_closed"`
	RESTPolicy   string        `yaml:"rest_policy"   env:"REST_POLICY"   env-default:"fail_open"`
}

// Notification backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type NotificationsConfig struct {
	Backend      string        `yaml:"backend"       env:"BACKEND"       env-default:"memory"`
	Workers      int           `yaml:"workers"       env:"WORKERS"       env-default:"4"`
	QueueSize    int           `yaml:"queue_size"    env:"QUEUE_SIZE"    env-default:"1000"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" env-default:"5s"`
	Stream       string        `yaml:"stream"        env:"STREAM"        env-default:"schoolchat:notifications"`
	Group        string        `yaml:"group"         env:"GROUP"         env-default:"notifications"`
	Consumer     string        `yaml:"consumer"      env:"CONSUMER"`
	Block        time.Duration `yaml:"block"         env:"BLOCK"         env-default:"5s"`
	ClaimIdle    time.Duration `yaml:"claim_idle"    env:"CLAIM_IDLE"    env-default:"30s"`
	MaxRetries   int           `yaml:"max_retries"   env:"MAX_RETRIES"   env-default:"3"`
	// RunWorker consumes the Redis stream in this process. Turn it off when a
	// separate worker is deployed.
	RunWorker bool `yaml:"run_worker" env:"RUN_WORKER" env-default:"true"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"     env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db"       env:"DB"       env-default:"0"`
}

type RateLimitConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED" env-default:"true"`
	Backend string `yaml:"backend" env:"BACKEND" env-default:"memory"`
	// Memory backend: token bucket per key.
	RPS   float64 `yaml:"rps"   env:"RPS"   env-default:"5"`
	Burst int     `yaml:"burst" env:"BURST" env-default:"10"`
	// Redis backend: fixed window per key.
	Limit    int           `yaml:"limit"     env:"LIMIT"     env-default:"60"`
	Window   time.Duration `yaml:"window"    env:"WINDOW"    env-default:"1m"`
	FailOpen bool          `yaml:"fail_open" env:"FAIL_OPEN" env-default:"false"`
	// HTTP applies per client address to every REST request.
	HTTPRPS   float64 `yaml:"http_rps"   env:"HTTP_RPS"   env-default:"20"`
	HTTPBurst int     `yaml:"http_burst" env:"HTTP_BURST" env-default:"40"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
}

type AudienceConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" env-default:"30s"`
}

type RetentionConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED" env-default:"true"`
	Cron    string        `yaml:"cron"    env:"CRON"    env-default:"0 3 * * *"`
	MaxAge  time.Duration `yaml:"max_age" env:"MAX_AGE" env-default:"720h"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"FORMAT" env-default:"json"`
}

// Address is host:port for the HTTP listener.
func (h HTTPConfig) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}
