// Package api is the REST boundary. Writes go through the same router and
// moderation gate as socket events.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"schoolchat/internal/auth"
	"schoolchat/internal/metrics"
	"schoolchat/internal/ratelimit"
	"schoolchat/internal/router"
	"schoolchat/internal/websocket"
	"schoolchat/pkg/interfaces"
)

const healthTimeout = 5 * time.Second

// Store is what the REST layer reads directly. Messages go through the router.
type Store interface {
	interfaces.NotificationStore
	HealthCheck(ctx context.Context) error
}

// Presence reports connection counts for /health.
type Presence interface {
	Stats() websocket.Stats
}

type Options struct {
	Router   *router.Router
	Store    Store
	Presence Presence
	Verifier *auth.Verifier
	// Socket is mounted at SocketPath when set.
	Socket     http.Handler
	SocketPath string
	// Limiter throttles /api/v1 per client IP. Nil disables it.
	Limiter        ratelimit.Limiter
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	CORSOrigins    []string
	DisableReqLogs bool
	Debug          bool
}

type Server struct {
	opts    Options
	app     *echo.Echo
	logger  *slog.Logger
	started time.Time
}

var _ http.Handler = (*Server)(nil)

func NewServer(opts Options) (*Server, error) {
	if opts.Router == nil {
		return nil, errors.New("api server requires a router")
	}
	if opts.Store == nil {
		return nil, errors.New("api server requires a store")
	}
	if opts.Verifier == nil {
		return nil, errors.New("api server requires a token verifier")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:    opts,
		app:     echo.New(),
		logger:  logger.With("component", "api"),
		started: time.Now(),
	}
	s.setup()
	return s, nil
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = s.opts.Debug
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.logger)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(requestLogger(s.logger))
	}
	s.app.Use(middleware.Recover())
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s.app.GET("/health", s.health)
	s.app.GET("/metrics", echo.WrapHandler(s.opts.Metrics.Handler()))
	if s.opts.Socket != nil {
		path := s.opts.SocketPath
		if path == "" {
			path = "/ws"
		}
		s.app.GET(path, echo.WrapHandler(s.opts.Socket))
	}

	v1 := s.app.Group("/api/v1")
	if s.opts.Limiter != nil {
		v1.Use(rateLimit(s.opts.Limiter, s.opts.Metrics))
	}
	jwt := auth.Middleware(s.opts.Verifier)

	registerMessageAPI(v1, jwt, s.opts.Router)
	registerSectionAPI(v1, jwt, s.opts.Router)
	registerGradeLevelAPI(v1, jwt, s.opts.Router)
	registerNotificationAPI(v1, jwt, s.opts.Store)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Database    string          `json:"database"`
	Connections websocket.Stats `json:"connections"`
	System      SystemInfo      `json:"system"`
}

type SystemInfo struct {
	Goroutines int    `json:"goroutines"`
	Uptime     string `json:"uptime"`
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		System: SystemInfo{
			Goroutines: runtime.NumGoroutine(),
			Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		},
	}
	if s.opts.Presence != nil {
		resp.Connections = s.opts.Presence.Stats()
	}
	code := http.StatusOK
	if err := s.opts.Store.HealthCheck(ctx); err != nil {
		s.logger.Warn("health_check_failed", "error", err)
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
