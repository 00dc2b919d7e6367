// Package app wires the chat service together and runs its lifecycle.
package app

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"schoolchat/internal/api"
	"schoolchat/internal/audience"
	"schoolchat/internal/auth"
	"schoolchat/internal/config"
	"schoolchat/internal/database"
	"schoolchat/internal/metrics"
	"schoolchat/internal/moderation"
	"schoolchat/internal/notify"
	"schoolchat/internal/ratelimit"
	"schoolchat/internal/retention"
	"schoolchat/internal/router"
	"schoolchat/internal/websocket"
	"schoolchat/pkg/interfaces"
)

// Application owns every long-lived component of the service.
type Application struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *database.Manager
	metrics    *metrics.Metrics
	redis      *redis.Client
	registry   *websocket.Registry
	router     *router.Router
	dispatcher *notify.Dispatcher
	queue      *notify.RedisQueue
	purger     *retention.Purger
	httpServer *http.Server

	ready     chan struct{}
	addr      string
	addrMu    sync.RWMutex
	closeOnce sync.Once
}

// NewApplication opens the store, applies migrations and builds the
// component graph. Nothing listens until Run.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Application{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		ready:   make(chan struct{}),
	}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) init() error {
	ctx := context.Background()
	cfg := a.cfg

	store, err := database.NewManager(&cfg.Database, a.logger)
	if err != nil {
		return errors.Wrap(err, "failed to initialize database manager")
	}
	a.store = store
	if err := store.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to apply database migrations")
	}
	if cfg.SeedFile != "" {
		seed, err := database.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return errors.Wrap(err, "failed to load seed file")
		}
		if err := store.Seed(ctx, seed); err != nil {
			return errors.Wrap(err, "failed to seed directory")
		}
		a.logger.Info("directory_seeded", "file", cfg.SeedFile)
	}

	if a.needsRedis() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return errors.Wrapf(err, "failed to reach redis at %s", cfg.Redis.Addr)
		}
	}

	socketLimiter, err := a.newLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, "schoolchat:ratelimit:socket")
	if err != nil {
		return err
	}
	httpLimiter, err := a.newLimiter(cfg.RateLimit.HTTPRPS, cfg.RateLimit.HTTPBurst, "schoolchat:ratelimit:http")
	if err != nil {
		return err
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	gate, err := a.newGate()
	if err != nil {
		return err
	}

	a.registry = websocket.NewRegistry()
	a.router, err = router.New(router.Dependencies{
		Store:     store,
		Presence:  a.registry,
		Moderator: gate,
		Audience:  audience.NewResolver(store, cfg.Audience.CacheTTL, a.logger),
		Limiter:   socketLimiter,
		Notifier:  notifier,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build router")
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return errors.Wrap(err, "failed to build token verifier")
	}
	socket := websocket.NewHandler(a.registry, a.router, verifier, a.metrics, a.logger, websocket.Options{
		PingInterval:     cfg.WebSocket.PingInterval,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		EventTimeout:     cfg.WebSocket.EventTimeout,
		SendBuffer:       cfg.WebSocket.SendBuffer,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		RequireToken:     cfg.WebSocket.RequireToken,
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
	})

	apiServer, err := api.NewServer(api.Options{
		Router:         a.router,
		Store:          store,
		Presence:       a.registry,
		Verifier:       verifier,
		Socket:         socket,
		SocketPath:     cfg.WebSocket.Path,
		Limiter:        httpLimiter,
		Metrics:        a.metrics,
		Logger:         a.logger,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		DisableReqLogs: !cfg.HTTP.RequestLogs,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build api server")
	}

	if cfg.Retention.Enabled {
		a.purger, err = retention.New(store, retention.Options{
			Cron:   cfg.Retention.Cron,
			MaxAge: cfg.Retention.MaxAge,
		}, a.metrics, a.logger)
		if err != nil {
			return errors.Wrap(err, "failed to build retention job")
		}
	}

	a.httpServer = &http.Server{
		Addr:         cfg.HTTP.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return nil
}

func (a *Application) needsRedis() bool {
	rl := a.cfg.RateLimit
	return a.cfg.Notifications.Backend == config.BackendRedis ||
		(rl.Enabled && rl.Backend == config.BackendRedis)
}

// newLimiter builds one limiter for the configured backend. The Redis
// backend uses the shared fixed window; rps and burst apply to memory only.
func (a *Application) newLimiter(rps float64, burst int, prefix string) (ratelimit.Limiter, error) {
	rl := a.cfg.RateLimit
	if !rl.Enabled {
		return ratelimit.Unlimited{}, nil
	}
	if rl.Backend == config.BackendRedis {
		l, err := ratelimit.NewRedisLimiter(a.redis, prefix, rl.Limit, rl.Window, rl.FailOpen, a.logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build rate limiter")
		}
		return l, nil
	}
	return ratelimit.NewMemoryLimiter(rps, burst), nil
}

func (a *Application) newNotifier() (interfaces.Notifier, error) {
	nc := a.cfg.Notifications
	if nc.Backend == config.BackendRedis {
		q, err := notify.NewRedisQueue(a.redis, a.store, notify.RedisQueueOptions{
			Stream:       nc.Stream,
			Group:        nc.Group,
			Consumer:     nc.Consumer,
			Workers:      nc.Workers,
			Block:        nc.Block,
			ClaimIdle:    nc.ClaimIdle,
			MaxRetries:   nc.MaxRetries,
			WriteTimeout: nc.WriteTimeout,
		}, a.metrics, a.logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build notification queue")
		}
		a.queue = q
		return q, nil
	}
	a.dispatcher = notify.NewDispatcher(a.store, notify.DispatcherOptions{
		Workers:      nc.Workers,
		QueueSize:    nc.QueueSize,
		WriteTimeout: nc.WriteTimeout,
	}, a.metrics, a.logger)
	return a.dispatcher, nil
}

func (a *Application) newGate() (*moderation.Gate, error) {
	mc := a.cfg.Moderation
	socketPolicy, err := moderation.ParsePolicy(mc.SocketPolicy)
	if err != nil {
		return nil, errors.Wrap(err, "moderation.socket_policy")
	}
	restPolicy, err := moderation.ParsePolicy(mc.RESTPolicy)
	if err != nil {
		return nil, errors.Wrap(err, "moderation.rest_policy")
	}
	client := moderation.NewClient(mc.Endpoint, mc.Timeout)
	return moderation.NewGate(client, map[string]moderation.Policy{
		moderation.ChannelSocket: socketPolicy,
		moderation.ChannelREST:   restPolicy,
	}, a.metrics, a.logger), nil
}

// Run serves HTTP and the socket endpoint and runs the background workers
// until ctx is cancelled or one of them fails. Resources are released
// before it returns.
func (a *Application) Run(ctx context.Context) error {
	defer a.Close()

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", a.httpServer.Addr)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr().String()
	a.addrMu.Unlock()

	if a.dispatcher != nil {
		if err := a.dispatcher.Start(context.Background()); err != nil {
			_ = ln.Close()
			return errors.Wrap(err, "failed to start notification dispatcher")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http_listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdownHTTP()
	})
	if a.queue != nil && a.cfg.Notifications.RunWorker {
		g.Go(func() error {
			return errors.Wrap(a.queue.Run(gctx), "notification worker")
		})
	}
	if a.purger != nil {
		g.Go(func() error {
			return errors.Wrap(a.purger.Run(gctx), "retention job")
		})
	}
	close(a.ready)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("application_failed", "error", err)
		return err
	}
	return nil
}

func (a *Application) shutdownHTTP() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	a.logger.Info("http_shutting_down")
	err := a.httpServer.Shutdown(ctx)
	// Upgraded sockets are hijacked and not tracked by Shutdown.
	for _, conn := range a.registry.Connections() {
		_ = conn.Close()
	}
	return errors.Wrap(err, "http shutdown")
}

// Close releases resources in dependency order. It is safe to call more
// than once and on a partially built application.
func (a *Application) Close() {
	a.closeOnce.Do(func() {
		if a.dispatcher != nil {
			if err := a.dispatcher.Stop(); err != nil && !errors.Is(err, notify.ErrDispatcherNotRunning) {
				a.logger.Warn("dispatcher_stop_failed", "error", err)
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("redis_close_failed", "error", err)
			}
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.logger.Warn("database_close_failed", "error", err)
			}
		}
		a.logger.Info("application_stopped")
	})
}

// Ready is closed once Run is listening.
func (a *Application) Ready() <-chan struct{} {
	return a.ready
}

// Addr is the bound listen address once Ready is closed.
func (a *Application) Addr() string {
	a.addrMu.RLock()
	defer a.addrMu.RUnlock()
	return a.addr
}

// Store exposes the persistence adapter, mainly for tests and tooling.
func (a *Application) Store() *database.Manager {
	return a.store
}
