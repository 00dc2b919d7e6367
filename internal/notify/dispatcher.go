package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"schoolchat/internal/metrics"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// DispatcherOptions sizes the in-process worker pool.
type DispatcherOptions struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{Workers: 4, QueueSize: 1000, WriteTimeout: defaultWriteLimit}
}

// Dispatcher queues notification requests on a bounded channel and persists
// them from a fixed set of workers. A full queue drops the request.
type Dispatcher struct {
	store   interfaces.NotificationStore
	opts    DispatcherOptions
	metrics *metrics.Metrics
	logger  *slog.Logger

	queue    chan types.NotificationRequest
	shutdown chan struct{}
	wg       sync.WaitGroup

	running bool
	mu      sync.RWMutex
}

func NewDispatcher(store interfaces.NotificationStore, opts DispatcherOptions, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	defaults := DefaultDispatcherOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		opts:     opts,
		metrics:  m,
		logger:   logger.With("component", "notify"),
		queue:    make(chan types.NotificationRequest, opts.QueueSize),
		shutdown: make(chan struct{}),
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrDispatcherAlreadyRunning
	}
	d.running = true

	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	d.logger.Info("dispatcher_started", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
	return nil
}

// Stop signals the workers, lets them drain what is already queued and waits.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDispatcherNotRunning
	}
	d.running = false
	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher_stopped")
	return nil
}

// Notify enqueues without blocking.
func (d *Dispatcher) Notify(_ context.Context, req types.NotificationRequest) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return ErrDispatcherNotRunning
	}
	select {
	case d.queue <- req:
		d.metrics.Notification("enqueued")
		return nil
	default:
		d.metrics.Notification("dropped")
		d.logger.Warn("notification_dropped", "user_id", req.TargetUserID, "topic", req.Topic)
		return ErrQueueFull
	}
}

// Pending reports how many requests are waiting for a worker.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case req := <-d.queue:
			d.deliver(req)
		case <-d.shutdown:
			d.drain()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.queue:
			d.deliver(req)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(req types.NotificationRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
	defer cancel()
	if err := persist(ctx, d.store, req); err != nil {
		d.metrics.Notification("failed")
		d.logger.Error("notification_failed", "user_id", req.TargetUserID, "error", err)
		return
	}
	d.metrics.Notification("delivered")
	d.logger.Debug("notification_created", "user_id", req.TargetUserID, "topic", req.Topic)
}
