// Package retention deletes read notifications older than a configured age
// on a cron schedule.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"

	"schoolchat/internal/metrics"
	"schoolchat/pkg/interfaces"
)

var ErrInvalidCron = errors.New("invalid retention cron expression")

type Options struct {
	Cron   string
	MaxAge time.Duration
}

// Purger runs one purge per cron tick. Overlapping ticks are skipped.
type Purger struct {
	store   interfaces.NotificationStore
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

func New(store interfaces.NotificationStore, opts Options, m *metrics.Metrics, logger *slog.Logger) (*Purger, error) {
	if !gronx.IsValid(opts.Cron) {
		return nil, errors.Wrapf(ErrInvalidCron, "%q", opts.Cron)
	}
	if opts.MaxAge <= 0 {
		return nil, errors.New("retention max age must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{
		store:   store,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "retention"),
		now:     time.Now,
	}, nil
}

// Run blocks until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) error {
	p.logger.Info("retention_enabled", "cron", p.opts.Cron, "max_age", p.opts.MaxAge.String())
	for {
		next, err := gronx.NextTickAfter(p.opts.Cron, p.now(), false)
		if err != nil {
			p.logger.Error("retention_nexttick_failed", "cron", p.opts.Cron, "error", err)
			if !wait(ctx, 30*time.Second) {
				return nil
			}
			continue
		}
		if !wait(ctx, time.Until(next)) {
			return nil
		}
		p.runJob(ctx)
	}
}

func (p *Purger) runJob(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if _, err := p.PurgeOnce(ctx); err != nil {
		p.logger.Error("retention_run_error", "error", err)
	}
}

// PurgeOnce deletes read notifications created before now - MaxAge.
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.opts.MaxAge)
	purged, err := p.store.PurgeReadNotifications(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "purge notifications")
	}
	p.metrics.RetentionPurged(purged)
	p.logger.Info("retention_run_done", "purged", purged, "cutoff", cutoff)
	return purged, nil
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
