package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"schoolchat/internal/metrics"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// RedisQueueOptions configures the stream and its consumer group.
type RedisQueueOptions struct {
	Stream       string
	Group        string
	Consumer     string
	Workers      int
	Block        time.Duration
	ClaimIdle    time.Duration
	MaxRetries   int
	MaxLen       int64
	ReadCount    int64
	WriteTimeout time.Duration
}

// RedisQueue publishes notification requests to a Redis stream and consumes
// them with a consumer group, so the API process and a worker can be split.
type RedisQueue struct {
	client  redis.UniversalClient
	store   interfaces.NotificationStore
	opts    RedisQueueOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewRedisQueue(client redis.UniversalClient, store interfaces.NotificationStore, opts RedisQueueOptions, m *metrics.Metrics, logger *slog.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis queue requires a client")
	}
	opts.Stream = strings.TrimSpace(opts.Stream)
	if opts.Stream == "" {
		opts.Stream = "schoolchat:notifications"
	}
	opts.Group = strings.TrimSpace(opts.Group)
	if opts.Group == "" {
		opts.Group = "notifications"
	}
	opts.Consumer = strings.TrimSpace(opts.Consumer)
	if opts.Consumer == "" {
		opts.Consumer = uuid.NewString()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 10000
	}
	if opts.ReadCount <= 0 {
		opts.ReadCount = 10
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		client:  client,
		store:   store,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "notify", "backend", "redis"),
	}, nil
}

// Notify appends the request to the stream.
func (q *RedisQueue) Notify(ctx context.Context, req types.NotificationRequest) error {
	if strings.TrimSpace(req.TargetUserID) == "" {
		return ErrMissingTarget
	}
	return q.publish(ctx, req, 0)
}

func (q *RedisQueue) publish(ctx context.Context, req types.NotificationRequest, attempts int) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		MaxLen: q.opts.MaxLen,
		Approx: true,
		Values: map[string]any{
			"payload":  string(payload),
			"attempts": attempts,
		},
	}).Err()
	if err != nil {
		q.metrics.Notification("dropped")
		return errors.Wrap(err, "enqueue notification")
	}
	q.metrics.Notification("enqueued")
	return nil
}

// Run consumes the stream until ctx is cancelled.
func (q *RedisQueue) Run(ctx context.Context) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	q.logger.Info("queue_consuming", "stream", q.opts.Stream, "group", q.opts.Group, "workers", q.opts.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		consumer := fmt.Sprintf("%s-%d", q.opts.Consumer, i)
		g.Go(func() error {
			q.consume(gctx, consumer)
			return nil
		})
	}
	return g.Wait()
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	// Start at 0 so requests published before the first worker are kept.
	err := q.client.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrap(err, "create consumer group")
	}
	return nil
}

func (q *RedisQueue) consume(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		q.reclaim(ctx, consumer)

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: consumer,
			Streams:  []string{q.opts.Stream, ">"},
			Count:    q.opts.ReadCount,
			Block:    q.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Warn("queue_read_failed", "consumer", consumer, "error", err)
			sleep(ctx, time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handle(ctx, msg)
			}
		}
	}
}

// reclaim takes over entries left pending by consumers that died mid-job.
func (q *RedisQueue) reclaim(ctx context.Context, consumer string) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: consumer,
		MinIdle:  q.opts.ClaimIdle,
		Start:    "0-0",
		Count:    q.opts.ReadCount,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			q.logger.Debug("queue_claim_failed", "consumer", consumer, "error", err)
		}
		return
	}
	for _, msg := range msgs {
		q.handle(ctx, msg)
	}
}

func (q *RedisQueue) handle(ctx context.Context, msg redis.XMessage) {
	req, attempts, err := decodeEntry(msg)
	if err != nil {
		q.metrics.Notification("failed")
		q.logger.Error("queue_entry_invalid", "entry_id", msg.ID, "error", err)
		q.ack(ctx, msg.ID)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, q.opts.WriteTimeout)
	err = persist(writeCtx, q.store, req)
	cancel()
	if err == nil {
		q.metrics.Notification("delivered")
		q.ack(ctx, msg.ID)
		return
	}

	attempts++
	if attempts >= q.opts.MaxRetries {
		q.metrics.Notification("failed")
		q.logger.Error("notification_failed", "user_id", req.TargetUserID, "attempts", attempts, "error", err)
		q.ack(ctx, msg.ID)
		return
	}
	q.logger.Warn("notification_retry", "user_id", req.TargetUserID, "attempts", attempts, "error", err)
	if perr := q.publish(ctx, req, attempts); perr != nil {
		// Leave the entry pending; reclaim picks it up later.
		q.logger.Error("notification_requeue_failed", "entry_id", msg.ID, "error", perr)
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *RedisQueue) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.opts.Stream, q.opts.Group, id).Err(); err != nil && ctx.Err() == nil {
		q.logger.Warn("queue_ack_failed", "entry_id", id, "error", err)
	}
}

func decodeEntry(msg redis.XMessage) (types.NotificationRequest, int, error) {
	var req types.NotificationRequest
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return req, 0, errors.New("entry has no payload")
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return req, 0, errors.Wrap(err, "decode payload")
	}
	attempts := 0
	if v, ok := msg.Values["attempts"].(string); ok {
		attempts, _ = strconv.Atoi(v)
	}
	return req, attempts, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
