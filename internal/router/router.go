// Package router runs every chat message through
// validate -> moderate -> persist -> deliver -> notify, for both the socket
// and the REST entry points.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"schoolchat/internal/audience"
	"schoolchat/internal/metrics"
	"schoolchat/internal/moderation"
	"schoolchat/internal/ratelimit"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Message kinds used in logs and metrics.
const (
	kindDirect     = "direct"
	kindSection    = "section"
	kindGradeLevel = "grade_level"
)

// Store is the part of the persistence adapter the router needs.
type Store interface {
	interfaces.DirectoryStore
	interfaces.MessageStore
}

// Moderator is satisfied by *moderation.Gate.
type Moderator interface {
	Check(ctx context.Context, channel, text string) moderation.Decision
}

// Audience is satisfied by *audience.Resolver.
type Audience interface {
	SectionMembers(ctx context.Context, sectionID string) ([]string, error)
	GradeLevelMembers(ctx context.Context, gradeLevelID string) ([]string, error)
}

type Dependencies struct {
	Store     Store
	Presence  interfaces.Presence
	Moderator Moderator
	// Audience defaults to an uncached resolver over Store.
	Audience Audience
	// Limiter defaults to ratelimit.Unlimited.
	Limiter ratelimit.Limiter
	// Notifier may be nil, in which case notifications are skipped.
	Notifier interfaces.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Router struct {
	store     Store
	presence  interfaces.Presence
	moderator Moderator
	audience  Audience
	limiter   ratelimit.Limiter
	notifier  interfaces.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

var _ interfaces.EventRouter = (*Router)(nil)

func New(deps Dependencies) (*Router, error) {
	if deps.Store == nil {
		return nil, errors.New("router requires a store")
	}
	if deps.Presence == nil {
		return nil, errors.New("router requires a presence registry")
	}
	if deps.Moderator == nil {
		return nil, errors.New("router requires a moderator")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		store:     deps.Store,
		presence:  deps.Presence,
		moderator: deps.Moderator,
		audience:  deps.Audience,
		limiter:   deps.Limiter,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "router"),
	}
	if r.audience == nil {
		r.audience = audience.NewResolver(deps.Store, 0, logger)
	}
	if r.limiter == nil {
		r.limiter = ratelimit.Unlimited{}
	}
	return r, nil
}

// HandleEvent dispatches one socket event. Replies go to the originating
// connection or to the message audience; nothing is returned to the caller.
func (r *Router) HandleEvent(ctx context.Context, conn interfaces.Connection, event string, data json.RawMessage) {
	switch event {
	case types.EventSendMessage:
		r.onSendMessage(ctx, conn, data)
	case types.EventAllMessages:
		r.onAllMessages(ctx, conn, data)
	case types.EventMessageSeen:
		r.onMessageSeen(ctx, conn, data)
	case types.EventTyping:
		r.onTyping(conn, data)
	case types.EventSectionSendMessage:
		r.onSectionSendMessage(ctx, conn, data)
	case types.EventSectionAllMessages:
		r.onSectionAllMessages(ctx, conn, data)
	case types.EventGradeLevelSendMessage:
		r.onGradeLevelSendMessage(ctx, conn, data)
	case types.EventGradeLevelAllMessages:
		r.onGradeLevelAllMessages(ctx, conn, data)
	default:
		r.logger.Debug("unknown_event", "conn_id", conn.ID(), "event", event)
		r.write(conn, types.EventError, types.ErrorNotice{Error: errors.Wrap(ErrUnknownEvent, event).Error()})
	}
}

// checkSender runs the steps shared by every send: caller identity, rate
// limit and sender existence.
func (r *Router) checkSender(ctx context.Context, kind, callerID, senderID, failMsg string) (*types.User, error) {
	if callerID == "" {
		return nil, reject(StageAuth, msgNotAuthenticated, interfaces.ErrUnauthorized)
	}
	if callerID != senderID {
		return nil, reject(StageAuth, msgSenderMismatch, interfaces.ErrForbidden)
	}
	if !r.limiter.Allow(ctx, "user:"+senderID) {
		r.metrics.RateLimited("user")
		return nil, reject(StageRateLimit, msgRateLimited, nil)
	}
	sender, err := r.store.GetUser(ctx, senderID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, reject(StageNotFound, msgSenderMissing, err)
		}
		r.logger.Error("sender_lookup_failed", "kind", kind, "sender_id", senderID, "error", err)
		return nil, reject(StagePersistence, failMsg, err)
	}
	return sender, nil
}

// moderate applies the gate. A negative verdict on the socket channel counts
// against the sender.
func (r *Router) moderate(ctx context.Context, kind, channel, senderID string, content *string) error {
	text := ""
	if content != nil {
		text = *content
	}
	decision := r.moderator.Check(ctx, channel, text)
	if decision.Allowed {
		return nil
	}
	if decision.NegativeVerdict() && channel == moderation.ChannelSocket {
		if err := r.store.IncrementCurseCount(ctx, senderID); err != nil {
			r.logger.Error("curse_count_failed", "sender_id", senderID, "error", err)
		}
	}
	r.logger.Info("message_rejected", "kind", kind, "channel", channel, "sender_id", senderID, "reason", decision.Reason)
	return reject(StageModeration, decision.Reason, decision.Err)
}

// deliver writes the event to every online member of the audience, plus the
// originating connection when it is not the sender's bound one. It returns
// the number of connections written to.
func (r *Router) deliver(audienceIDs []string, origin interfaces.Connection, event string, payload interface{}) int {
	seen := make(map[string]struct{}, len(audienceIDs)+1)
	delivered := 0
	send := func(conn interfaces.Connection) {
		if _, dup := seen[conn.ID()]; dup {
			return
		}
		seen[conn.ID()] = struct{}{}
		if err := conn.WriteEvent(event, payload); err != nil {
			r.logger.Debug("delivery_failed", "conn_id", conn.ID(), "event", event, "error", err)
			return
		}
		delivered++
	}
	for _, userID := range audienceIDs {
		if conn, ok := r.presence.Lookup(userID); ok {
			send(conn)
		}
	}
	if origin != nil {
		send(origin)
	}
	return delivered
}

func (r *Router) notify(ctx context.Context, reqs []types.NotificationRequest) {
	if r.notifier == nil {
		return
	}
	for _, req := range reqs {
		if err := r.notifier.Notify(ctx, req); err != nil {
			r.logger.Warn("notification_enqueue_failed", "user_id", req.TargetUserID, "topic", req.Topic, "error", err)
		}
	}
}

func (r *Router) rejected(kind string, err error) {
	stage := "internal"
	if rej, ok := AsRejection(err); ok {
		stage = string(rej.Stage)
	}
	r.metrics.MessageRejected(kind, stage)
}

func (r *Router) write(conn interfaces.Connection, event string, payload interface{}) {
	if err := conn.WriteEvent(event, payload); err != nil {
		r.logger.Debug("reply_failed", "conn_id", conn.ID(), "event", event, "error", err)
	}
}

// clientMessage returns the text shown to clients for err.
func clientMessage(err error, fallback string) *string {
	if rej, ok := AsRejection(err); ok {
		return types.StringPtr(rej.Message)
	}
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		return types.StringPtr(verr.Error())
	}
	return types.StringPtr(fallback)
}
