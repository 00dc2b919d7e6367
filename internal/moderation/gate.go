package moderation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"schoolchat/internal/metrics"
)

// Policy decides what happens when the classifier cannot be reached.
type Policy string

const (
	FailOpen   Policy = "fail_open"
	FailClosed Policy = "fail_closed"
)

// Channels a message can arrive on.
const (
	ChannelSocket = "socket"
	ChannelREST   = "rest"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case FailOpen, FailClosed:
		return p, nil
	default:
		return "", errors.Wrapf(ErrUnknownPolicy, "%q", s)
	}
}

// Decision is the gate's answer for one message.
type Decision struct {
	Allowed bool
	// Reason is the client-facing rejection text; empty when allowed.
	Reason  string
	Verdict *Verdict
	// Err is the classifier failure, set even when fail-open allowed the message.
	Err error
}

// NegativeVerdict reports whether the message was blocked by its content
// rather than by a service failure.
func (d Decision) NegativeVerdict() bool {
	return !d.Allowed && d.Verdict != nil && d.Verdict.Negative()
}

// Gate applies a per-channel failure policy to classifier results.
type Gate struct {
	classifier Classifier
	policies   map[string]Policy
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewGate builds a gate. Channels missing from policies fail closed.
func NewGate(classifier Classifier, policies map[string]Policy, m *metrics.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	copied := make(map[string]Policy, len(policies))
	for k, v := range policies {
		copied[k] = v
	}
	return &Gate{
		classifier: classifier,
		policies:   copied,
		metrics:    m,
		logger:     logger.With("component", "moderation"),
	}
}

// PolicyFor returns the effective policy of a channel.
func (g *Gate) PolicyFor(channel string) Policy {
	if p, ok := g.policies[channel]; ok {
		return p
	}
	return FailClosed
}

// Check classifies text and applies the channel policy.
// Blank text has nothing to classify and is allowed.
func (g *Gate) Check(ctx context.Context, channel, text string) Decision {
	if strings.TrimSpace(text) == "" {
		return Decision{Allowed: true}
	}

	start := time.Now()
	verdict, err := g.classifier.Classify(ctx, text)
	took := time.Since(start)

	if err != nil {
		g.metrics.ModerationCall("error", took)
		if g.PolicyFor(channel) == FailOpen {
			g.logger.Warn("moderation_failed_open", "channel", channel, "error", err)
			return Decision{Allowed: true, Err: err}
		}
		g.logger.Warn("moderation_failed_closed", "channel", channel, "error", err)
		return Decision{Allowed: false, Reason: ReasonServiceFailed, Err: err}
	}

	if verdict.Negative() {
		g.metrics.ModerationCall("rejected", took)
		g.logger.Info("moderation_rejected", "channel", channel, "label", verdict.Label, "score", verdict.Score)
		return Decision{Allowed: false, Reason: ReasonNegative, Verdict: &verdict}
	}

	g.metrics.ModerationCall("allowed", took)
	return Decision{Allowed: true, Verdict: &verdict}
}
