package router_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/database"
	"schoolchat/internal/database/dbtest"
	"schoolchat/internal/metrics"
	"schoolchat/internal/moderation"
	"schoolchat/internal/ratelimit"
	"schoolchat/internal/router"
	"schoolchat/internal/websocket"
	"schoolchat/pkg/types"
)

type frame struct {
	event string
	data  interface{}
}

type fakeConn struct {
	id     string
	user   string
	mu     sync.Mutex
	frames []frame
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }
func (c *fakeConn) Close() error   { return nil }

func (c *fakeConn) WriteEvent(event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{event: event, data: data})
	return nil
}

func (c *fakeConn) received() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

func (c *fakeConn) last(t *testing.T) frame {
	t.Helper()
	frames := c.received()
	require.NotEmpty(t, frames, "connection %s received nothing", c.id)
	return frames[len(frames)-1]
}

// stubClassifier answers from a table; unknown text is positive.
type stubClassifier struct {
	mu       sync.Mutex
	verdicts map[string]moderation.Verdict
	down     bool
	calls    int
}

func (s *stubClassifier) Classify(_ context.Context, text string) (moderation.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.down {
		return moderation.Verdict{}, moderation.ErrServiceUnavailable
	}
	if v, ok := s.verdicts[text]; ok {
		return v, nil
	}
	return moderation.Verdict{Label: "positive", Score: 0.9}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []types.NotificationRequest
}

func (n *recordingNotifier) Notify(_ context.Context, req types.NotificationRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
	return nil
}

func (n *recordingNotifier) targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.reqs))
	for _, r := range n.reqs {
		out = append(out, r.TargetUserID)
	}
	return out
}

type fixture struct {
	router     *router.Router
	store      *database.Manager
	registry   *websocket.Registry
	classifier *stubClassifier
	notifier   *recordingNotifier
	gate       *moderation.Gate
	limiter    ratelimit.Limiter
	nextID     int
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	f := &fixture{
		store:    dbtest.Seeded(t),
		registry: websocket.NewRegistry(),
		classifier: &stubClassifier{verdicts: map[string]moderation.Verdict{
			"you are awful": {Label: "negative", Score: 0.8},
			"meh":           {Label: "neutral", Score: -0.2},
		}},
		notifier: &recordingNotifier{},
	}
	f.gate = moderation.NewGate(f.classifier, map[string]moderation.Policy{
		moderation.ChannelSocket: moderation.FailClosed,
		moderation.ChannelREST:   moderation.FailOpen,
	}, nil, nil)
	f.limiter = limiter
	f.useStore(t, f.store)
	return f
}

// useStore rebuilds the router over store, keeping the other dependencies.
func (f *fixture) useStore(t *testing.T, store router.Store) {
	t.Helper()
	r, err := router.New(router.Dependencies{
		Store:     store,
		Presence:  f.registry,
		Moderator: f.gate,
		Limiter:   f.limiter,
		Notifier:  f.notifier,
		Metrics:   metrics.New(),
	})
	require.NoError(t, err)
	f.router = r
}

// brokenWrites fails every message insert and delegates everything else.
type brokenWrites struct {
	*database.Manager
}

var errDiskFull = errors.New("disk I/O error")

func (brokenWrites) CreateDirectMessage(context.Context, *types.DirectMessage) error {
	return errDiskFull
}

func (brokenWrites) CreateSectionMessage(context.Context, *types.SectionMessage) error {
	return errDiskFull
}

func (brokenWrites) CreateGradeLevelMessage(context.Context, *types.GradeLevelMessage) error {
	return errDiskFull
}

// connect registers a connection bound to userID; an empty userID stays anonymous.
func (f *fixture) connect(t *testing.T, userID string) *fakeConn {
	t.Helper()
	f.nextID++
	conn := &fakeConn{id: fmt.Sprintf("conn-%d", f.nextID), user: userID}
	require.NoError(t, f.registry.Add(conn))
	if userID != "" {
		require.NoError(t, f.registry.Bind(userID, conn.id))
	}
	return conn
}

func (f *fixture) emit(conn *fakeConn, event string, payload interface{}) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	default:
		raw, _ = json.Marshal(p)
	}
	f.router.HandleEvent(context.Background(), conn, event, raw)
}

func direct(content, sender, receiver string) map[string]interface{} {
	return map[string]interface{}{"content": content, "senderId": sender, "receiverId": receiver}
}

func curseCount(t *testing.T, f *fixture, userID string) int {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.CurseCount
}

func requireRejection(t *testing.T, err error, stage router.Stage, msg string) {
	t.Helper()
	rej, ok := router.AsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	require.Equal(t, stage, rej.Stage)
	if msg != "" {
		require.Equal(t, msg, rej.Message)
	}
}
