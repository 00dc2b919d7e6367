package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/api"
	"schoolchat/internal/auth"
	"schoolchat/internal/auth/authtest"
	"schoolchat/internal/database"
	"schoolchat/internal/database/dbtest"
	"schoolchat/internal/metrics"
	"schoolchat/internal/moderation"
	"schoolchat/internal/ratelimit"
	"schoolchat/internal/router"
	"schoolchat/internal/websocket"
	"schoolchat/pkg/types"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

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

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.event)
	}
	return out
}

// sentimentService fakes the external classifier: any text containing
// "awful" is negative, and down makes every call fail with 500.
type sentimentService struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (s *sentimentService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	if s.down.Load() {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	var body struct {
		Data struct {
			Text string `json:"text"`
		} `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	verdict := moderation.Verdict{Label: "positive", Score: 0.7}
	if strings.Contains(body.Data.Text, "awful") {
		verdict = moderation.Verdict{Label: "negative", Score: -0.8}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"sentiment": verdict})
}

type fixture struct {
	server    *api.Server
	store     *database.Manager
	registry  *websocket.Registry
	sentiment *sentimentService
	nextID    int
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	f := &fixture{
		store:     dbtest.Seeded(t),
		registry:  websocket.NewRegistry(),
		sentiment: &sentimentService{},
	}
	svc := httptest.NewServer(f.sentiment)
	t.Cleanup(svc.Close)

	m := metrics.New()
	gate := moderation.NewGate(moderation.NewClient(svc.URL, 2*time.Second), map[string]moderation.Policy{
		moderation.ChannelSocket: moderation.FailClosed,
		moderation.ChannelREST:   moderation.FailOpen,
	}, m, nil)
	r, err := router.New(router.Dependencies{
		Store:     f.store,
		Presence:  f.registry,
		Moderator: gate,
		Metrics:   m,
	})
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(authtest.Secret, "")
	require.NoError(t, err)

	f.server, err = api.NewServer(api.Options{
		Router:         r,
		Store:          f.store,
		Presence:       f.registry,
		Verifier:       verifier,
		Limiter:        limiter,
		Metrics:        m,
		DisableReqLogs: true,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) connect(t *testing.T, userID string) *fakeConn {
	t.Helper()
	f.nextID++
	conn := &fakeConn{id: fmt.Sprintf("conn-%d", f.nextID), user: userID}
	require.NoError(t, f.registry.Add(conn))
	require.NoError(t, f.registry.Bind(userID, conn.id))
	return conn
}

func token(t *testing.T, userID, role string) string {
	return authtest.Token(t, authtest.Secret, userID, role)
}

// do sends a request as userID (no token when userID is "") and decodes the envelope.
func (f *fixture) do(t *testing.T, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	role := types.RoleStudent
	if strings.HasPrefix(userID, "teacher") {
		role = types.RoleTeacher
	}
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, userID, role))
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
