package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/metrics"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

type recordedEvent struct {
	connUser string
	event    string
	data     json.RawMessage
}

type recordingRouter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingRouter) HandleEvent(_ context.Context, conn interfaces.Connection, event string, data json.RawMessage) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{connUser: conn.UserID(), event: event, data: data})
	r.mu.Unlock()
	_ = conn.WriteEvent(event+"_ack", nil)
}

func (r *recordingRouter) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

type staticVerifier map[string]string

func (v staticVerifier) VerifyToken(token string) (string, error) {
	if user, ok := v[token]; ok {
		return user, nil
	}
	return "", errors.New("invalid token")
}

type handlerFixture struct {
	handler *Handler
	router  *recordingRouter
	url     string
}

func newHandlerFixture(t *testing.T, mutate func(*Options), verifier TokenVerifier) *handlerFixture {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	router := &recordingRouter{}
	h := NewHandler(NewRegistry(), router, verifier, metrics.New(), nil, opts)
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return &handlerFixture{handler: h, router: router, url: "ws" + strings.TrimPrefix(server.URL, "http")}
}

func (f *handlerFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(types.Envelope{Event: event, Data: raw}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ConnectionTrackedWhileAnonymous(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	f.dial(t)

	waitFor(t, func() bool { return f.handler.Registry().Stats().Connections == 1 })
	assert.Equal(t, 0, f.handler.Registry().Stats().OnlineUsers)
}

func TestHandler_AuthenticateBindsSilently(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	client := f.dial(t)

	send(t, client, types.EventAuthenticate, "student-1")
	waitFor(t, func() bool {
		_, ok := f.handler.Registry().Lookup("student-1")
		return ok
	})

	// The next frame the client sees is the router ack, not an auth ack.
	send(t, client, types.EventTyping, map[string]interface{}{"receiverId": "x", "isTyping": true})
	env := readEnvelope(t, client)
	assert.Equal(t, types.EventTyping+"_ack", env.Event)

	events := f.router.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "student-1", events[0].connUser)
}

func TestHandler_AuthenticateRejectsBadID(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	client := f.dial(t)

	send(t, client, types.EventAuthenticate, "")
	env := readEnvelope(t, client)
	assert.Equal(t, types.EventError, env.Event)
	assert.Contains(t, string(env.Data), "User ID is required")
	assert.Equal(t, 0, f.handler.Registry().Stats().OnlineUsers)
}

func TestHandler_MalformedFrame(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	client := f.dial(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("not json")))
	env := readEnvelope(t, client)
	assert.Equal(t, types.EventError, env.Event)
	assert.Contains(t, string(env.Data), ErrMalformedFrame.Error())
	assert.Empty(t, f.router.snapshot())
}

func TestHandler_EventsHandledInOrder(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	client := f.dial(t)

	for i := 0; i < 10; i++ {
		send(t, client, "e", i)
	}
	waitFor(t, func() bool { return len(f.router.snapshot()) == 10 })
	for i, ev := range f.router.snapshot() {
		var n int
		require.NoError(t, json.Unmarshal(ev.data, &n))
		assert.Equal(t, i, n)
	}
}

func TestHandler_DisconnectBroadcastsUserOffline(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	alice := f.dial(t)
	bob := f.dial(t)
	anon := f.dial(t)

	send(t, alice, types.EventAuthenticate, "alice")
	send(t, bob, types.EventAuthenticate, "bob")
	waitFor(t, func() bool { return f.handler.Registry().Stats().OnlineUsers == 2 })
	waitFor(t, func() bool { return f.handler.Registry().Stats().Connections == 3 })

	require.NoError(t, alice.Close())

	for _, c := range []*websocket.Conn{bob, anon} {
		env := readEnvelope(t, c)
		assert.Equal(t, types.EventUserOffline, env.Event)
		assert.JSONEq(t, `"alice"`, string(env.Data))
	}
	_, ok := f.handler.Registry().Lookup("alice")
	assert.False(t, ok)
}

func TestHandler_DisplacedConnectionDisconnectIsSilent(t *testing.T) {
	f := newHandlerFixture(t, nil, nil)
	first := f.dial(t)
	second := f.dial(t)
	observer := f.dial(t)

	send(t, first, types.EventAuthenticate, "alice")
	waitFor(t, func() bool {
		c, ok := f.handler.Registry().Lookup("alice")
		return ok && c != nil
	})
	send(t, second, types.EventAuthenticate, "alice")
	// Frames are handled in order, so the ack proves the rebind happened.
	send(t, second, "probe", nil)
	assert.Equal(t, "probe_ack", readEnvelope(t, second).Event)
	waitFor(t, func() bool { return f.handler.Registry().Stats().Connections == 3 })

	require.NoError(t, first.Close())
	waitFor(t, func() bool { return f.handler.Registry().Stats().Connections == 2 })

	_, ok := f.handler.Registry().Lookup("alice")
	assert.True(t, ok)

	// Observer receives nothing for the displaced connection.
	require.NoError(t, observer.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := observer.ReadMessage()
	assert.Error(t, err)
}

func TestHandler_TokenAuthentication(t *testing.T) {
	f := newHandlerFixture(t, func(o *Options) { o.RequireToken = true }, staticVerifier{"good-token": "teacher-1"})

	bad := f.dial(t)
	send(t, bad, types.EventAuthenticate, "student-1")
	env := readEnvelope(t, bad)
	assert.Equal(t, types.EventError, env.Event)

	good := f.dial(t)
	send(t, good, types.EventAuthenticate, "Bearer good-token")
	waitFor(t, func() bool {
		_, ok := f.handler.Registry().Lookup("teacher-1")
		return ok
	})
}

func TestHandler_OriginCheck(t *testing.T) {
	f := newHandlerFixture(t, func(o *Options) { o.AllowedOrigins = []string{"https://school.test"} }, nil)

	_, resp, err := websocket.DefaultDialer.Dial(f.url, map[string][]string{"Origin": {"https://evil.test"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 403, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(f.url, map[string][]string{"Origin": {"https://school.test"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestHandler_HeartbeatTimeoutDisconnects(t *testing.T) {
	f := newHandlerFixture(t, func(o *Options) {
		o.ReadTimeout = 300 * time.Millisecond
		o.PingInterval = time.Hour
	}, nil)
	client := f.dial(t)
	send(t, client, types.EventAuthenticate, "sleepy")
	waitFor(t, func() bool { return f.handler.Registry().Stats().OnlineUsers == 1 })

	// No reads on the client side means no pong; the server read deadline fires.
	waitFor(t, func() bool { return f.handler.Registry().Stats().Connections == 0 })
	_, ok := f.handler.Registry().Lookup("sleepy")
	assert.False(t, ok)
}
