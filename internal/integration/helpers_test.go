// Package integration runs the assembled service end to end over real
// sockets and HTTP.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/app"
	"schoolchat/internal/auth/authtest"
	"schoolchat/internal/config"
	"schoolchat/internal/database/dbtest"
	"schoolchat/pkg/types"
)

// sentimentService labels any text containing "awful" as negative.
func sentimentService(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data struct {
				Text string `json:"text"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		label := "positive"
		if strings.Contains(body.Data.Text, "awful") {
			label = "negative"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"sentiment": map[string]interface{}{"label": label, "score": 0.9},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type service struct {
	app  *app.Application
	base string
	ws   string
}

func startService(t *testing.T) *service {
	t.Helper()
	env := map[string]string{
		config.EnvConfigFile:             "",
		"SCHOOLCHAT_HTTP_HOST":           "127.0.0.1",
		"SCHOOLCHAT_HTTP_PORT":           "0",
		"SCHOOLCHAT_HTTP_REQUEST_LOGS":   "false",
		"SCHOOLCHAT_DATABASE_DSN":        filepath.Join(t.TempDir(), "chat.db"),
		"SCHOOLCHAT_MODERATION_ENDPOINT": sentimentService(t).URL,
		"SCHOOLCHAT_AUTH_JWT_SECRET":     authtest.Secret,
		"SCHOOLCHAT_SEED_FILE":           dbtest.SeedPath(),
		"SCHOOLCHAT_RATE_LIMIT_ENABLED":  "false",
		"SCHOOLCHAT_LOG_LEVEL":           "error",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := app.NewApplication(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	select {
	case <-a.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("service exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("service did not become ready")
	}

	var once sync.Once
	t.Cleanup(func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(10 * time.Second):
				t.Error("service did not stop")
			}
		})
	})
	return &service{
		app:  a,
		base: "http://" + a.Addr(),
		ws:   "ws://" + a.Addr() + "/ws",
	}
}

// connect dials the socket endpoint and authenticates as userID.
func (s *service) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.ws, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	send(t, conn, types.EventAuthenticate, userID)
	return conn
}

// online waits until every user has a bound connection.
func (s *service) online(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(s.base + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var health struct {
			Connections struct {
				OnlineUsers int `json:"onlineUsers"`
			} `json:"connections"`
		}
		return json.NewDecoder(resp.Body).Decode(&health) == nil && health.Connections.OnlineUsers == n
	}, 3*time.Second, 20*time.Millisecond)
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(types.Envelope{Event: event, Data: raw}))
}

// expect reads frames until one carries event and decodes its data into out.
func expect(t *testing.T, conn *websocket.Conn, event string, out interface{}) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env types.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event != event {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

// silent asserts no frame with event arrives within d.
func silent(t *testing.T, conn *websocket.Conn, event string, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	for {
		var env types.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		require.NotEqual(t, event, env.Event)
	}
}

func ptr(s string) *string { return &s }
