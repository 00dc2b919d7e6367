package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newConnectionPair returns a server-side Connection and the client socket
// that reads its frames.
func newConnectionPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	conn := NewConnection(<-serverSide, DefaultOptions())
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func readEnvelope(t *testing.T, client *websocket.Conn) types.Envelope {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env types.Envelope
	require.NoError(t, client.ReadJSON(&env))
	return env
}

func TestConnection_NewConnection(t *testing.T) {
	conn, _ := newConnectionPair(t)
	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, "", conn.UserID())
	assert.Equal(t, 100, cap(conn.writeCh))
	assert.NotEmpty(t, conn.RemoteAddr())
}

func TestConnection_WriteEvent(t *testing.T) {
	conn, client := newConnectionPair(t)

	require.NoError(t, conn.WriteEvent(types.EventUserOffline, "student-1"))
	env := readEnvelope(t, client)
	assert.Equal(t, types.EventUserOffline, env.Event)
	assert.JSONEq(t, `"student-1"`, string(env.Data))
}

func TestConnection_WriteEvent_PreservesOrder(t *testing.T) {
	conn, client := newConnectionPair(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, conn.WriteEvent("tick", i))
	}
	for i := 0; i < 20; i++ {
		env := readEnvelope(t, client)
		var n int
		require.NoError(t, json.Unmarshal(env.Data, &n))
		assert.Equal(t, i, n)
	}
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	conn, client := newConnectionPair(t)

	const writers, perWriter = 10, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, conn.WriteEvent("tick", i))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < writers*perWriter; i++ {
		env := readEnvelope(t, client)
		assert.Equal(t, "tick", env.Event)
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	conn, _ := newConnectionPair(t)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.WriteEvent("tick", 1), ErrConnectionClosed)

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestConnection_UnmarshalablePayload(t *testing.T) {
	conn, _ := newConnectionPair(t)
	assert.ErrorIs(t, conn.WriteEvent("bad", make(chan int)), ErrInvalidJSON)
}
