package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"schoolchat/internal/metrics"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Options tunes the socket lifecycle.
type Options struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	EventTimeout     time.Duration
	SendBuffer       int
	MaxMessageSize   int64
	// RequireToken makes authenticate expect a JWT instead of a bare user id.
	RequireToken   bool
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		EventTimeout:     15 * time.Second,
		SendBuffer:       100,
		MaxMessageSize:   1 << 20,
	}
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Handler upgrades HTTP requests and runs each connection's lifecycle:
// anonymous -> authenticated -> closed.
type Handler struct {
	registry *Registry
	router   interfaces.EventRouter
	verifier TokenVerifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, router interfaces.EventRouter, verifier TokenVerifier, m *metrics.Metrics, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		registry: registry,
		router:   router,
		verifier: verifier,
		metrics:  m,
		logger:   logger.With("component", "websocket"),
		opts:     opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and starts the read loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade_failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	wsConn := NewConnection(conn, h.opts)
	if err := h.registry.Add(wsConn); err != nil {
		h.logger.Error("register_failed", "error", err)
		_ = wsConn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.logger.Debug("connection_opened", "conn_id", wsConn.ID(), "remote", r.RemoteAddr)

	go h.handleConnection(wsConn)
}

func (h *Handler) handleConnection(conn *Connection) {
	defer h.disconnect(conn)

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("read_failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// dispatch handles one frame. Frames of a connection are processed in order
// because the read loop waits for each to finish.
func (h *Handler) dispatch(conn *Connection, frame []byte) {
	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		h.writeError(conn, ErrMalformedFrame.Error())
		return
	}
	h.metrics.EventReceived(env.Event)

	if env.Event == types.EventAuthenticate {
		h.authenticate(conn, env.Data)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.EventTimeout)
	defer cancel()
	h.router.HandleEvent(ctx, conn, env.Event, env.Data)
}

// authenticate binds the connection to a user. Success is silent.
func (h *Handler) authenticate(conn *Connection, data json.RawMessage) {
	userID, err := h.resolveIdentity(data)
	if err != nil {
		h.logger.Info("authenticate_rejected", "conn_id", conn.ID(), "error", err)
		h.writeError(conn, err.Error())
		return
	}
	if err := h.registry.Bind(userID, conn.ID()); err != nil {
		h.logger.Warn("bind_failed", "conn_id", conn.ID(), "user_id", userID, "error", err)
		return
	}
	conn.setUserID(userID)
	h.metrics.SetOnlineUsers(h.registry.Stats().OnlineUsers)
	h.logger.Info("user_authenticated", "conn_id", conn.ID(), "user_id", userID)
}

func (h *Handler) resolveIdentity(data json.RawMessage) (string, error) {
	if !h.opts.RequireToken {
		return types.DecodeID(data, "userId")
	}
	var token string
	if err := json.Unmarshal(data, &token); err != nil || token == "" {
		return "", ErrAuthenticationFailed
	}
	if h.verifier == nil {
		return "", ErrAuthenticationFailed
	}
	userID, err := h.verifier.VerifyToken(strings.TrimPrefix(token, "Bearer "))
	if err != nil {
		return "", errors.Wrap(ErrAuthenticationFailed, err.Error())
	}
	return userID, nil
}

// disconnect releases the connection and announces the user as offline if
// this connection still held their binding.
func (h *Handler) disconnect(conn *Connection) {
	h.registry.Remove(conn.ID())
	userID, freed := h.registry.Unbind(conn.ID())
	_ = conn.Close()
	h.metrics.ConnectionClosed()

	if !freed {
		h.logger.Debug("connection_closed", "conn_id", conn.ID())
		return
	}
	h.metrics.SetOnlineUsers(h.registry.Stats().OnlineUsers)
	h.logger.Info("user_offline", "conn_id", conn.ID(), "user_id", userID)
	for _, other := range h.registry.Connections() {
		if err := other.WriteEvent(types.EventUserOffline, userID); err != nil {
			h.logger.Debug("offline_broadcast_failed", "conn_id", other.ID(), "error", err)
		}
	}
}

func (h *Handler) writeError(conn *Connection, msg string) {
	if err := conn.WriteEvent(types.EventError, types.ErrorNotice{Error: msg}); err != nil {
		h.logger.Debug("error_write_failed", "conn_id", conn.ID(), "error", err)
	}
}

// Registry returns the presence registry backing the handler.
func (h *Handler) Registry() *Registry { return h.registry }
