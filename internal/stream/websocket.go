package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/coordsim/internal/api"
	"github.com/ashureev/coordsim/internal/coordination"
	"github.com/ashureev/coordsim/internal/domain"
	"github.com/ashureev/coordsim/internal/events"
	"github.com/ashureev/coordsim/internal/identity"
	"github.com/ashureev/coordsim/internal/middleware"
)

const (
	defaultKeepalive = 15 * time.Second
	writeTimeout     = 5 * time.Second
)

// Requester handles request envelopes received over the socket.
type Requester interface {
	HandleRequest(req coordination.Request) (coordination.Response, error)
}

// Limiter throttles session starts per client key.
type Limiter interface {
	Allow(key string) bool
}

// WebSocketHandler streams events to observers and accepts request envelopes.
type WebSocketHandler struct {
	bus            *events.Bus
	coord          Requester
	conns          *ConnManager
	limiter        Limiter
	allowedOrigins []string
	keepalive      time.Duration
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(bus *events.Bus, coord Requester, conns *ConnManager, allowedOrigins []string, keepalive time.Duration, logger *slog.Logger) *WebSocketHandler {
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		bus:            bus,
		coord:          coord,
		conns:          conns,
		allowedOrigins: allowedOrigins,
		keepalive:      keepalive,
		logger:         logger.With("component", "ws_stream"),
	}
}

// SetLimiter throttles start requests with the limiter guarding the HTTP
// start endpoints. Must be called before serving.
func (h *WebSocketHandler) SetLimiter(l Limiter) {
	h.limiter = l
}

// caller identifies the upgrade request a socket was opened with.
type caller struct {
	clientKey string
	requester string
}

// inbound is a client message. Request fields are promoted from the envelope.
type inbound struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	coordination.Request
}

type outbound struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	ID        int64                  `json:"id,omitempty"`
	Topic     string                 `json:"topic,omitempty"`
	Event     *events.Event          `json:"event,omitempty"`
	Data      *coordination.Response `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Status    int                    `json:"status,omitempty"`
}

// wsConn serializes writes to one socket.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
//
// Query parameters narrow the subscription: session=<id>, type=<t1,t2>,
// participant=<role>. Without participant only session topics are streamed.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	connID := h.conns.Register(ws)
	defer h.conns.Unregister(connID, ws)

	sub := h.bus.Subscribe(filter)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &wsConn{ws: ws}
	from := caller{
		clientKey: middleware.ClientKey(r),
		requester: identity.RequesterFromContext(r.Context()),
	}
	if err := conn.writeJSON(ctx, outbound{Type: "connected"}); err != nil {
		h.logger.Debug("Failed to send connected message", "error", err)
		return
	}
	h.logger.Info("Observer connected",
		"conn_id", connID,
		"session_id", filter.SessionID,
		"topics", filter.Topics,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, conn, connID, from)
	}()

	h.outputLoop(ctx, conn, sub)
	cancel()
	wg.Wait()
	h.logger.Info("Observer disconnected", "conn_id", connID, "dropped", sub.Dropped())
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, conn *wsConn, connID int64, from caller) {
	for {
		_, message, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed", "conn_id", connID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "conn_id", connID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			if err := conn.writeJSON(ctx, outbound{Type: "error", Error: "invalid message", Status: http.StatusBadRequest}); err != nil {
				return
			}
			continue
		}

		var reply outbound
		switch msg.Type {
		case "ping":
			reply = outbound{Type: "pong", RequestID: msg.RequestID}
		case "request":
			reply = h.handleRequest(msg, from)
		default:
			reply = outbound{Type: "error", RequestID: msg.RequestID, Error: "unknown message type", Status: http.StatusBadRequest}
		}
		if err := conn.writeJSON(ctx, reply); err != nil {
			h.logger.Debug("Failed to write reply", "error", err, "conn_id", connID)
			return
		}
	}
}

func (h *WebSocketHandler) handleRequest(msg inbound, from caller) outbound {
	req := msg.Request
	if req.Action == coordination.ActionStart {
		if h.limiter != nil && !h.limiter.Allow(from.clientKey) {
			return outbound{Type: "error", RequestID: msg.RequestID, Error: "rate limit exceeded", Status: http.StatusTooManyRequests}
		}
		if req.RequestedBy == "" {
			req.RequestedBy = from.requester
		}
	}

	resp, err := h.coord.HandleRequest(req)
	if err != nil {
		return outbound{Type: "error", RequestID: msg.RequestID, Error: err.Error(), Status: api.StatusFor(err)}
	}
	return outbound{Type: "response", RequestID: msg.RequestID, Data: &resp}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, conn *wsConn, sub *events.Subscription) {
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case d := <-sub.C():
			ev := d.Event
			if err := conn.writeJSON(ctx, outbound{Type: "event", ID: d.ID, Topic: d.Topic, Event: &ev}); err != nil {
				h.logger.Debug("Failed to write event", "error", err)
				return
			}
		case <-keepalive.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.Debug("WebSocket keepalive failed", "error", err)
				return
			}
		}
	}
}

func parseFilter(r *http.Request) (events.Filter, error) {
	q := r.URL.Query()
	f := events.Filter{SessionID: q.Get("session")}

	if raw := q.Get("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t := events.Type(strings.TrimSpace(part))
			if !t.Valid() {
				return events.Filter{}, fmt.Errorf("unknown event type %q", t)
			}
			f.Types = append(f.Types, t)
		}
	}

	if raw := q.Get("participant"); raw != "" {
		role, err := domain.ParseRole(raw)
		if err != nil {
			return events.Filter{}, err
		}
		f.Topics = []string{events.ParticipantTopic(role)}
	} else {
		f.Prefix = events.SessionTopicPrefix
	}
	return f, nil
}
