package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/coordsim/internal/api"
	"github.com/ashureev/coordsim/internal/domain"
	"github.com/ashureev/coordsim/internal/events"
)

const defaultRetry = 5 * time.Second

// SessionLookup resolves a session by id.
type SessionLookup interface {
	Get(sessionID string) (*domain.Session, error)
}

// SSEHandler streams the events of one session as Server-Sent Events.
type SSEHandler struct {
	bus       *events.Bus
	sessions  SessionLookup
	keepalive time.Duration
	retry     time.Duration
	logger    *slog.Logger
}

// NewSSEHandler creates a new SSE handler.
func NewSSEHandler(bus *events.Bus, sessions SessionLookup, keepalive time.Duration, logger *slog.Logger) *SSEHandler {
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{
		bus:       bus,
		sessions:  sessions,
		keepalive: keepalive,
		retry:     defaultRetry,
		logger:    logger.With("component", "sse_stream"),
	}
}

// RegisterRoutes registers the session event stream.
func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/coordinations/{id}/events", h.HandleStream)
}

// HandleStream replays buffered events after Last-Event-ID, then follows the
// live stream until the session reaches a terminal event.
func (h *SSEHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	// Subscribe before the lookup so no event falls between replay and live.
	sub := h.bus.Subscribe(events.Filter{Topics: []string{events.SessionTopic(sessionID)}})
	defer sub.Close()

	session, err := h.sessions.Get(sessionID)
	if err != nil {
		api.Error(w, api.StatusFor(err), err.Error())
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.retry.Milliseconds()); err != nil {
		h.logger.Warn("Failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	h.logger.Info("SSE stream connected",
		"session_id", sessionID,
		"last_event_id", lastEventID,
		"reconnect", lastEventID > 0,
	)
	defer h.logger.Info("SSE stream closed", "session_id", sessionID)

	sent := lastEventID
	for _, d := range h.bus.Replay(events.SessionTopic(sessionID), lastEventID) {
		if err := writeDelivery(w, d); err != nil {
			h.logger.Warn("Failed to replay SSE event", "error", err, "session_id", sessionID)
			return
		}
		sent = d.ID
		if d.Event.Type.Final() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	if session.Status.Terminal() {
		return
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case d := <-sub.C():
			if d.ID <= sent {
				continue
			}
			if err := writeDelivery(w, d); err != nil {
				h.logger.Warn("Failed to write SSE event", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
			sent = d.ID
			if d.Event.Type.Final() {
				return
			}
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Debug("Failed to write SSE keepalive", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeDelivery(w io.Writer, d events.Delivery) error {
	data, err := json.Marshal(d.Event)
	if err != nil {
		return err
	}
	return writeSSEWithID(w, d.ID, string(d.Event.Type), string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
