package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/coordsim/internal/coordination"
	"github.com/ashureev/coordsim/internal/domain"
	"github.com/ashureev/coordsim/internal/identity"
	"github.com/ashureev/coordsim/internal/store"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Coordinator is the orchestrator surface the HTTP layer needs.
type Coordinator interface {
	Start(scenarioID string, opts coordination.StartOptions) (*domain.Session, error)
	Get(sessionID string) (*domain.Session, error)
	ListScenarios() []domain.Scenario
	ListActive() []*domain.Session
	ListHistory(limit int) []*domain.Session
	SendMessage(sessionID string, from, to domain.Role, body, typ string) (domain.Message, error)
	HandleRequest(req coordination.Request) (coordination.Response, error)
	ActiveCount() int
	HistoryLen() int
}

// CoordinationHandler handles scenario and coordination endpoints.
type CoordinationHandler struct {
	coord   Coordinator
	archive store.Repository
	limit   func(http.Handler) http.Handler
}

// NewCoordinationHandler creates a handler. archive may be nil when archiving
// is disabled; limit may be nil to disable throttling of session creation.
func NewCoordinationHandler(coord Coordinator, archive store.Repository, limit func(http.Handler) http.Handler) *CoordinationHandler {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &CoordinationHandler{coord: coord, archive: archive, limit: limit}
}

// RegisterRoutes registers coordination routes.
func (h *CoordinationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/scenarios", h.ListScenarios)
	r.With(h.limit).Post("/api/coordinations", h.Start)
	r.Get("/api/coordinations", h.ListActive)
	r.Get("/api/coordinations/history", h.ListHistory)
	r.Get("/api/coordinations/{id}", h.Get)
	r.Post("/api/coordinations/{id}/messages", h.SendMessage)
	r.With(h.limit).Post("/api/requests", h.HandleRequest)
}

// ListScenarios returns the scenario catalog.
func (h *CoordinationHandler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"scenarios": h.coord.ListScenarios(),
	})
}

type startRequest struct {
	ScenarioID   string   `json:"scenarioId"`
	Participants []string `json:"participants,omitempty"`
	RequestedBy  string   `json:"requestedBy,omitempty"`
}

// Start creates a new coordination session.
func (h *CoordinationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ScenarioID == "" {
		Error(w, http.StatusBadRequest, "scenarioId is required")
		return
	}
	participants, err := parseRoles(req.Participants)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.RequestedBy == "" {
		req.RequestedBy = identity.RequesterFromContext(r.Context())
	}

	s, err := h.coord.Start(req.ScenarioID, coordination.StartOptions{
		Participants: participants,
		RequestedBy:  req.RequestedBy,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	JSON(w, http.StatusCreated, s)
}

// ListActive returns running sessions.
func (h *CoordinationHandler) ListActive(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.coord.ListActive(),
	})
}

// ListHistory returns finalized sessions, newest first. With
// source=archive the SQLite archive is read instead of memory.
func (h *CoordinationHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.URL.Query().Get("source") {
	case "", "memory":
		JSON(w, http.StatusOK, map[string]interface{}{
			"sessions": h.coord.ListHistory(limit),
			"source":   "memory",
		})
	case "archive":
		if h.archive == nil {
			Error(w, http.StatusBadRequest, "archive is disabled")
			return
		}
		sessions, err := h.archive.ListSessions(r.Context(), limit)
		if err != nil {
			slog.Error("Failed to list archived sessions", "error", err)
			Error(w, http.StatusInternalServerError, "failed to read archive")
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{
			"sessions": sessions,
			"source":   "archive",
		})
	default:
		Error(w, http.StatusBadRequest, "source must be memory or archive")
	}
}

// Get returns one session. Sessions trimmed from memory are read from the
// archive.
func (h *CoordinationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.coord.Get(id)
	if err == nil {
		JSON(w, http.StatusOK, s)
		return
	}
	if StatusFor(err) != http.StatusNotFound || h.archive == nil {
		writeServiceError(w, err)
		return
	}

	archived, archiveErr := h.archive.GetSession(r.Context(), id)
	if archiveErr != nil {
		slog.Error("Failed to read archived session", "session_id", id, "error", archiveErr)
		Error(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	if archived == nil {
		writeServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, archived)
}

type messageRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
	Type string `json:"type,omitempty"`
}

// SendMessage appends a message to an active session.
func (h *CoordinationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, err := domain.ParseRole(req.From)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := domain.ParseRole(req.To)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.coord.SendMessage(chi.URLParam(r, "id"), from, to, req.Body, req.Type)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// HandleRequest accepts the generic request envelope.
func (h *CoordinationHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req coordination.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Action == coordination.ActionStart && req.RequestedBy == "" {
		req.RequestedBy = identity.RequesterFromContext(r.Context())
	}
	resp, err := h.coord.HandleRequest(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if req.Action == coordination.ActionStart {
		status = http.StatusCreated
	}
	JSON(w, status, resp)
}

func parseRoles(values []string) ([]domain.Role, error) {
	roles := make([]domain.Role, 0, len(values))
	for _, v := range values {
		role, err := domain.ParseRole(v)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}
