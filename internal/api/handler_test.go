//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/coordsim/internal/clock"
	"github.com/ashureev/coordsim/internal/coordination"
	"github.com/ashureev/coordsim/internal/domain"
	"github.com/ashureev/coordsim/internal/identity"
	"github.com/ashureev/coordsim/internal/middleware"
	"github.com/ashureev/coordsim/internal/scenario"
	"github.com/ashureev/coordsim/internal/store"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{coordination.ErrUnknownScenario, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", coordination.ErrInvalidRequest), http.StatusBadRequest},
		{coordination.ErrUnknownAction, http.StatusBadRequest},
		{coordination.ErrSessionNotFound, http.StatusNotFound},
		{coordination.ErrSessionFinalized, http.StatusConflict},
		{coordination.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

type testServer struct {
	router  chi.Router
	coord   *coordination.Orchestrator
	clock   *clock.Fake
	archive store.Repository
}

func newTestServer(t *testing.T, withArchive bool, limit func(http.Handler) http.Handler) *testServer {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	var archive store.Repository
	opts := []coordination.Option{coordination.WithClock(fc)}
	if withArchive {
		repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "archive.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		archive = repo
		opts = append(opts, coordination.WithArchive(repo))
	}
	coord := coordination.New(scenario.Default(), opts...)
	t.Cleanup(func() { _ = coord.Close(context.Background()) })

	r := chi.NewRouter()
	NewCoordinationHandler(coord, archive, limit).RegisterRoutes(r)
	NewHealthHandler(archive, coord).RegisterHealth(r)
	return &testServer{router: r, coord: coord, clock: fc, archive: archive}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:4000"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&v))
	return v
}

type sessionList struct {
	Sessions []domain.Session `json:"sessions"`
	Source   string           `json:"source"`
}

func TestListScenarios(t *testing.T) {
	srv := newTestServer(t, false, nil)

	w := srv.do(http.MethodGet, "/api/scenarios", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Scenarios []domain.Scenario `json:"scenarios"`
	}](t, w)
	require.Len(t, body.Scenarios, 4)
	assert.Equal(t, scenario.CustomerService, body.Scenarios[0].ID)
}

func TestStartCoordination(t *testing.T) {
	srv := newTestServer(t, false, nil)

	w := srv.do(http.MethodPost, "/api/coordinations",
		`{"scenarioId":"customer_service","participants":["coordinator","backend"],"requestedBy":"ops"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	s := decode[domain.Session](t, w)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, []domain.Role{domain.RoleCoordinator, domain.RoleBackend}, s.Participants)
	assert.Equal(t, "ops", s.RequestedBy)

	w = srv.do(http.MethodGet, "/api/coordinations", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[sessionList](t, w).Sessions, 1)
}

func TestStartAttributesRequester(t *testing.T) {
	srv := newTestServer(t, false, nil)
	h := identity.Middleware(srv.router)

	req := httptest.NewRequest(http.MethodPost, "/api/coordinations", strings.NewReader(`{"scenarioId":"data_pipeline"}`))
	req.Header.Set(identity.RequesterHeaderName, "etl-bot")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "etl-bot", decode[domain.Session](t, w).RequestedBy)

	req = httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(`{"action":"start","scenarioId":"data_pipeline"}`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[coordination.Response](t, w)
	require.NotNil(t, resp.Session)
	assert.Regexp(t, `^client_[a-f0-9]{32}$`, resp.Session.RequestedBy)
}

func TestStartCoordinationErrors(t *testing.T) {
	srv := newTestServer(t, false, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown scenario", `{"scenarioId":"does_not_exist"}`, http.StatusBadRequest},
		{"missing scenario", `{}`, http.StatusBadRequest},
		{"unknown role", `{"scenarioId":"customer_service","participants":["manager"]}`, http.StatusBadRequest},
		{"non-member role", `{"scenarioId":"customer_service","participants":["system"]}`, http.StatusBadRequest},
		{"malformed", `{"scenarioId":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(http.MethodPost, "/api/coordinations", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
	assert.Equal(t, 0, srv.coord.ActiveCount())
}

func TestStartIsRateLimited(t *testing.T) {
	rl := middleware.NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	srv := newTestServer(t, false, rl.Middleware)

	first := srv.do(http.MethodPost, "/api/coordinations", `{"scenarioId":"customer_service"}`)
	assert.Equal(t, http.StatusCreated, first.Code)
	second := srv.do(http.MethodPost, "/api/coordinations", `{"scenarioId":"customer_service"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, 1, srv.coord.ActiveCount())
}

func TestGetCoordination(t *testing.T) {
	srv := newTestServer(t, false, nil)

	started, err := srv.coord.Start(scenario.CustomerService, coordination.StartOptions{})
	require.NoError(t, err)
	srv.clock.RunAll(100)

	w := srv.do(http.MethodGet, "/api/coordinations/"+started.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	s := decode[domain.Session](t, w)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, 7, s.Cursor)
	require.NotNil(t, s.Efficiency)

	w = srv.do(http.MethodGet, "/api/coordinations/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetFallsBackToArchive(t *testing.T) {
	srv := newTestServer(t, true, nil)

	ended := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, srv.archive.SaveSession(context.Background(), &domain.Session{
		ID:        "archived-1",
		Scenario:  domain.Scenario{ID: scenario.DataPipeline},
		Status:    domain.StatusCompleted,
		Outcome:   domain.OutcomeSuccess,
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   &ended,
	}))

	w := srv.do(http.MethodGet, "/api/coordinations/archived-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "archived-1", decode[domain.Session](t, w).ID)

	w = srv.do(http.MethodGet, "/api/coordinations/history?source=archive", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[sessionList](t, w)
	assert.Equal(t, "archive", list.Source)
	require.Len(t, list.Sessions, 1)

	w = srv.do(http.MethodGet, "/api/coordinations/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListHistory(t *testing.T) {
	srv := newTestServer(t, false, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := srv.coord.Start(scenario.DataPipeline, coordination.StartOptions{})
		require.NoError(t, err)
		srv.clock.RunAll(100)
		ids = append(ids, s.ID)
	}

	w := srv.do(http.MethodGet, "/api/coordinations/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[sessionList](t, w)
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, ids[2], list.Sessions[0].ID)
	assert.Equal(t, ids[1], list.Sessions[1].ID)

	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, "/api/coordinations/history?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, "/api/coordinations/history?source=archive", "").Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, "/api/coordinations/history?source=disk", "").Code)
}

func TestSendMessage(t *testing.T) {
	srv := newTestServer(t, false, nil)

	s, err := srv.coord.Start(scenario.CustomerService, coordination.StartOptions{})
	require.NoError(t, err)
	path := "/api/coordinations/" + s.ID + "/messages"

	w := srv.do(http.MethodPost, path, `{"from":"frontend","to":"coordinator","body":"customer is waiting"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decode[domain.Message](t, w)
	assert.Equal(t, domain.RoleFrontend, msg.From)
	assert.Equal(t, "customer is waiting", msg.Body)

	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodPost, path, `{"from":"boss","to":"coordinator","body":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodPost, path, `{"from":"frontend","to":"coordinator"}`).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodPost, "/api/coordinations/nope/messages",
		`{"from":"frontend","to":"coordinator","body":"x"}`).Code)

	srv.clock.RunAll(100)
	w = srv.do(http.MethodPost, path, `{"from":"frontend","to":"coordinator","body":"too late"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRequest(t *testing.T) {
	srv := newTestServer(t, false, nil)

	w := srv.do(http.MethodPost, "/api/requests", `{"action":"start","scenarioId":"incident_response"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	started := decode[coordination.Response](t, w)
	require.NotNil(t, started.Session)

	w = srv.do(http.MethodPost, "/api/requests", `{"action":"get_status","sessionId":"`+started.Session.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[coordination.Response](t, w)
	require.NotNil(t, status.Session)
	assert.Equal(t, started.Session.ID, status.Session.ID)

	w = srv.do(http.MethodPost, "/api/requests", `{"action":"get_scenarios"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[coordination.Response](t, w).Scenarios, 4)

	w = srv.do(http.MethodPost, "/api/requests", `{"action":"get_active"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[coordination.Response](t, w).Sessions, 1)

	w = srv.do(http.MethodPost, "/api/requests", `{"action":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown action")

	w = srv.do(http.MethodPost, "/api/requests", `{"action":"get_status"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	t.Run("archive enabled", func(t *testing.T) {
		srv := newTestServer(t, true, nil)
		w := srv.do(http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]interface{}](t, w)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "ok", body["checks"].(map[string]interface{})["database"])
	})

	t.Run("archive disabled", func(t *testing.T) {
		srv := newTestServer(t, false, nil)
		w := srv.do(http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]interface{}](t, w)
		assert.Equal(t, "disabled", body["checks"].(map[string]interface{})["database"])
	})

	t.Run("database closed", func(t *testing.T) {
		srv := newTestServer(t, true, nil)
		require.NoError(t, srv.archive.Close())
		w := srv.do(http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
