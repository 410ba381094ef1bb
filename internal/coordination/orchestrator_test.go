package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/coordsim/internal/clock"
	"github.com/ashureev/coordsim/internal/dispatch"
	"github.com/ashureev/coordsim/internal/domain"
	"github.com/ashureev/coordsim/internal/events"
	"github.com/ashureev/coordsim/internal/scenario"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu            sync.Mutex
	published     []events.Event
	notifications map[string][]events.Event
}

func newRecorder() *recorder {
	return &recorder{notifications: make(map[string][]events.Event)}
}

func (r *recorder) PublishEvent(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, ev)
}

func (r *recorder) Notify(channel string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[channel] = append(r.notifications[channel], ev)
}

func (r *recorder) forSession(id string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.published {
		if ev.SessionID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(id string, typ events.Type) int {
	n := 0
	for _, ev := range r.forSession(id) {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) notified(channel string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.notifications[channel]...)
}

type memoryArchive struct {
	mu       sync.Mutex
	sessions []*domain.Session
}

func (a *memoryArchive) SaveSession(_ context.Context, s *domain.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, s)
	return nil
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *clock.Fake, *recorder) {
	t.Helper()
	fc := clock.NewFake(epoch)
	rec := newRecorder()
	base := []Option{WithClock(fc), WithPublisher(rec)}
	o := New(scenario.Default(), append(base, opts...)...)
	return o, fc, rec
}

func TestCustomerServiceRunsToCompletion(t *testing.T) {
	o, fc, rec := newTestOrchestrator(t)

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, 0, s.Cursor)
	assert.Equal(t, []domain.Role{domain.RoleCoordinator, domain.RoleFrontend, domain.RoleBackend}, s.Participants)

	elapsed := fc.RunAll(100)
	assert.Equal(t, 14*time.Second, elapsed)

	final, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, domain.OutcomeSuccess, final.Outcome)
	assert.Equal(t, 7, final.Cursor)
	assert.Len(t, final.Messages, 3)
	assert.Len(t, final.Tasks, 1)
	assert.Len(t, final.Decisions, 2)
	assert.Equal(t, domain.Counters{MessagesExchanged: 3, TasksCompleted: 1, DecisionsExecuted: 2}, final.Counters)
	require.NotNil(t, final.EndedAt)
	assert.Equal(t, epoch.Add(14*time.Second), *final.EndedAt)
	require.NotNil(t, final.Efficiency)
	assert.Equal(t, 100, *final.Efficiency)

	assert.Equal(t, 7, rec.count(s.ID, events.StepStarted))
	assert.Equal(t, 7, rec.count(s.ID, events.StepCompleted))
	assert.Equal(t, 3, rec.count(s.ID, events.MessageSent))
	assert.Equal(t, 1, rec.count(s.ID, events.TaskAssigned))
	assert.Equal(t, 2, rec.count(s.ID, events.DecisionMade))
	assert.Equal(t, 1, rec.count(s.ID, events.MetricLogged))
	assert.Equal(t, 0, rec.count(s.ID, events.CoordinationError))

	evs := rec.forSession(s.ID)
	require.NotEmpty(t, evs)
	assert.Equal(t, events.CoordinationStarted, evs[0].Type)
	last := evs[len(evs)-1]
	assert.Equal(t, events.CoordinationCompleted, last.Type)
	assert.Equal(t, domain.OutcomeSuccess, last.Details["outcome"])

	assert.Equal(t, 0, o.ActiveCount())
	assert.Equal(t, 1, o.HistoryLen())
}

func TestStepEventsAreOrderedAndPaired(t *testing.T) {
	o, fc, rec := newTestOrchestrator(t)

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	fc.RunAll(100)

	next := 0
	open := false
	for _, ev := range rec.forSession(s.ID) {
		switch ev.Type {
		case events.StepStarted:
			require.False(t, open, "step started before previous completed")
			assert.Equal(t, next, ev.Details["step"])
			open = true
		case events.StepCompleted:
			require.True(t, open)
			assert.Equal(t, next, ev.Details["step"])
			open = false
			next++
		}
	}
	assert.Equal(t, 7, next)
}

func TestStartUnknownScenarioLeavesStateUnchanged(t *testing.T) {
	o, fc, rec := newTestOrchestrator(t)

	done, err := o.Start(scenario.DataPipeline, StartOptions{})
	require.NoError(t, err)
	fc.RunAll(100)
	_, err = o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)

	activeBefore, historyBefore := o.ActiveCount(), o.HistoryLen()
	publishedBefore := len(rec.published)

	s, err := o.Start("does_not_exist", StartOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownScenario)
	assert.Nil(t, s)

	assert.Equal(t, activeBefore, o.ActiveCount())
	assert.Equal(t, historyBefore, o.HistoryLen())
	assert.Equal(t, publishedBefore, len(rec.published))

	_, err = o.Get(done.ID)
	assert.NoError(t, err)
}

func TestConcurrentSessionsHaveIndependentCursors(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t)

	cursor := func(id string) int {
		s, err := o.Get(id)
		require.NoError(t, err)
		return s.Cursor
	}

	a, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	fc.Advance(0)
	fc.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1, cursor(a.ID))

	b, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 0, cursor(b.ID))

	fc.Advance(0)
	assert.Equal(t, 1, cursor(a.ID))
	assert.Equal(t, 0, cursor(b.ID))

	fc.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1, cursor(a.ID))
	assert.Equal(t, 1, cursor(b.ID))

	fc.Advance(500 * time.Millisecond)
	assert.Equal(t, 2, cursor(a.ID))
	assert.Equal(t, 1, cursor(b.ID))

	fc.RunAll(100)
	assert.Equal(t, 7, cursor(a.ID))
	assert.Equal(t, 7, cursor(b.ID))
}

func TestParallelSessionsWithRealClock(t *testing.T) {
	fast := DelayPolicy{
		Coordinator: time.Millisecond,
		Frontend:    time.Millisecond,
		Backend:     time.Millisecond,
		System:      time.Millisecond,
		Default:     time.Millisecond,
	}
	o := New(scenario.Default(), WithDelays(fast))

	const n = 8
	ids := make([]string, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := o.Start(scenario.IncidentResponse, StartOptions{})
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			ids = append(ids, s.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return o.HistoryLen() == n }, 5*time.Second, 10*time.Millisecond)
	for _, id := range ids {
		s, err := o.Get(id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, s.Status)
		assert.Equal(t, s.TotalSteps(), s.Cursor)
	}
	require.NoError(t, o.Close(context.Background()))
}

func TestCursorNeverExceedsStepCount(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t)

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)

	prev := 0
	for i := 0; i < 60; i++ {
		fc.Advance(500 * time.Millisecond)
		got, err := o.Get(s.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.Cursor, prev)
		assert.LessOrEqual(t, got.Cursor, got.TotalSteps())
		prev = got.Cursor
	}
	assert.Equal(t, 7, prev)
}

func TestStepFailureFinalizesWithError(t *testing.T) {
	boom := errors.New("records unavailable")
	table := dispatch.New(dispatch.WithHandler(domain.RoleCoordinator, domain.ActionAnalyzeInquiry,
		func(*domain.Session, domain.Step) (dispatch.Effect, error) {
			return nil, boom
		}))
	o, fc, rec := newTestOrchestrator(t, WithDispatcher(table))

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	fc.RunAll(100)

	final, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, final.Status)
	assert.Equal(t, domain.OutcomeError, final.Outcome)
	assert.Equal(t, 1, final.Counters.Errors)
	assert.Equal(t, 1, final.Cursor)
	assert.Contains(t, final.Failure, "records unavailable")
	require.NotNil(t, final.Efficiency)

	assert.Equal(t, 2, rec.count(s.ID, events.StepStarted))
	assert.Equal(t, 1, rec.count(s.ID, events.StepCompleted))
	assert.Equal(t, 0, rec.count(s.ID, events.CoordinationCompleted))

	evs := rec.forSession(s.ID)
	last := evs[len(evs)-1]
	assert.Equal(t, events.CoordinationError, last.Type)
	assert.Equal(t, 1, last.Details["step"])
	assert.Equal(t, 0, fc.Pending())
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	table := dispatch.New(dispatch.WithHandler(domain.RoleFrontend, domain.ActionReceiveInquiry,
		func(*domain.Session, domain.Step) (dispatch.Effect, error) {
			panic("nil template")
		}))
	o, fc, _ := newTestOrchestrator(t, WithDispatcher(table))

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	fc.RunAll(100)

	final, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, final.Status)
	assert.Equal(t, 0, final.Cursor)
	assert.Contains(t, final.Failure, "panic")
}

func TestUnhandledStepsDoNotStopTheLoop(t *testing.T) {
	o, fc, rec := newTestOrchestrator(t, WithDispatcher(dispatch.New(dispatch.WithoutDefaults())))

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	fc.RunAll(100)

	final, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, domain.OutcomeSuccess, final.Outcome)
	assert.Equal(t, 7, final.Cursor)
	assert.Empty(t, final.Messages)
	assert.Equal(t, 0, final.Counters.Errors)
	assert.Equal(t, 7, rec.count(s.ID, events.StepCompleted))
}

func TestHistoryIsImmutable(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t)

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	fc.RunAll(100)

	snap, err := o.Get(s.ID)
	require.NoError(t, err)
	snap.Status = domain.StatusActive
	snap.Messages = append(snap.Messages, domain.Message{Body: "tampered"})
	snap.Messages[0].Body = "tampered"
	*snap.Efficiency = 0

	again, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Len(t, again.Messages, 3)
	assert.NotEqual(t, "tampered", again.Messages[0].Body)
	assert.Equal(t, 100, *again.Efficiency)

	_, err = o.SendMessage(s.ID, domain.RoleFrontend, domain.RoleCoordinator, "late", "direct")
	assert.ErrorIs(t, err, ErrSessionFinalized)

	again, err = o.Get(s.ID)
	require.NoError(t, err)
	assert.Len(t, again.Messages, 3)
}

func TestSendMessage(t *testing.T) {
	o, fc, rec := newTestOrchestrator(t)

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)

	msg, err := o.SendMessage(s.ID, domain.RoleBackend, domain.RoleFrontend, "status check", "")
	require.NoError(t, err)
	assert.Equal(t, s.ID, msg.SessionID)
	assert.Equal(t, "direct", msg.Type)
	assert.NotEmpty(t, msg.ID)

	got, err := o.Get(s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, 1, got.Counters.MessagesExchanged)
	assert.Equal(t, 1, rec.count(s.ID, events.MessageSent))
	assert.Len(t, rec.notified(events.ParticipantTopic(domain.RoleFrontend)), 2)

	_, err = o.SendMessage("missing", domain.RoleBackend, domain.RoleFrontend, "hi", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = o.SendMessage(s.ID, domain.Role("manager"), domain.RoleFrontend, "hi", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.SendMessage(s.ID, domain.RoleBackend, domain.RoleFrontend, "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	fc.RunAll(100)
	final, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, final.Counters.MessagesExchanged)
	assert.Equal(t, "status check", final.Messages[0].Body)
}

func TestSessionScopedParticipants(t *testing.T) {
	o, fc, rec := newTestOrchestrator(t)

	s, err := o.Start(scenario.CustomerService, StartOptions{
		Participants: []domain.Role{domain.RoleCoordinator, domain.RoleCoordinator},
		RequestedBy:  "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleCoordinator}, s.Participants)
	assert.Equal(t, "ops", s.RequestedBy)

	fc.RunAll(100)
	coordinator := rec.notified(events.ParticipantTopic(domain.RoleCoordinator))
	require.NotEmpty(t, coordinator)
	assert.Equal(t, events.CoordinationStarted, coordinator[0].Type)
	assert.Equal(t, events.CoordinationCompleted, coordinator[len(coordinator)-1].Type)

	for _, ev := range rec.notified(events.ParticipantTopic(domain.RoleBackend)) {
		assert.NotEqual(t, events.CoordinationStarted, ev.Type)
	}

	_, err = o.Start(scenario.CustomerService, StartOptions{Participants: []domain.Role{domain.RoleSystem}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHistoryLimitTrimsOldest(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t, WithHistoryLimit(2))

	var ids []string
	for _, id := range []string{scenario.CustomerService, scenario.DataPipeline, scenario.BusinessIntelligence} {
		s, err := o.Start(id, StartOptions{})
		require.NoError(t, err)
		fc.RunAll(100)
		ids = append(ids, s.ID)
	}

	assert.Equal(t, 2, o.HistoryLen())
	_, err := o.Get(ids[0])
	assert.ErrorIs(t, err, ErrSessionNotFound)

	recent := o.ListHistory(10)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)

	one := o.ListHistory(1)
	require.Len(t, one, 1)
	assert.Equal(t, ids[2], one[0].ID)
}

func TestListActive(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t)

	a, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	b, err := o.Start(scenario.IncidentResponse, StartOptions{})
	require.NoError(t, err)

	active := o.ListActive()
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)

	fc.RunAll(100)
	assert.Empty(t, o.ListActive())
	assert.Len(t, o.ListScenarios(), 4)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestIDGeneratorNamesEveryRecord(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t, WithIDGenerator(sequentialIDs()))

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, "id-1", s.ID)
	fc.RunAll(100)

	final, err := o.Get("id-1")
	require.NoError(t, err)

	var msgIDs, decisionIDs, taskIDs []string
	for _, m := range final.Messages {
		msgIDs = append(msgIDs, m.ID)
	}
	for _, d := range final.Decisions {
		decisionIDs = append(decisionIDs, d.ID)
	}
	for _, tk := range final.Tasks {
		taskIDs = append(taskIDs, tk.ID)
	}
	// id-5 goes to the metric of step 3, which is not stored on the session.
	assert.Equal(t, []string{"id-2", "id-6", "id-8"}, msgIDs)
	assert.Equal(t, []string{"id-3", "id-7"}, decisionIDs)
	assert.Equal(t, []string{"id-4"}, taskIDs)
}

func TestDuplicateSessionIDIsRejected(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t, WithIDGenerator(func() string { return "fixed" }))

	_, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)

	_, err = o.Start(scenario.DataPipeline, StartOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, o.ActiveCount())

	fc.RunAll(100)
	_, err = o.Start(scenario.DataPipeline, StartOptions{})
	require.Error(t, err)
	assert.Equal(t, 0, o.ActiveCount())
	assert.Equal(t, 1, o.HistoryLen())

	got, err := o.Get("fixed")
	require.NoError(t, err)
	assert.Equal(t, scenario.CustomerService, got.Scenario.ID)
}

func TestFinalizedSessionsAreArchived(t *testing.T) {
	archive := &memoryArchive{}
	o, fc, _ := newTestOrchestrator(t, WithArchive(archive))

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	fc.RunAll(100)
	require.NoError(t, o.Close(context.Background()))

	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.sessions, 1)
	assert.Equal(t, s.ID, archive.sessions[0].ID)
	assert.Equal(t, domain.OutcomeSuccess, archive.sessions[0].Outcome)
}

func TestCloseStopsPendingSteps(t *testing.T) {
	o, fc, _ := newTestOrchestrator(t)

	s, err := o.Start(scenario.CustomerService, StartOptions{})
	require.NoError(t, err)
	fc.Advance(0)
	fc.Advance(1500 * time.Millisecond)

	require.NoError(t, o.Close(context.Background()))
	require.NoError(t, o.Close(context.Background()))
	fc.RunAll(100)

	got, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cursor)
	assert.False(t, got.Status.Terminal())

	_, err = o.Start(scenario.CustomerService, StartOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDelayPolicy(t *testing.T) {
	p := DefaultDelays()
	assert.Equal(t, 2*time.Second, p.For(domain.RoleCoordinator))
	assert.Equal(t, 1500*time.Millisecond, p.For(domain.RoleFrontend))
	assert.Equal(t, 2500*time.Millisecond, p.For(domain.RoleBackend))
	assert.Equal(t, time.Second, p.For(domain.RoleSystem))
	assert.Equal(t, 1500*time.Millisecond, p.For(domain.Role("observer")))
}
