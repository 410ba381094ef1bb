// Package coordination runs scenario sessions: it owns the session state
// machine, the timed step loop, the active registry and the history of
// finalized sessions.
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/coordsim/internal/clock"
	"github.com/ashureev/coordsim/internal/dispatch"
	"github.com/ashureev/coordsim/internal/domain"
	"github.com/ashureev/coordsim/internal/events"
)

const archiveTimeout = 10 * time.Second

// Catalog provides scenario definitions.
type Catalog interface {
	Get(id string) (domain.Scenario, bool)
	List() []domain.Scenario
}

// Dispatcher resolves a step into an effect.
type Dispatcher interface {
	Dispatch(s *domain.Session, step domain.Step) (dispatch.Effect, error)
}

// Publisher receives events. Implementations must not block.
type Publisher interface {
	PublishEvent(ev events.Event)
	Notify(channel string, ev events.Event)
}

// Archive persists finalized sessions.
type Archive interface {
	SaveSession(ctx context.Context, s *domain.Session) error
}

type nopPublisher struct{}

func (nopPublisher) PublishEvent(events.Event)   {}
func (nopPublisher) Notify(string, events.Event) {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source used for timestamps and step delays.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithDispatcher replaces the built-in dispatch table.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithDelays sets the per-role step delay policy.
func WithDelays(p DelayPolicy) Option {
	return func(o *Orchestrator) { o.delays = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithArchive persists every finalized session.
func WithArchive(a Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithHistoryLimit bounds the in-memory history. Oldest entries are dropped.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) { o.historyLimit = n }
}

// WithIDGenerator overrides uuid-based id generation.
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

// StartOptions are the optional arguments of Start.
type StartOptions struct {
	// Participants narrows the notified roles to a subset of the scenario's.
	Participants []domain.Role
	RequestedBy  string
}

// Orchestrator is the entry point for starting and inspecting sessions.
type Orchestrator struct {
	catalog      Catalog
	dispatcher   Dispatcher
	publisher    Publisher
	archive      Archive
	clock        clock.Clock
	delays       DelayPolicy
	logger       *slog.Logger
	newID        func() string
	historyLimit int

	active  *registry
	history *history

	lifecycleMu sync.Mutex
	closed      bool
	archiveWG   sync.WaitGroup
}

// New creates an orchestrator over catalog.
func New(catalog Catalog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:      catalog,
		delays:       DefaultDelays(),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.dispatcher == nil {
		o.dispatcher = dispatch.New()
	}
	if o.publisher == nil {
		o.publisher = nopPublisher{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "orchestrator")
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	o.active = newRegistry()
	o.history = newHistory(o.historyLimit)
	return o
}

// Start creates a session for scenarioID, notifies its participants and
// schedules the first step. It returns a snapshot of the new session.
func (o *Orchestrator) Start(scenarioID string, opts StartOptions) (*domain.Session, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	sc, ok := o.catalog.Get(scenarioID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, scenarioID)
	}
	participants, err := resolveParticipants(sc, opts.Participants)
	if err != nil {
		return nil, err
	}

	s := &domain.Session{
		ID:           o.newID(),
		Scenario:     sc,
		Status:       domain.StatusInitializing,
		Participants: participants,
		RequestedBy:  opts.RequestedBy,
		Messages:     []domain.Message{},
		Tasks:        []domain.TaskAssignment{},
		Decisions:    []domain.Decision{},
		StartedAt:    o.clock.Now(),
	}
	if o.history.contains(s.ID) {
		return nil, fmt.Errorf("session %s already exists in history", s.ID)
	}

	rn := &run{session: s}
	rn.mu.Lock()
	defer rn.mu.Unlock()

	if err := o.active.insert(rn); err != nil {
		return nil, err
	}

	started := o.event(s, events.CoordinationStarted, map[string]any{
		"scenarioId":   sc.ID,
		"scenarioName": sc.Name,
		"participants": participants,
		"totalSteps":   s.TotalSteps(),
		"requestedBy":  opts.RequestedBy,
	})
	o.publisher.PublishEvent(started)
	o.notify(started, participants...)

	s.Status = domain.StatusActive
	o.logger.Info("Coordination started",
		"session_id", s.ID,
		"scenario_id", sc.ID,
		"participants", participants,
	)

	rn.timer = o.clock.AfterFunc(0, func() {
		rn.mu.Lock()
		defer rn.mu.Unlock()
		o.executeStep(rn)
	})
	return s.Clone(), nil
}

// Get returns a snapshot of an active or historical session.
func (o *Orchestrator) Get(sessionID string) (*domain.Session, error) {
	if rn, ok := o.active.get(sessionID); ok {
		return rn.snapshot(), nil
	}
	if s, ok := o.history.get(sessionID); ok {
		return s.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

// ListScenarios returns the catalog in definition order.
func (o *Orchestrator) ListScenarios() []domain.Scenario {
	return o.catalog.List()
}

// ListActive returns snapshots of running sessions in start order.
func (o *Orchestrator) ListActive() []*domain.Session {
	runs := o.active.list()
	out := make([]*domain.Session, 0, len(runs))
	for _, rn := range runs {
		out = append(out, rn.snapshot())
	}
	return out
}

// ListHistory returns up to limit finalized sessions, newest first.
// limit <= 0 returns everything retained.
func (o *Orchestrator) ListHistory(limit int) []*domain.Session {
	recent := o.history.recent(limit)
	out := make([]*domain.Session, 0, len(recent))
	for _, s := range recent {
		out = append(out, s.Clone())
	}
	return out
}

// ActiveCount returns the number of running sessions.
func (o *Orchestrator) ActiveCount() int {
	return o.active.len()
}

// HistoryLen returns the number of finalized sessions held in memory.
func (o *Orchestrator) HistoryLen() int {
	return o.history.len()
}

// SendMessage appends an ad-hoc message to an active session. Finalized
// sessions are immutable and return ErrSessionFinalized.
func (o *Orchestrator) SendMessage(sessionID string, from, to domain.Role, body, typ string) (domain.Message, error) {
	if !from.Valid() || !to.Valid() {
		return domain.Message{}, fmt.Errorf("%w: unknown role in %q -> %q", ErrInvalidRequest, from, to)
	}
	if body == "" {
		return domain.Message{}, fmt.Errorf("%w: message body is required", ErrInvalidRequest)
	}
	if typ == "" {
		typ = "direct"
	}

	rn, ok := o.active.get(sessionID)
	if !ok {
		if o.history.contains(sessionID) {
			return domain.Message{}, fmt.Errorf("%w: %s", ErrSessionFinalized, sessionID)
		}
		return domain.Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.session.Status.Terminal() {
		return domain.Message{}, fmt.Errorf("%w: %s", ErrSessionFinalized, sessionID)
	}
	return o.appendMessage(rn.session, dispatch.SendMessage{From: from, To: to, Body: body, Type: typ}), nil
}

// Close stops all pending step timers and waits for in-flight archive
// writes until ctx is done. Sessions still running are left as they are.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.lifecycleMu.Lock()
	if o.closed {
		o.lifecycleMu.Unlock()
		return nil
	}
	o.closed = true
	o.lifecycleMu.Unlock()

	stopped := 0
	for _, rn := range o.active.list() {
		rn.mu.Lock()
		if rn.timer != nil && rn.timer.Stop() {
			stopped++
		}
		rn.mu.Unlock()
	}
	o.logger.Info("Orchestrator closing", "stopped_timers", stopped, "active", o.active.len())

	done := make(chan struct{})
	go func() {
		o.archiveWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for archive writes: %w", ctx.Err())
	}
}

func (o *Orchestrator) isClosed() bool {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	return o.closed
}

func resolveParticipants(sc domain.Scenario, requested []domain.Role) ([]domain.Role, error) {
	if len(requested) == 0 {
		return append([]domain.Role(nil), sc.Participants...), nil
	}
	out := make([]domain.Role, 0, len(requested))
	for _, r := range requested {
		if !domain.ContainsRole(sc.Participants, r) {
			return nil, fmt.Errorf("%w: role %q is not a participant of scenario %s", ErrInvalidRequest, r, sc.ID)
		}
		if !domain.ContainsRole(out, r) {
			out = append(out, r)
		}
	}
	return out, nil
}
