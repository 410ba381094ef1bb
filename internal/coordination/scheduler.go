package coordination

import (
	"context"
	"fmt"

	"github.com/ashureev/coordsim/internal/dispatch"
	"github.com/ashureev/coordsim/internal/domain"
	"github.com/ashureev/coordsim/internal/events"
	"github.com/ashureev/coordsim/internal/scoring"
)

// executeStep dispatches the step at the cursor and schedules the advance
// after the role's delay. Caller holds rn.mu.
func (o *Orchestrator) executeStep(rn *run) {
	s := rn.session
	if s.Status.Terminal() || o.isClosed() {
		return
	}
	step, ok := s.CurrentStep()
	if !ok {
		o.finalize(rn, nil)
		return
	}

	index := s.Cursor
	s.Status = domain.StatusExecutingStep
	o.publisher.PublishEvent(o.event(s, events.StepStarted, map[string]any{
		"step":       index,
		"totalSteps": s.TotalSteps(),
		"role":       step.Role,
		"action":     step.Action,
	}))

	effect, err := o.safeDispatch(s, step)
	if err != nil {
		s.Counters.Errors++
		stepErr := &StepError{
			SessionID: s.ID,
			StepIndex: index,
			Role:      step.Role,
			Action:    step.Action,
			Err:       err,
		}
		o.logger.Error("Step failed",
			"session_id", s.ID,
			"step", index,
			"role", step.Role,
			"action", step.Action,
			"error", err,
		)
		o.finalize(rn, stepErr)
		return
	}
	o.apply(s, step, effect)

	o.publisher.PublishEvent(o.event(s, events.StepCompleted, map[string]any{
		"step":       index,
		"totalSteps": s.TotalSteps(),
		"role":       step.Role,
		"action":     step.Action,
		"effect":     kindOf(effect),
	}))
	s.Status = domain.StatusActive

	rn.timer = o.clock.AfterFunc(o.delays.For(step.Role), func() {
		o.advance(rn)
	})
}

// advance moves the cursor past the completed step and either runs the
// next one or completes the session.
func (o *Orchestrator) advance(rn *run) {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	s := rn.session
	if s.Status.Terminal() || o.isClosed() {
		return
	}
	if s.Cursor < s.TotalSteps() {
		s.Cursor++
	}
	if s.HasNextStep() {
		o.executeStep(rn)
		return
	}
	o.finalize(rn, nil)
}

func (o *Orchestrator) safeDispatch(s *domain.Session, step domain.Step) (effect dispatch.Effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return o.dispatcher.Dispatch(s, step)
}

func kindOf(e dispatch.Effect) dispatch.Kind {
	if e == nil {
		return dispatch.KindUnhandled
	}
	return e.Kind()
}

// apply records an effect on the session and propagates it to observers.
func (o *Orchestrator) apply(s *domain.Session, step domain.Step, effect dispatch.Effect) {
	switch e := effect.(type) {
	case dispatch.SendMessage:
		o.appendMessage(s, e)

	case dispatch.AssignTask:
		task := domain.TaskAssignment{
			ID:          o.newID(),
			SessionID:   s.ID,
			AssignedBy:  e.By,
			AssignedTo:  e.To,
			Title:       e.Title,
			Description: e.Description,
			Priority:    domain.ClampPriority(e.Priority),
			Status:      domain.TaskStatusAssigned,
			CreatedAt:   o.clock.Now(),
		}
		s.Tasks = append(s.Tasks, task)
		s.Counters.TasksCompleted++
		ev := o.event(s, events.TaskAssigned, map[string]any{"task": task})
		o.publisher.PublishEvent(ev)
		o.notify(ev, e.By, e.To)
		o.logger.Debug("Task assigned", "session_id", s.ID, "from", e.By, "to", e.To, "title", e.Title)

	case dispatch.RecordDecision:
		d := domain.Decision{
			ID:          o.newID(),
			SessionID:   s.ID,
			Role:        e.Role,
			Type:        e.Type,
			Description: e.Description,
			Reasoning:   e.Reasoning,
			Confidence:  domain.ClampConfidence(e.Confidence),
			Timestamp:   o.clock.Now(),
		}
		s.Decisions = append(s.Decisions, d)
		s.Counters.DecisionsExecuted++
		ev := o.event(s, events.DecisionMade, map[string]any{"decision": d})
		o.publisher.PublishEvent(ev)
		o.notify(ev, e.Role)
		o.logger.Debug("Decision recorded", "session_id", s.ID, "role", e.Role, "type", e.Type)

	case dispatch.RecordMetric:
		m := domain.MetricRecord{
			ID:         o.newID(),
			SessionID:  s.ID,
			Role:       e.Role,
			MetricType: e.MetricType,
			Value:      e.Value,
			Unit:       e.Unit,
			Metadata:   e.Metadata,
			Timestamp:  o.clock.Now(),
		}
		ev := o.event(s, events.MetricLogged, map[string]any{"metric": m})
		o.publisher.PublishEvent(ev)
		o.notify(ev, e.Role)
		o.logger.Debug("Metric logged", "session_id", s.ID, "role", e.Role, "metric", e.MetricType, "value", e.Value)

	default:
		o.logger.Warn("Unhandled step",
			"session_id", s.ID,
			"scenario_id", s.Scenario.ID,
			"step", s.Cursor,
			"role", step.Role,
			"action", step.Action,
		)
	}
}

// appendMessage appends a message and emits message_sent. Caller holds the
// session's run lock.
func (o *Orchestrator) appendMessage(s *domain.Session, e dispatch.SendMessage) domain.Message {
	msg := domain.Message{
		ID:        o.newID(),
		SessionID: s.ID,
		From:      e.From,
		To:        e.To,
		Body:      e.Body,
		Type:      e.Type,
		Timestamp: o.clock.Now(),
	}
	s.Messages = append(s.Messages, msg)
	s.Counters.MessagesExchanged++

	ev := o.event(s, events.MessageSent, map[string]any{"message": msg})
	o.publisher.PublishEvent(ev)
	o.notify(ev, e.From, e.To)
	o.logger.Debug("Message sent", "session_id", s.ID, "from", e.From, "to", e.To, "type", e.Type)
	return msg
}

// finalize ends the session exactly once. A nil stepErr completes it with
// outcome success. Caller holds rn.mu.
func (o *Orchestrator) finalize(rn *run, stepErr *StepError) {
	s := rn.session
	if s.Status.Terminal() {
		return
	}

	now := o.clock.Now()
	s.EndedAt = &now
	if stepErr != nil {
		s.Status = domain.StatusError
		s.Outcome = domain.OutcomeError
		s.Failure = stepErr.Error()
	} else {
		s.Status = domain.StatusCompleted
		s.Outcome = domain.OutcomeSuccess
	}
	score := scoring.ForSession(s)
	s.Efficiency = &score
	rn.timer = nil

	snapshot := s.Clone()
	o.history.append(snapshot)
	o.active.remove(s.ID)

	details := map[string]any{
		"outcome":    s.Outcome,
		"efficiency": score,
		"durationMs": s.Duration(now).Milliseconds(),
		"metrics":    s.Counters,
		"stepsRun":   s.Cursor,
		"totalSteps": s.TotalSteps(),
	}
	evType := events.CoordinationCompleted
	if stepErr != nil {
		evType = events.CoordinationError
		details["error"] = stepErr.Error()
		details["step"] = stepErr.StepIndex
	}
	ev := o.event(s, evType, details)
	o.publisher.PublishEvent(ev)
	o.notify(ev, s.Participants...)

	o.logger.Info("Coordination finalized",
		"session_id", s.ID,
		"scenario_id", s.Scenario.ID,
		"outcome", s.Outcome,
		"efficiency", score,
		"duration", s.Duration(now),
	)
	o.archiveAsync(snapshot.Clone())
}

func (o *Orchestrator) archiveAsync(s *domain.Session) {
	if o.archive == nil {
		return
	}

	o.lifecycleMu.Lock()
	if o.closed {
		o.lifecycleMu.Unlock()
		o.logger.Warn("Skipping archive after close", "session_id", s.ID)
		return
	}
	o.archiveWG.Add(1)
	o.lifecycleMu.Unlock()

	go func() {
		defer o.archiveWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := o.archive.SaveSession(ctx, s); err != nil {
			o.logger.Error("Failed to archive session", "session_id", s.ID, "error", err)
		}
	}()
}

func (o *Orchestrator) event(s *domain.Session, typ events.Type, details map[string]any) events.Event {
	return events.Event{
		SessionID: s.ID,
		Type:      typ,
		Details:   details,
		Timestamp: o.clock.Now(),
	}
}

// notify sends ev to each distinct role channel.
func (o *Orchestrator) notify(ev events.Event, roles ...domain.Role) {
	sent := make([]domain.Role, 0, len(roles))
	for _, r := range roles {
		if domain.ContainsRole(sent, r) {
			continue
		}
		sent = append(sent, r)
		o.publisher.Notify(events.ParticipantTopic(r), ev)
	}
}
