package domain

import (
	"time"
)

// Status is the state of a coordination session.
type Status string

const (
	StatusInitializing  Status = "initializing"
	StatusActive        Status = "active"
	StatusExecutingStep Status = "executing_step"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Outcome is the final result of a session.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Counters tracks the activity of a session.
// TasksCompleted counts assignments, not completed work.
type Counters struct {
	MessagesExchanged int `json:"messagesExchanged"`
	TasksCompleted    int `json:"tasksCompleted"`
	DecisionsExecuted int `json:"decisionsExecuted"`
	Errors            int `json:"errors"`
}

// Session is one execution of a scenario.
type Session struct {
	ID           string           `json:"id"`
	Scenario     Scenario         `json:"scenario"`
	Status       Status           `json:"status"`
	Participants []Role           `json:"participants"`
	RequestedBy  string           `json:"requestedBy,omitempty"`
	Cursor       int              `json:"currentStep"`
	Messages     []Message        `json:"messages"`
	Tasks        []TaskAssignment `json:"tasks"`
	Decisions    []Decision       `json:"decisions"`
	Counters     Counters         `json:"metrics"`
	StartedAt    time.Time        `json:"startTime"`
	EndedAt      *time.Time       `json:"endTime,omitempty"`
	Outcome      Outcome          `json:"outcome,omitempty"`
	Efficiency   *int             `json:"efficiency,omitempty"`
	Failure      string           `json:"failure,omitempty"`
}

// TotalSteps returns the number of steps in the session's scenario.
func (s *Session) TotalSteps() int {
	return len(s.Scenario.Steps)
}

// HasNextStep reports whether the cursor points at a step.
func (s *Session) HasNextStep() bool {
	return s.Cursor < len(s.Scenario.Steps)
}

// CurrentStep returns the step at the cursor.
func (s *Session) CurrentStep() (Step, bool) {
	if !s.HasNextStep() {
		return Step{}, false
	}
	return s.Scenario.Steps[s.Cursor], true
}

// Duration returns the elapsed time from start to end, or to now while running.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Clone returns a deep copy. History holds clones so callers can never reach
// a live session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Scenario = s.Scenario.Clone()
	out.Participants = append([]Role(nil), s.Participants...)
	out.Messages = append([]Message(nil), s.Messages...)
	out.Tasks = append([]TaskAssignment(nil), s.Tasks...)
	out.Decisions = append([]Decision(nil), s.Decisions...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.Efficiency != nil {
		e := *s.Efficiency
		out.Efficiency = &e
	}
	return &out
}
