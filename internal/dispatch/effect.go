// Package dispatch resolves scenario steps into effects.
//
// Resolution is two-level: by step role, then by exact action text within the
// role's handler table. Every resolved step yields exactly one Effect. A step
// with no handler yields Unhandled, which callers treat as a no-op.
package dispatch

import "github.com/ashureev/coordsim/internal/domain"

// Kind names an effect variant.
type Kind string

const (
	KindSendMessage    Kind = "send-message"
	KindAssignTask     Kind = "assign-task"
	KindRecordDecision Kind = "record-decision"
	KindRecordMetric   Kind = "record-metric"
	KindUnhandled      Kind = "unhandled"
)

// Effect is the closed set of step outcomes. Only types in this package
// implement it.
type Effect interface {
	Kind() Kind
	effect()
}

// SendMessage appends a message to the session.
type SendMessage struct {
	From domain.Role
	To   domain.Role
	Body string
	Type string
}

// AssignTask appends a task assignment to the session.
type AssignTask struct {
	By          domain.Role
	To          domain.Role
	Title       string
	Description string
	Priority    int
}

// RecordDecision appends a decision to the session.
type RecordDecision struct {
	Role        domain.Role
	Type        string
	Description string
	Reasoning   string
	Confidence  int
}

// RecordMetric is forwarded to observers only; it is not stored on the session.
type RecordMetric struct {
	Role       domain.Role
	MetricType string
	Value      float64
	Unit       string
	Metadata   map[string]any
}

// Unhandled is the fallback for a (role, action) pair with no handler.
type Unhandled struct {
	Step domain.Step
}

func (SendMessage) Kind() Kind    { return KindSendMessage }
func (AssignTask) Kind() Kind     { return KindAssignTask }
func (RecordDecision) Kind() Kind { return KindRecordDecision }
func (RecordMetric) Kind() Kind   { return KindRecordMetric }
func (Unhandled) Kind() Kind      { return KindUnhandled }

func (SendMessage) effect()    {}
func (AssignTask) effect()     {}
func (RecordDecision) effect() {}
func (RecordMetric) effect()   {}
func (Unhandled) effect()      {}
