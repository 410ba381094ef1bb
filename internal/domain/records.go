package domain

import "time"

// TaskStatusAssigned is the only task status this system produces.
const TaskStatusAssigned = "assigned"

// Task priority bounds.
const (
	MinPriority = 1
	MaxPriority = 5
)

// Message is a communication between two participants. Append-only.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	From      Role      `json:"from"`
	To        Role      `json:"to"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskAssignment records one participant handing work to another.
type TaskAssignment struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	AssignedBy  Role      `json:"assignedBy"`
	AssignedTo  Role      `json:"assignedTo"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    int       `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Decision is a pre-scripted descriptive decision record.
type Decision struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Role        Role      `json:"role"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Reasoning   string    `json:"reasoning"`
	Confidence  int       `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// ClampPriority bounds p to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ClampConfidence bounds c to [0, 100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// MetricRecord is a measurement reported by a step. It is published as an
// event and not kept on the session.
type MetricRecord struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	Role       Role           `json:"role"`
	MetricType string         `json:"metricType"`
	Value      float64        `json:"value"`
	Unit       string         `json:"unit"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
