// Package events defines the coordination event envelope and an in-process
// bus that fans events out to observers.
package events

import (
	"strings"
	"time"

	"github.com/ashureev/coordsim/internal/domain"
)

// Type identifies a lifecycle or effect event.
type Type string

const (
	CoordinationStarted   Type = "coordination_started"
	StepStarted           Type = "step_started"
	MessageSent           Type = "message_sent"
	TaskAssigned          Type = "task_assigned"
	DecisionMade          Type = "decision_made"
	MetricLogged          Type = "metric_logged"
	StepCompleted         Type = "step_completed"
	CoordinationCompleted Type = "coordination_completed"
	CoordinationError     Type = "coordination_error"
)

// Types returns every event type.
func Types() []Type {
	return []Type{
		CoordinationStarted,
		StepStarted,
		MessageSent,
		TaskAssigned,
		DecisionMade,
		MetricLogged,
		StepCompleted,
		CoordinationCompleted,
		CoordinationError,
	}
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// Final reports whether t ends a session's event stream.
func (t Type) Final() bool {
	return t == CoordinationCompleted || t == CoordinationError
}

// Event is the envelope published for every session event.
type Event struct {
	SessionID string         `json:"sessionId"`
	Type      Type           `json:"eventType"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Delivery is an event as seen by a subscriber: stamped with a bus-wide
// sequence id and the topic it was published on.
type Delivery struct {
	ID    int64  `json:"id"`
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}

// SessionTopicPrefix prefixes every session topic.
const SessionTopicPrefix = "session:"

// SessionTopic is the topic session-scoped events are published on.
func SessionTopic(sessionID string) string {
	return SessionTopicPrefix + sessionID
}

// ParticipantTopic is the notification channel of a participant role.
func ParticipantTopic(r domain.Role) string {
	return "participant:" + string(r)
}

// Filter selects deliveries for a subscription. Empty fields match anything.
type Filter struct {
	Topics    []string
	SessionID string
	Types     []Type

	// Prefix restricts deliveries to topics starting with it, e.g. "session:".
	Prefix string
}

// Match reports whether d passes the filter.
func (f Filter) Match(d Delivery) bool {
	if f.SessionID != "" && d.Event.SessionID != f.SessionID {
		return false
	}
	if len(f.Topics) > 0 && !containsString(f.Topics, d.Topic) {
		return false
	}
	if f.Prefix != "" && !strings.HasPrefix(d.Topic, f.Prefix) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == d.Event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
