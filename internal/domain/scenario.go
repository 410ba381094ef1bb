package domain

import "time"

// Complexity tags a scenario's relative difficulty.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Step is a single (role, action) unit of a scenario.
// Action is free text and doubles as the dispatch key within the role.
type Step struct {
	Role   Role   `json:"role"`
	Action string `json:"action"`
}

// Scenario is an immutable template of an ordered coordination choreography.
type Scenario struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	Participants      []Role        `json:"participants"`
	Steps             []Step        `json:"steps"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	Complexity        Complexity    `json:"complexity"`
}

// Clone returns a copy that shares no slices with s.
func (s Scenario) Clone() Scenario {
	out := s
	out.Participants = append([]Role(nil), s.Participants...)
	out.Steps = append([]Step(nil), s.Steps...)
	return out
}
