package coordination

import (
	"fmt"

	"github.com/ashureev/coordsim/internal/domain"
)

// Action is a request envelope verb.
type Action string

const (
	ActionStart        Action = "start"
	ActionGetStatus    Action = "get_status"
	ActionGetScenarios Action = "get_scenarios"
	ActionGetActive    Action = "get_active"
	ActionGetHistory   Action = "get_history"
)

// DefaultRequestHistoryLimit applies to get_history requests without a limit.
const DefaultRequestHistoryLimit = 10

// Request is the generic envelope accepted by HandleRequest.
type Request struct {
	Action       Action        `json:"action"`
	ScenarioID   string        `json:"scenarioId,omitempty"`
	SessionID    string        `json:"sessionId,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	Participants []domain.Role `json:"participants,omitempty"`
	RequestedBy  string        `json:"requestedBy,omitempty"`
}

// Response carries the result of a request. Only the field matching the
// action is set.
type Response struct {
	Action    Action            `json:"action"`
	Session   *domain.Session   `json:"session,omitempty"`
	Sessions  []*domain.Session `json:"sessions,omitempty"`
	Scenarios []domain.Scenario `json:"scenarios,omitempty"`
}

// HandleRequest dispatches an envelope over the closed action set.
func (o *Orchestrator) HandleRequest(req Request) (Response, error) {
	resp := Response{Action: req.Action}

	switch req.Action {
	case ActionStart:
		s, err := o.Start(req.ScenarioID, StartOptions{
			Participants: req.Participants,
			RequestedBy:  req.RequestedBy,
		})
		if err != nil {
			return Response{}, err
		}
		resp.Session = s

	case ActionGetStatus:
		if req.SessionID == "" {
			return Response{}, fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
		}
		s, err := o.Get(req.SessionID)
		if err != nil {
			return Response{}, err
		}
		resp.Session = s

	case ActionGetScenarios:
		resp.Scenarios = o.ListScenarios()

	case ActionGetActive:
		resp.Sessions = o.ListActive()

	case ActionGetHistory:
		limit := req.Limit
		if limit <= 0 {
			limit = DefaultRequestHistoryLimit
		}
		resp.Sessions = o.ListHistory(limit)

	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	return resp, nil
}
