package coordination

import (
	"errors"
	"fmt"

	"github.com/ashureev/coordsim/internal/domain"
)

var (
	// ErrUnknownScenario is returned when a scenario id is not in the catalog.
	ErrUnknownScenario = errors.New("unknown scenario")
	// ErrSessionNotFound is returned when a session id is neither active nor in history.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownAction is returned by HandleRequest for actions outside the closed set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrSessionFinalized is returned when mutating a session that already ended.
	ErrSessionFinalized = errors.New("session finalized")
	// ErrInvalidRequest is returned for malformed arguments.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// StepError records why a step failed. It ends the session with outcome
// error and is never returned to the caller of Start.
type StepError struct {
	SessionID string
	StepIndex int
	Role      domain.Role
	Action    string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("session %s step %d (%s: %s): %v", e.SessionID, e.StepIndex, e.Role, e.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
