package coordination

import (
	"time"

	"github.com/ashureev/coordsim/internal/domain"
)

// DelayPolicy is the simulated thinking time after a step, per role.
type DelayPolicy struct {
	Coordinator time.Duration
	Frontend    time.Duration
	Backend     time.Duration
	System      time.Duration

	// Default applies to roles outside the enumeration.
	Default time.Duration
}

// DefaultDelays returns the stock delay policy.
func DefaultDelays() DelayPolicy {
	return DelayPolicy{
		Coordinator: 2000 * time.Millisecond,
		Frontend:    1500 * time.Millisecond,
		Backend:     2500 * time.Millisecond,
		System:      1000 * time.Millisecond,
		Default:     1500 * time.Millisecond,
	}
}

// For returns the delay following a step by r.
func (p DelayPolicy) For(r domain.Role) time.Duration {
	switch r {
	case domain.RoleCoordinator:
		return p.Coordinator
	case domain.RoleFrontend:
		return p.Frontend
	case domain.RoleBackend:
		return p.Backend
	case domain.RoleSystem:
		return p.System
	default:
		return p.Default
	}
}
