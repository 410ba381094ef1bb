// Package domain contains core domain types for the coordination simulator.
package domain

import "fmt"

// Role is the participant category a step is attributed to.
type Role string

const (
	// RoleCoordinator plans, delegates and approves.
	RoleCoordinator Role = "coordinator"
	// RoleFrontend faces the requester.
	RoleFrontend Role = "frontend"
	// RoleBackend processes data on behalf of the coordinator.
	RoleBackend Role = "backend"
	// RoleSystem covers automated bookkeeping steps.
	RoleSystem Role = "system"
)

// Roles returns the closed role enumeration in canonical order.
func Roles() []Role {
	return []Role{RoleCoordinator, RoleFrontend, RoleBackend, RoleSystem}
}

// Valid reports whether r belongs to the role enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleFrontend, RoleBackend, RoleSystem:
		return true
	}
	return false
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// ContainsRole reports whether roles contains r.
func ContainsRole(roles []Role, r Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}
