// Package store provides persistence for finalized coordination sessions.
package store

import (
	"context"
	"time"

	"github.com/ashureev/coordsim/internal/domain"
)

// Repository defines the interface for archiving finalized sessions.
type Repository interface {
	// SaveSession inserts or replaces the archived snapshot of a session.
	SaveSession(ctx context.Context, s *domain.Session) error

	// GetSession retrieves an archived session. It returns nil, nil when the
	// session was never archived.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns up to limit archived sessions, most recently
	// finished first.
	ListSessions(ctx context.Context, limit int) ([]*domain.Session, error)

	// CountSessions returns the number of archived sessions.
	CountSessions(ctx context.Context) (int, error)

	// DeleteFinishedBefore removes sessions that ended before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
