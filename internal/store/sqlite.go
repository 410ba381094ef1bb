package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/coordsim/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while an archive write is in flight.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS coordination_sessions (
		session_id TEXT PRIMARY KEY,
		scenario_id TEXT NOT NULL,
		status TEXT NOT NULL,
		outcome TEXT NOT NULL,
		efficiency INTEGER,
		messages_exchanged INTEGER NOT NULL DEFAULT 0,
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		decisions_executed INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		requested_by TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		payload_json TEXT NOT NULL,
		archived_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_ended ON coordination_sessions(ended_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_scenario ON coordination_sessions(scenario_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession archives a snapshot. SQLITE_BUSY and locked errors are retried
// with exponential backoff.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("save session: missing session id")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.ID, err)
	}
	return withRetry(ctx, "save session "+sess.ID, func() error {
		return s.saveSessionOnce(ctx, sess, payload)
	})
}

func (s *SQLiteStore) saveSessionOnce(ctx context.Context, sess *domain.Session, payload []byte) error {
	query := `
	INSERT INTO coordination_sessions (
		session_id, scenario_id, status, outcome, efficiency,
		messages_exchanged, tasks_completed, decisions_executed, errors,
		requested_by, started_at, ended_at, payload_json, archived_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		outcome = excluded.outcome,
		efficiency = excluded.efficiency,
		messages_exchanged = excluded.messages_exchanged,
		tasks_completed = excluded.tasks_completed,
		decisions_executed = excluded.decisions_executed,
		errors = excluded.errors,
		ended_at = excluded.ended_at,
		payload_json = excluded.payload_json,
		archived_at = excluded.archived_at`

	var efficiency interface{}
	if sess.Efficiency != nil {
		efficiency = *sess.Efficiency
	}
	var endedAt interface{}
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UnixMilli()
	}
	var requestedBy interface{}
	if sess.RequestedBy != "" {
		requestedBy = sess.RequestedBy
	}

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.Scenario.ID, string(sess.Status), string(sess.Outcome), efficiency,
		sess.Counters.MessagesExchanged, sess.Counters.TasksCompleted,
		sess.Counters.DecisionsExecuted, sess.Counters.Errors,
		requestedBy, sess.StartedAt.UnixMilli(), endedAt, string(payload), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves an archived session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM coordination_sessions WHERE session_id = ?`, sessionID)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return decodeSession(payload)
}

// ListSessions returns the most recently finished sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT payload_json FROM coordination_sessions
		ORDER BY COALESCE(ended_at, started_at) DESC, archived_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	sessions := make([]*domain.Session, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess, err := decodeSession(payload)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CountSessions returns the number of archived sessions.
func (s *SQLiteStore) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coordination_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// DeleteFinishedBefore removes sessions that ended before cutoff.
func (s *SQLiteStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withRetry(ctx, "delete finished sessions", func() error {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM coordination_sessions WHERE ended_at IS NOT NULL AND ended_at < ?`,
			cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete finished sessions: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func decodeSession(payload string) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	return &sess, nil
}

// withRetry runs fn, retrying SQLite busy/locked errors with exponential
// backoff: 100ms, 200ms.
func withRetry(ctx context.Context, op string, fn func() error) error {
	for i := 0; ; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		if i == maxRetries-1 {
			return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, err)
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying",
			"op", op,
			"attempt", i+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
}
