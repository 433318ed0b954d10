// Package store provides durable persistence for session records.
package store

import (
	"context"

	"github.com/udaybagda/focus-proctoring-system/internal/session"
)

// Repository is the key-value session store contract the core depends on.
// Implementations persist full session rows; the in-memory aggregator stays
// authoritative while the process lives, so writes are best-effort and
// reads only matter for sessions from earlier process lifetimes.
type Repository interface {
	// SaveSession inserts or fully replaces the session record.
	SaveSession(ctx context.Context, s *session.Session) error

	// GetSession retrieves a session by ID. Returns session.ErrNotFound
	// if no record exists.
	GetSession(ctx context.Context, id string) (*session.Session, error)

	// ListSessions returns all persisted sessions, newest first.
	ListSessions(ctx context.Context) ([]*session.Session, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
