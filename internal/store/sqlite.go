package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/udaybagda/focus-proctoring-system/internal/session"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite-backed repository at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for concurrent readers while the persister writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		candidate_name TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		status TEXT NOT NULL,
		focus_lost INTEGER NOT NULL DEFAULT 0,
		face_absent INTEGER NOT NULL DEFAULT 0,
		multiple_faces INTEGER NOT NULL DEFAULT 0,
		unauthorized_items INTEGER NOT NULL DEFAULT 0,
		drowsiness INTEGER NOT NULL DEFAULT 0,
		background_audio INTEGER NOT NULL DEFAULT 0,
		integrity_score INTEGER NOT NULL DEFAULT 100,
		degraded INTEGER NOT NULL DEFAULT 0,
		events_json TEXT NOT NULL DEFAULT '[]',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession inserts or fully replaces the session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	events, err := json.Marshal(sess.Timeline)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	var endedAt interface{}
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UnixMilli()
	}
	degraded := 0
	if sess.Degraded {
		degraded = 1
	}

	query := `
	INSERT INTO sessions (
		session_id, candidate_name, started_at, ended_at, status,
		focus_lost, face_absent, multiple_faces, unauthorized_items,
		drowsiness, background_audio, integrity_score, degraded,
		events_json, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		candidate_name = excluded.candidate_name,
		ended_at = excluded.ended_at,
		status = excluded.status,
		focus_lost = excluded.focus_lost,
		face_absent = excluded.face_absent,
		multiple_faces = excluded.multiple_faces,
		unauthorized_items = excluded.unauthorized_items,
		drowsiness = excluded.drowsiness,
		background_audio = excluded.background_audio,
		integrity_score = excluded.integrity_score,
		degraded = excluded.degraded,
		events_json = excluded.events_json,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.CandidateName, sess.StartedAt.UnixMilli(), endedAt, sess.Status.String(),
		sess.Counters.FocusLost, sess.Counters.FaceAbsent, sess.Counters.MultipleFaces,
		sess.Counters.UnauthorizedItems, sess.Counters.Drowsiness, sess.Counters.BackgroundAudio,
		sess.IntegrityScore, degraded, string(events), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	query := `
	SELECT session_id, candidate_name, started_at, ended_at, status,
	       focus_lost, face_absent, multiple_faces, unauthorized_items,
	       drowsiness, background_audio, integrity_score, degraded, events_json
	FROM sessions WHERE session_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all persisted sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*session.Session, error) {
	query := `
	SELECT session_id, candidate_name, started_at, ended_at, status,
	       focus_lost, face_absent, multiple_faces, unauthorized_items,
	       drowsiness, background_audio, integrity_score, degraded, events_json
	FROM sessions ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess       session.Session
		startedAt  int64
		endedAt    sql.NullInt64
		status     string
		degraded   int
		eventsJSON string
	)

	err := row.Scan(
		&sess.ID, &sess.CandidateName, &startedAt, &endedAt, &status,
		&sess.Counters.FocusLost, &sess.Counters.FaceAbsent, &sess.Counters.MultipleFaces,
		&sess.Counters.UnauthorizedItems, &sess.Counters.Drowsiness, &sess.Counters.BackgroundAudio,
		&sess.IntegrityScore, &degraded, &eventsJSON,
	)
	if err != nil {
		return nil, err
	}

	sess.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		sess.EndedAt = &t
	}
	if st, ok := session.ParseStatus(status); ok {
		sess.Status = st
	}
	sess.Degraded = degraded != 0

	if err := json.Unmarshal([]byte(eventsJSON), &sess.Timeline); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	return &sess, nil
}
