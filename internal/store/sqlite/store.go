// Package sqlite is a single-file store for running the dashboard API without
// a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gridops/internal/domain"
	storepkg "gridops/internal/store"
)

const SchemaVersion = "1"

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS refresh_sessions (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	scopes TEXT NOT NULL DEFAULT '[]',
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS refresh_sessions_subject_idx ON refresh_sessions(subject);
CREATE TABLE IF NOT EXISTS diagrams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner TEXT NOT NULL,
	state TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	subject TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
`

// Store keeps timestamps as unix nanoseconds and JSON documents as TEXT.
type Store struct {
	mu         sync.Mutex
	db         *sql.DB
	refreshTTL time.Duration
}

// NewStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewStore(path string, refreshTTL time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	s := &Store{db: db, refreshTTL: refreshTTL}

	var version string
	err = db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO metadata (key, value) VALUES ('schema_version', ?)`, SchemaVersion); err != nil {
			db.Close()
			return nil, err
		}
	case err != nil:
		db.Close()
		return nil, err
	case version != SchemaVersion:
		db.Close()
		return nil, fmt.Errorf("unsupported schema version: %s (expected %s)", version, SchemaVersion)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) IssueRefreshSession(subject string, scopes []string) (domain.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return issue(context.Background(), s.db, subject, scopes, s.refreshTTL)
}

func issue(ctx context.Context, db execer, subject string, scopes []string, ttl time.Duration) (domain.RefreshSession, error) {
	now := time.Now().UTC()
	session := domain.RefreshSession{
		ID:        uuid.NewString(),
		Subject:   subject,
		Token:     uuid.NewString(),
		Scopes:    scopes,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if session.Scopes == nil {
		session.Scopes = []string{}
	}
	rawScopes, err := json.Marshal(session.Scopes)
	if err != nil {
		return domain.RefreshSession{}, err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO refresh_sessions (id, subject, token_hash, scopes, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, subject, storepkg.HashToken(session.Token), string(rawScopes),
		session.ExpiresAt.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return domain.RefreshSession{}, fmt.Errorf("insert refresh session: %w", err)
	}
	return session, nil
}

func (s *Store) RotateRefreshSession(token string) (domain.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RefreshSession{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id, subject, rawScopes string
	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, subject, scopes, expires_at FROM refresh_sessions WHERE token_hash = ?`,
		storepkg.HashToken(token),
	).Scan(&id, &subject, &rawScopes, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefreshSession{}, storepkg.ErrNotFound
		}
		return domain.RefreshSession{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE id = ?`, id); err != nil {
		return domain.RefreshSession{}, err
	}
	if time.Unix(0, expiresAt).Before(time.Now()) {
		// commit so the expired row stays deleted
		_ = tx.Commit()
		return domain.RefreshSession{}, storepkg.ErrExpired
	}
	var scopes []string
	if err := json.Unmarshal([]byte(rawScopes), &scopes); err != nil {
		return domain.RefreshSession{}, fmt.Errorf("decode scopes: %w", err)
	}
	session, err := issue(ctx, tx, subject, scopes, s.refreshTTL)
	if err != nil {
		return domain.RefreshSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RefreshSession{}, err
	}
	return session, nil
}

func (s *Store) RevokeSubject(subject string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM refresh_sessions WHERE subject = ?`, subject)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) CreateDiagram(d domain.Diagram) (domain.Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.State = d.State.Clone()
	if d.State.Components == nil {
		d.State.Components = []domain.Component{}
	}
	raw, err := json.Marshal(d.State)
	if err != nil {
		return domain.Diagram{}, err
	}
	now := time.Now().UTC()
	d.Version = 1
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err = s.db.Exec(
		`INSERT INTO diagrams (id, name, owner, state, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		d.ID, d.Name, d.Owner, string(raw), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return domain.Diagram{}, fmt.Errorf("insert diagram: %w", err)
	}
	return d, nil
}

func (s *Store) GetDiagram(id string) (domain.Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDiagram(id)
}

func (s *Store) getDiagram(id string) (domain.Diagram, error) {
	row := s.db.QueryRow(
		`SELECT id, name, owner, state, version, created_at, updated_at
		 FROM diagrams WHERE id = ?`,
		id,
	)
	d, err := scanDiagram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Diagram{}, storepkg.ErrNotFound
	}
	return d, err
}

func (s *Store) ListDiagrams(owner string) ([]domain.Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, name, owner, state, version, created_at, updated_at
		 FROM diagrams
		 WHERE ? = '' OR owner = ?
		 ORDER BY created_at ASC`,
		owner, owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Diagram, 0, 16)
	for rows.Next() {
		d, err := scanDiagram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SaveDiagramState(id string, version int64, state domain.DiagramState) (domain.Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.Components == nil {
		state.Components = []domain.Component{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return domain.Diagram{}, err
	}
	res, err := s.db.Exec(
		`UPDATE diagrams SET state = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(raw), time.Now().UTC().UnixNano(), id, version,
	)
	if err != nil {
		return domain.Diagram{}, err
	}
	n, _ := res.RowsAffected()
	d, err := s.getDiagram(id)
	if err != nil {
		return domain.Diagram{}, err
	}
	if n == 0 {
		return domain.Diagram{}, storepkg.ErrConflict
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiagram(row rowScanner) (domain.Diagram, error) {
	var d domain.Diagram
	var stateRaw string
	var createdAt, updatedAt int64
	if err := row.Scan(&d.ID, &d.Name, &d.Owner, &stateRaw, &d.Version, &createdAt, &updatedAt); err != nil {
		return domain.Diagram{}, err
	}
	if err := json.Unmarshal([]byte(stateRaw), &d.State); err != nil {
		return domain.Diagram{}, fmt.Errorf("decode diagram state: %w", err)
	}
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	d.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return d, nil
}

func (s *Store) AppendEvent(eventType domain.EventType, subject string, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := domain.Event{
		ID:        uuid.NewString(),
		Subject:   subject,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, _ := json.Marshal(payload)
	_, _ = s.db.Exec(
		`INSERT INTO events (id, subject, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.ID, subject, string(eventType), string(raw), event.CreatedAt.UnixNano(),
	)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, subject, event_type, payload, created_at
		 FROM events ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return []domain.Event{}
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var e domain.Event
		var eventType, payloadRaw string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Subject, &eventType, &payloadRaw, &createdAt); err != nil {
			continue
		}
		e.Type = domain.EventType(eventType)
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		_ = json.Unmarshal([]byte(payloadRaw), &e.Payload)
		if e.Payload == nil {
			e.Payload = map[string]interface{}{}
		}
		out = append(out, e)
	}
	return out
}
