package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"gridops/internal/domain"
	storepkg "gridops/internal/store"
)

const schema = `
create table if not exists refresh_sessions (
	id uuid primary key,
	subject text not null,
	token_hash text not null unique,
	scopes text[] not null default '{}',
	expires_at timestamptz not null,
	created_at timestamptz not null default now()
);
create index if not exists refresh_sessions_subject_idx on refresh_sessions(subject);

create table if not exists diagrams (
	id text primary key,
	name text not null,
	owner text not null,
	state jsonb not null default '{"components":[]}',
	version bigint not null default 1,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);

create table if not exists events (
	id uuid primary key,
	subject text not null default '',
	event_type text not null,
	payload jsonb not null default '{}',
	created_at timestamptz not null default now()
);
`

type Store struct {
	db         *sql.DB
	refreshTTL time.Duration
}

func NewStore(databaseURL string, refreshTTL time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db, refreshTTL: refreshTTL}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables the store needs if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) IssueRefreshSession(subject string, scopes []string) (domain.RefreshSession, error) {
	return issue(context.Background(), s.db, subject, scopes, s.refreshTTL)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
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
	_, err := db.ExecContext(ctx,
		`insert into refresh_sessions(id, subject, token_hash, scopes, expires_at, created_at)
		 values ($1, $2, $3, $4, $5, $6)`,
		session.ID, subject, storepkg.HashToken(session.Token), pq.Array(session.Scopes), session.ExpiresAt, now,
	)
	if err != nil {
		return domain.RefreshSession{}, fmt.Errorf("insert refresh session: %w", err)
	}
	return session, nil
}

func (s *Store) RotateRefreshSession(token string) (domain.RefreshSession, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RefreshSession{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var subject string
	var scopes []string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`delete from refresh_sessions
		 where token_hash = $1
		 returning subject, scopes, expires_at`,
		storepkg.HashToken(token),
	).Scan(&subject, pq.Array(&scopes), &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefreshSession{}, storepkg.ErrNotFound
		}
		return domain.RefreshSession{}, err
	}
	if expiresAt.Before(time.Now().UTC()) {
		// commit so the expired row stays deleted
		_ = tx.Commit()
		return domain.RefreshSession{}, storepkg.ErrExpired
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
	res, err := s.db.Exec(`delete from refresh_sessions where subject = $1`, subject)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) CreateDiagram(d domain.Diagram) (domain.Diagram, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
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
		`insert into diagrams(id, name, owner, state, version, created_at, updated_at)
		 values ($1, $2, $3, $4::jsonb, 1, $5, $5)`,
		d.ID, d.Name, d.Owner, string(raw), now,
	)
	if err != nil {
		return domain.Diagram{}, fmt.Errorf("insert diagram: %w", err)
	}
	return d, nil
}

func (s *Store) GetDiagram(id string) (domain.Diagram, error) {
	row := s.db.QueryRow(
		`select id, name, owner, state, version, created_at, updated_at
		 from diagrams where id = $1`,
		id,
	)
	d, err := scanDiagram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Diagram{}, storepkg.ErrNotFound
	}
	return d, err
}

func (s *Store) ListDiagrams(owner string) ([]domain.Diagram, error) {
	rows, err := s.db.Query(
		`select id, name, owner, state, version, created_at, updated_at
		 from diagrams
		 where $1 = '' or owner = $1
		 order by created_at asc`,
		owner,
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
	if state.Components == nil {
		state.Components = []domain.Component{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return domain.Diagram{}, err
	}
	row := s.db.QueryRow(
		`update diagrams
		 set state = $3::jsonb, version = version + 1, updated_at = now()
		 where id = $1 and version = $2
		 returning id, name, owner, state, version, created_at, updated_at`,
		id, version, string(raw),
	)
	d, err := scanDiagram(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Diagram{}, err
	}
	if _, getErr := s.GetDiagram(id); getErr != nil {
		return domain.Diagram{}, getErr
	}
	return domain.Diagram{}, storepkg.ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiagram(row rowScanner) (domain.Diagram, error) {
	var d domain.Diagram
	var stateRaw []byte
	if err := row.Scan(&d.ID, &d.Name, &d.Owner, &stateRaw, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Diagram{}, err
	}
	if err := json.Unmarshal(stateRaw, &d.State); err != nil {
		return domain.Diagram{}, fmt.Errorf("decode diagram state: %w", err)
	}
	return d, nil
}

func (s *Store) AppendEvent(eventType domain.EventType, subject string, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		Subject:   subject,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, _ := json.Marshal(payload)
	_, _ = s.db.Exec(
		`insert into events(id, subject, event_type, payload, created_at)
		 values ($1, $2, $3, $4::jsonb, $5)`,
		event.ID, subject, string(eventType), string(raw), event.CreatedAt,
	)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, subject, event_type, payload, created_at
		 from events order by created_at desc limit $1`,
		limit,
	)
	if err != nil {
		return []domain.Event{}
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var e domain.Event
		var eventType string
		var payloadRaw []byte
		if err := rows.Scan(&e.ID, &e.Subject, &eventType, &payloadRaw, &e.CreatedAt); err != nil {
			continue
		}
		e.Type = domain.EventType(eventType)
		_ = json.Unmarshal(payloadRaw, &e.Payload)
		if e.Payload == nil {
			e.Payload = map[string]interface{}{}
		}
		out = append(out, e)
	}
	return out
}
