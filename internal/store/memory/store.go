package memory

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridops/internal/domain"
	storepkg "gridops/internal/store"
)

type Store struct {
	mu sync.RWMutex

	refreshTTL time.Duration

	// keyed by token hash
	refreshSessions map[string]domain.RefreshSession

	diagrams map[string]domain.Diagram

	events []domain.Event
}

func NewStore(refreshTTL time.Duration) *Store {
	return &Store{
		refreshTTL:      refreshTTL,
		refreshSessions: make(map[string]domain.RefreshSession),
		diagrams:        make(map[string]domain.Diagram),
		events:          make([]domain.Event, 0, 256),
	}
}

func (s *Store) IssueRefreshSession(subject string, scopes []string) (domain.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(subject, scopes), nil
}

func (s *Store) issueLocked(subject string, scopes []string) domain.RefreshSession {
	now := time.Now().UTC()
	session := domain.RefreshSession{
		ID:        uuid.NewString(),
		Subject:   subject,
		Token:     uuid.NewString(),
		Scopes:    slices.Clone(scopes),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	s.refreshSessions[storepkg.HashToken(session.Token)] = session
	return session
}

func (s *Store) RotateRefreshSession(token string) (domain.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storepkg.HashToken(token)
	session, ok := s.refreshSessions[key]
	if !ok {
		return domain.RefreshSession{}, storepkg.ErrNotFound
	}
	delete(s.refreshSessions, key)
	if session.ExpiresAt.Before(time.Now().UTC()) {
		return domain.RefreshSession{}, storepkg.ErrExpired
	}
	return s.issueLocked(session.Subject, session.Scopes), nil
}

func (s *Store) RevokeSubject(subject string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, session := range s.refreshSessions {
		if session.Subject == subject {
			delete(s.refreshSessions, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateDiagram(d domain.Diagram) (domain.Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.State = d.State.Clone()
	d.Version = 1
	d.CreatedAt = now
	d.UpdatedAt = now
	s.diagrams[d.ID] = d
	return d, nil
}

func (s *Store) GetDiagram(id string) (domain.Diagram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.diagrams[id]
	if !ok {
		return domain.Diagram{}, storepkg.ErrNotFound
	}
	d.State = d.State.Clone()
	return d, nil
}

func (s *Store) ListDiagrams(owner string) ([]domain.Diagram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Diagram, 0, len(s.diagrams))
	for _, d := range s.diagrams {
		if owner != "" && d.Owner != owner {
			continue
		}
		d.State = d.State.Clone()
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveDiagramState(id string, version int64, state domain.DiagramState) (domain.Diagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.diagrams[id]
	if !ok {
		return domain.Diagram{}, storepkg.ErrNotFound
	}
	if d.Version != version {
		return domain.Diagram{}, storepkg.ErrConflict
	}
	d.State = state.Clone()
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	s.diagrams[id] = d
	d.State = d.State.Clone()
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
	s.events = append(s.events, event)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(s.events) == 0 {
		return []domain.Event{}
	}
	start := max(len(s.events)-limit, 0)
	out := slices.Clone(s.events[start:])
	slices.Reverse(out)
	return out
}
