package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"gridops/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExpired  = errors.New("expired")
	// ErrConflict is returned when a diagram write races a newer version.
	ErrConflict = errors.New("version conflict")
)

// Store defines the runtime persistence contract used by the HTTP layer.
type Store interface {
	IssueRefreshSession(subject string, scopes []string) (domain.RefreshSession, error)
	// RotateRefreshSession consumes token and issues its replacement.
	RotateRefreshSession(token string) (domain.RefreshSession, error)
	RevokeSubject(subject string) (int, error)

	CreateDiagram(d domain.Diagram) (domain.Diagram, error)
	GetDiagram(id string) (domain.Diagram, error)
	ListDiagrams(owner string) ([]domain.Diagram, error)
	// SaveDiagramState stores state when the stored version equals version
	// and returns the diagram at version+1.
	SaveDiagramState(id string, version int64, state domain.DiagramState) (domain.Diagram, error)

	AppendEvent(eventType domain.EventType, subject string, payload map[string]interface{}) domain.Event
	ListEvents(limit int) []domain.Event
}

// HashToken is the form in which refresh tokens are persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
