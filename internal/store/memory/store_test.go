package memory

import (
	"errors"
	"testing"
	"time"

	"gridops/internal/domain"
	storepkg "gridops/internal/store"
)

func TestIssueAndRotateRefreshSession(t *testing.T) {
	store := NewStore(24 * time.Hour)
	session, err := store.IssueRefreshSession("operator", []string{"diagrams:write"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if session.Token == "" {
		t.Fatal("expected token to be set")
	}

	rotated, err := store.RotateRefreshSession(session.Token)
	if err != nil {
		t.Fatalf("expected token to rotate, got error: %v", err)
	}
	if rotated.Token == session.Token {
		t.Fatal("expected a new token after rotation")
	}
	if rotated.Subject != "operator" {
		t.Fatalf("subject = %q, want operator", rotated.Subject)
	}
	if _, err := store.RotateRefreshSession(session.Token); !errors.Is(err, storepkg.ErrNotFound) {
		t.Fatalf("expected consumed token to be rejected, got %v", err)
	}
}

func TestRotateExpiredRefreshSession(t *testing.T) {
	store := NewStore(-time.Minute)
	session, _ := store.IssueRefreshSession("operator", nil)
	if _, err := store.RotateRefreshSession(session.Token); !errors.Is(err, storepkg.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRevokeSubject(t *testing.T) {
	store := NewStore(time.Hour)
	a, _ := store.IssueRefreshSession("operator", nil)
	store.IssueRefreshSession("operator", nil)
	b, _ := store.IssueRefreshSession("viewer", nil)

	n, err := store.RevokeSubject("operator")
	if err != nil || n != 2 {
		t.Fatalf("revoked %d (%v), want 2", n, err)
	}
	if _, err := store.RotateRefreshSession(a.Token); err == nil {
		t.Fatal("expected revoked token to fail")
	}
	if _, err := store.RotateRefreshSession(b.Token); err != nil {
		t.Fatalf("other subject should be untouched: %v", err)
	}
}

func TestSaveDiagramStateChecksVersion(t *testing.T) {
	store := NewStore(time.Hour)
	d, _ := store.CreateDiagram(domain.Diagram{Name: "SE Norte", Owner: "operator"})
	if d.Version != 1 {
		t.Fatalf("version = %d, want 1", d.Version)
	}

	state := domain.DiagramState{Components: []domain.Component{{ID: "b1", Kind: domain.ComponentBus}}}
	saved, err := store.SaveDiagramState(d.ID, 1, state)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 2 || len(saved.State.Components) != 1 {
		t.Fatalf("unexpected saved diagram %+v", saved)
	}
	if _, err := store.SaveDiagramState(d.ID, 1, state); !errors.Is(err, storepkg.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	state.Components[0].X = 99
	got, _ := store.GetDiagram(d.ID)
	if got.State.Components[0].X != 0 {
		t.Fatal("stored state must not alias the caller's slice")
	}
}
