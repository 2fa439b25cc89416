// Package editor holds one undo/redo session per open diagram and writes every
// change of the present state back to the store.
package editor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"gridops/internal/domain"
	"gridops/internal/history"
	storepkg "gridops/internal/store"
)

var ErrComponentNotFound = errors.New("component not found")

type session struct {
	mu      sync.Mutex
	diagram domain.Diagram
	history *history.Store[domain.DiagramState]
}

type Registry struct {
	store      storepkg.Store
	maxHistory int
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewRegistry(store storepkg.Store, maxHistory int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:      store,
		maxHistory: maxHistory,
		logger:     logger,
		sessions:   make(map[string]*session),
	}
}

// equalStates treats nil and empty slices and maps as equal, since JSON
// round trips do not preserve the difference.
func equalStates(a, b domain.DiagramState) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}

// open returns the session for id, loading the diagram on first use.
func (r *Registry) open(id string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	d, err := r.store.GetDiagram(id)
	if err != nil {
		return nil, err
	}
	s := &session{
		diagram: d,
		history: history.New(d.State, r.maxHistory,
			history.WithClone(domain.DiagramState.Clone),
			history.WithEqual(equalStates),
		),
	}
	r.sessions[id] = s
	r.logger.Debug("editor session opened", zap.String("diagram_id", id), zap.Int64("version", d.Version))
	return s, nil
}

// Open loads the diagram into an editor session and returns its view.
func (r *Registry) Open(id string) (domain.DiagramView, error) {
	s, err := r.open(id)
	if err != nil {
		return domain.DiagramView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), nil
}

// Close drops the session and its history. The stored diagram is untouched.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (s *session) view() domain.DiagramView {
	d := s.diagram
	d.State = s.history.State().Clone()
	return domain.DiagramView{
		Diagram: d,
		CanUndo: s.history.CanUndo(),
		CanRedo: s.history.CanRedo(),
	}
}

// mutate runs fn on the session and persists the present if it changed.
func (r *Registry) mutate(id string, fn func(h *history.Store[domain.DiagramState]) error) (domain.DiagramView, bool, error) {
	s, err := r.open(id)
	if err != nil {
		return domain.DiagramView{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.history); err != nil {
		return domain.DiagramView{}, false, err
	}
	present := s.history.State()
	if equalStates(present, s.diagram.State) {
		return s.view(), false, nil
	}
	saved, err := r.store.SaveDiagramState(id, s.diagram.Version, present)
	if err != nil {
		// The session now holds a present the store never saw; drop it so the
		// next open reloads the stored diagram.
		r.Close(id)
		r.logger.Warn("diagram save failed, session closed", zap.String("diagram_id", id), zap.Error(err))
		return domain.DiagramView{}, false, fmt.Errorf("save diagram %s: %w", id, err)
	}
	s.diagram = saved
	return s.view(), true, nil
}

// Apply commits a whole new state. With addToHistory false the change is not
// undoable.
func (r *Registry) Apply(id string, state domain.DiagramState, addToHistory bool) (domain.DiagramView, bool, error) {
	return r.mutate(id, func(h *history.Store[domain.DiagramState]) error {
		h.SetState(state, addToHistory)
		return nil
	})
}

// Move repositions one component and records it in history.
func (r *Registry) Move(id, componentID string, x, y float64) (domain.DiagramView, bool, error) {
	return r.mutate(id, func(h *history.Store[domain.DiagramState]) error {
		next := h.State().Clone()
		i := next.Find(componentID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrComponentNotFound, componentID)
		}
		next.Components[i].X = x
		next.Components[i].Y = y
		h.Commit(next)
		return nil
	})
}

func (r *Registry) Undo(id string) (domain.DiagramView, bool, error) {
	return r.mutate(id, func(h *history.Store[domain.DiagramState]) error {
		h.Undo()
		return nil
	})
}

func (r *Registry) Redo(id string) (domain.DiagramView, bool, error) {
	return r.mutate(id, func(h *history.Store[domain.DiagramState]) error {
		h.Redo()
		return nil
	})
}

func (r *Registry) ClearHistory(id string) (domain.DiagramView, error) {
	v, _, err := r.mutate(id, func(h *history.Store[domain.DiagramState]) error {
		h.ClearHistory()
		return nil
	})
	return v, err
}
