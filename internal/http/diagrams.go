package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gridops/internal/domain"
	"gridops/internal/editor"
	storepkg "gridops/internal/store"
)

type diagramResponse struct {
	domain.DiagramView
	Changed bool `json:"changed"`
}

func (s *Server) handleListDiagrams(w http.ResponseWriter, r *http.Request) {
	sub, _ := subjectFromContext(r.Context())
	diagrams, err := s.store.ListDiagrams(sub)
	if err != nil {
		s.logger.Error("list diagrams", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list diagrams")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"diagrams": diagrams,
		"count":    len(diagrams),
	})
}

func (s *Server) handleCreateDiagram(w http.ResponseWriter, r *http.Request) {
	sub, _ := subjectFromContext(r.Context())
	var req struct {
		Name       string             `json:"name"`
		Components []domain.Component `json:"components"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	state := domain.DiagramState{Components: req.Components}
	if !s.checkTopology(w, state) {
		return
	}
	d, err := s.store.CreateDiagram(domain.Diagram{
		Name:  req.Name,
		Owner: sub,
		State: state,
	})
	if err != nil {
		s.logger.Error("create diagram", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create diagram")
		return
	}
	view, err := s.editors.Open(d.ID)
	if err != nil {
		s.writeEditorError(w, err)
		return
	}
	s.emitEvent(domain.EventDiagramCreated, sub, map[string]interface{}{
		"diagram_id": d.ID,
		"name":       d.Name,
	})
	writeJSON(w, http.StatusCreated, diagramResponse{DiagramView: view, Changed: true})
}

func (s *Server) handleGetDiagram(w http.ResponseWriter, r *http.Request) {
	view, err := s.editors.Open(chi.URLParam(r, "diagramID"))
	if err != nil {
		s.writeEditorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diagramResponse{DiagramView: view})
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Components   []domain.Component `json:"components"`
		AddToHistory *bool              `json:"add_to_history,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addToHistory := true
	if req.AddToHistory != nil {
		addToHistory = *req.AddToHistory
	}
	state := domain.DiagramState{Components: req.Components}
	if !s.checkTopology(w, state) {
		return
	}
	id := chi.URLParam(r, "diagramID")
	view, changed, err := s.editors.Apply(id, state, addToHistory)
	s.respondEdit(w, r, domain.EventDiagramChanged, id, view, changed, err)
}

func (s *Server) handleMoveComponent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "diagramID")
	view, changed, err := s.editors.Move(id, chi.URLParam(r, "componentID"), req.X, req.Y)
	s.respondEdit(w, r, domain.EventDiagramChanged, id, view, changed, err)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "diagramID")
	view, changed, err := s.editors.Undo(id)
	s.respondEdit(w, r, domain.EventDiagramUndone, id, view, changed, err)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "diagramID")
	view, changed, err := s.editors.Redo(id)
	s.respondEdit(w, r, domain.EventDiagramRedone, id, view, changed, err)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "diagramID")
	view, err := s.editors.ClearHistory(id)
	if err != nil {
		s.writeEditorError(w, err)
		return
	}
	sub, _ := subjectFromContext(r.Context())
	s.emitEvent(domain.EventHistoryCleared, sub, map[string]interface{}{"diagram_id": id})
	writeJSON(w, http.StatusOK, diagramResponse{DiagramView: view})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	closed := s.editors.Close(chi.URLParam(r, "diagramID"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"closed": closed})
}

// respondEdit writes the view and emits eventType when the stored diagram changed.
func (s *Server) respondEdit(
	w http.ResponseWriter,
	r *http.Request,
	eventType domain.EventType,
	id string,
	view domain.DiagramView,
	changed bool,
	err error,
) {
	if err != nil {
		s.writeEditorError(w, err)
		return
	}
	if changed {
		sub, _ := subjectFromContext(r.Context())
		s.emitEvent(eventType, sub, map[string]interface{}{
			"diagram_id": id,
			"version":    view.Version,
		})
	}
	writeJSON(w, http.StatusOK, diagramResponse{DiagramView: view, Changed: changed})
}

// checkTopology writes a 422 with the decision when state is rejected.
func (s *Server) checkTopology(w http.ResponseWriter, state domain.DiagramState) bool {
	decision := s.topology.Evaluate(state)
	if !decision.Allowed {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    "invalid diagram",
			"decision": decision,
		})
		return false
	}
	return true
}

func (s *Server) writeEditorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storepkg.ErrNotFound):
		writeError(w, http.StatusNotFound, "diagram not found")
	case errors.Is(err, editor.ErrComponentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storepkg.ErrConflict):
		writeError(w, http.StatusConflict, "diagram was modified elsewhere, reload it")
	default:
		s.logger.Error("diagram edit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "diagram edit failed")
	}
}

// requireDiagramOwner hides diagrams that belong to another subject.
func (s *Server) requireDiagramOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := subjectFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing subject")
			return
		}
		d, err := s.store.GetDiagram(chi.URLParam(r, "diagramID"))
		if err != nil || d.Owner != sub {
			if err != nil && !errors.Is(err, storepkg.ErrNotFound) {
				s.logger.Error("load diagram", zap.Error(err))
			}
			writeError(w, http.StatusNotFound, "diagram not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}
