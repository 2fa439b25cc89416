package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gridops/internal/config"
	"gridops/internal/domain"
	"gridops/internal/editor"
	"gridops/internal/integrations/telegram"
	"gridops/internal/integrations/webhook"
	"gridops/internal/service/topology"
	storepkg "gridops/internal/store"
)

type contextKey string

const (
	contextKeySubject contextKey = "subject"
	contextKeyScopes  contextKey = "scopes"
)

const (
	scopeDiagramsRead  = "diagrams:read"
	scopeDiagramsWrite = "diagrams:write"
	scopeEventsRead    = "events:read"
)

type Server struct {
	cfg       config.Config
	store     storepkg.Store
	editors   *editor.Registry
	topology  *topology.Engine
	publisher *webhook.Publisher
	notifier  *telegram.Notifier
	logger    *zap.Logger
}

func NewServer(
	cfg config.Config,
	store storepkg.Store,
	publisher *webhook.Publisher,
	notifier *telegram.Notifier,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		editors:   editor.NewRegistry(store, cfg.HistoryMaxSize, logger.Named("editor")),
		topology:  topology.NewEngine(cfg.MaxComponents),
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAuth)
		protected.Post("/auth/logout", s.handleLogout)
		protected.Get("/me", s.handleMe)
		protected.With(s.requireScope(scopeEventsRead)).Get("/events", s.handleListEvents)

		protected.Route("/diagrams", func(d chi.Router) {
			d.With(s.requireScope(scopeDiagramsRead)).Get("/", s.handleListDiagrams)
			d.With(s.requireScope(scopeDiagramsWrite)).Post("/", s.handleCreateDiagram)
			d.Route("/{diagramID}", func(one chi.Router) {
				one.Use(s.requireDiagramOwner)
				one.With(s.requireScope(scopeDiagramsRead)).Get("/", s.handleGetDiagram)
				one.Group(func(edit chi.Router) {
					edit.Use(s.requireScope(scopeDiagramsWrite))
					edit.Put("/state", s.handlePutState)
					edit.Post("/components/{componentID}/move", s.handleMoveComponent)
					edit.Post("/undo", s.handleUndo)
					edit.Post("/redo", s.handleRedo)
					edit.Post("/history/clear", s.handleClearHistory)
					edit.Delete("/session", s.handleCloseSession)
				})
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events := s.store.ListEvents(parseInt(r.URL.Query().Get("limit"), 20))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) emitEvent(eventType domain.EventType, subject string, payload map[string]interface{}) domain.Event {
	event := s.store.AppendEvent(eventType, subject, payload)
	if s.publisher != nil {
		go func(evt domain.Event) {
			budget := s.cfg.EventWebhookTimeout * time.Duration(s.cfg.EventWebhookMaxRetries+1)
			ctx, cancel := context.WithTimeout(context.Background(), budget+s.cfg.EventWebhookRetryMax)
			defer cancel()
			if err := s.publisher.Publish(ctx, evt); err != nil {
				s.logger.Warn("event webhook delivery failed", zap.String("event_id", evt.ID), zap.Error(err))
			}
		}(event)
	}
	if s.notifier.Enabled() {
		go func(evt domain.Event) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.NotifyEvent(ctx, evt); err != nil {
				s.logger.Warn("telegram alert failed", zap.String("event_id", evt.ID), zap.Error(err))
			}
		}(event)
	}
	return event
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func subjectFromContext(ctx context.Context) (string, error) {
	sub, ok := ctx.Value(contextKeySubject).(string)
	if !ok || sub == "" {
		return "", errors.New("subject not found")
	}
	return sub, nil
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
