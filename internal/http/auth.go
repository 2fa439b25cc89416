package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridops/internal/domain"
	storepkg "gridops/internal/store"
)

var defaultScopes = []string{scopeDiagramsRead, scopeDiagramsWrite, scopeEventsRead}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.AdminPassword)) == 1
	if !userOK || !passOK {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	session, err := s.store.IssueRefreshSession(req.Username, defaultScopes)
	if err != nil {
		s.logger.Error("issue refresh session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	pair, err := s.tokenPair(session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create access token")
		return
	}
	s.emitEvent(domain.EventLogin, req.Username, map[string]interface{}{
		"session_id": session.ID,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	session, err := s.store.RotateRefreshSession(req.RefreshToken)
	if err != nil {
		reason := "unknown"
		if errors.Is(err, storepkg.ErrExpired) {
			reason = "expired"
		} else if !errors.Is(err, storepkg.ErrNotFound) {
			s.logger.Error("rotate refresh session", zap.Error(err))
			reason = "store_error"
		}
		s.emitEvent(domain.EventRefreshRejected, "", map[string]interface{}{"reason": reason})
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	pair, err := s.tokenPair(session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create access token")
		return
	}
	s.emitEvent(domain.EventTokenRefreshed, session.Subject, map[string]interface{}{
		"session_id": session.ID,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sub, err := subjectFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing subject")
		return
	}
	n, err := s.store.RevokeSubject(sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}
	s.emitEvent(domain.EventLogout, sub, map[string]interface{}{"revoked": n})
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "revoked": n})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sub, _ := subjectFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject": sub,
	})
}

func (s *Server) tokenPair(session domain.RefreshSession) (domain.TokenPair, error) {
	access, expiresAt, err := s.signAccessToken(session.Subject, session.Scopes)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: session.Token,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	}, nil
}

type accessClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (s *Server) signAccessToken(subject string, scopes []string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.AccessTokenTTL)
	claims := accessClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		var claims accessClaims
		parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.cfg.JWTIssuer))
		if err != nil || !parsed.Valid {
			msg := "invalid access token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "access token expired"
			}
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeySubject, claims.Subject)
		ctx = context.WithValue(ctx, contextKeyScopes, claims.Scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireScope answers 403 unless the access token grants scope.
func (s *Server) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, _ := r.Context().Value(contextKeyScopes).([]string)
			if !slices.Contains(scopes, scope) {
				writeError(w, http.StatusForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
