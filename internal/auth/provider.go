// Package auth obtains and stores the dashboard API tokens on the client side.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gridops/internal/apiclient"
)

const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
)

var ErrNoRefreshToken = errors.New("no refresh token stored")

// Provider implements apiclient.TokenProvider against the API's auth endpoints.
type Provider struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      CredentialStore
}

type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

var _ apiclient.TokenProvider = (*Provider)(nil)

// Login exchanges user credentials for a token pair and stores it.
func (p *Provider) Login(ctx context.Context, username, password string) (Credentials, error) {
	tok, err := p.requestToken(ctx, LoginPath, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return Credentials{}, err
	}
	creds := Credentials{
		Subject:      username,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}
	if err := p.Store.Save(ctx, creds); err != nil {
		return Credentials{}, fmt.Errorf("save credentials: %w", err)
	}
	return creds, nil
}

func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	creds, err := p.Store.Load(ctx)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// Refresh trades the stored refresh token for a new pair. Every failure is a
// *apiclient.RefreshError.
func (p *Provider) Refresh(ctx context.Context) (string, error) {
	creds, err := p.Store.Load(ctx)
	if err != nil {
		return "", &apiclient.RefreshError{Err: err}
	}
	if strings.TrimSpace(creds.RefreshToken) == "" {
		return "", &apiclient.RefreshError{Err: ErrNoRefreshToken}
	}
	tok, err := p.requestToken(ctx, RefreshPath, map[string]string{
		"refresh_token": creds.RefreshToken,
	})
	if err != nil {
		return "", &apiclient.RefreshError{Err: err}
	}
	creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		creds.RefreshToken = tok.RefreshToken
	}
	creds.ExpiresAt = tok.ExpiresAt
	if err := p.Store.Save(ctx, creds); err != nil {
		return "", &apiclient.RefreshError{Err: fmt.Errorf("save credentials: %w", err)}
	}
	return creds.AccessToken, nil
}

func (p *Provider) ClearTokens(ctx context.Context) error {
	return p.Store.Clear(ctx)
}

func (p *Provider) requestToken(ctx context.Context, path string, body map[string]string) (TokenResponse, error) {
	if p.BaseURL == "" {
		return TokenResponse{}, fmt.Errorf("api base url missing")
	}
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return TokenResponse{}, err
	}
	url := strings.TrimRight(p.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return TokenResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return TokenResponse{}, &apiclient.StatusError{
			Method:     http.MethodPost,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       msg,
		}
	}
	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return TokenResponse{}, err
	}
	if tokenResp.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("token response missing access_token")
	}
	return tokenResp, nil
}
