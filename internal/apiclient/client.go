// Package apiclient is the HTTP client the dashboard uses to reach the API.
//
// Every request carries the current bearer token. When the server answers 401
// the client refreshes the token once, shared by all requests that failed at
// the same time, and replays each of them a single time with the new token.
// Login and refresh calls are never retried.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every request, the refresh call included.
const DefaultTimeout = 15 * time.Second

const maxResponseSize = 10 << 20

var (
	// DefaultExemptPaths are never retried on 401.
	DefaultExemptPaths = []string{"/auth/login", "/auth/refresh"}

	errRefreshAborted = errors.New("refresh aborted")
)

// TokenProvider owns the access and refresh credentials.
type TokenProvider interface {
	// AccessToken returns the current token, or "" when there is none.
	AccessToken(ctx context.Context) (string, error)
	// Refresh obtains and stores a new access token.
	Refresh(ctx context.Context) (string, error)
	ClearTokens(ctx context.Context) error
}

// SessionSink tears down the local session after an unrecoverable auth failure.
type SessionSink interface {
	ClearSession(ctx context.Context) error
	RedirectToLogin(ctx context.Context, returnPath string) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithEmbeddedMode marks the client as hosted inside an application that owns
// authentication. A failed refresh then leaves session teardown to the host.
func WithEmbeddedMode(embedded bool) Option {
	return func(c *Client) { c.embedded = embedded }
}

// WithExemptPaths replaces the paths excluded from refresh-and-replay.
func WithExemptPaths(paths ...string) Option {
	return func(c *Client) { c.exempt = append([]string(nil), paths...) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client sends authenticated requests to one API base URL.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenProvider
	sink       SessionSink
	coord      *RefreshCoordinator
	embedded   bool
	exempt     []string
	logger     *zap.Logger
}

// New creates a Client. sink may be nil, in which case a failed refresh only
// clears the tokens.
func New(baseURL string, tokens TokenProvider, sink SessionSink, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("apiclient: token provider is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tokens:     tokens,
		sink:       sink,
		coord:      NewRefreshCoordinator(),
		exempt:     DefaultExemptPaths,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Coordinator exposes the refresh state, mainly so owners can CancelAll on
// teardown.
func (c *Client) Coordinator() *RefreshCoordinator {
	return c.coord
}

// Send performs req. A 2xx response is returned as is; anything else is a
// *StatusError unless a 401 could be recovered by refreshing the token.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	gen := c.coord.currentGeneration()
	if bearer(req.Header) == "" && req.attempt == 0 {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("read access token: %w", err)
		}
		if token != "" {
			req.Header = req.Header.Clone()
			if req.Header == nil {
				req.Header = http.Header{}
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, target, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, nil
	}
	statusErr := &StatusError{
		Method:     req.Method,
		URL:        target.String(),
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}
	if resp.StatusCode != http.StatusUnauthorized || c.isExempt(target.Path) || req.attempt > 0 {
		return nil, statusErr
	}
	return c.recoverAuth(ctx, req, gen, target.Path)
}

func (c *Client) recoverAuth(ctx context.Context, req Request, gen uint64, path string) (*Response, error) {
	pending, fresh, leader := c.coord.join(gen)
	switch {
	case pending != nil:
		c.logger.Debug("waiting for token refresh", zap.String("path", path))
		token, err := pending.wait(ctx)
		if err != nil {
			return nil, err
		}
		return c.Send(ctx, req.retry(token))
	case !leader:
		return c.Send(ctx, req.retry(fresh))
	}

	token, err := c.refresh(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, req.retry(token))
}

// refresh runs one cycle as its leader. The cycle always ends, panics
// included, through the deferred CompleteRefresh.
func (c *Client) refresh(ctx context.Context, path string) (token string, err error) {
	err = &RefreshError{Err: errRefreshAborted}
	defer func() {
		drained := c.coord.CompleteRefresh(token, err)
		c.logger.Debug("token refresh cycle finished", zap.Int("drained", drained), zap.Error(err))
	}()

	// The cycle serves every queued caller, so the leader cancelling its own
	// call must not fail the refresh for the others.
	newToken, rerr := c.tokens.Refresh(context.WithoutCancel(ctx))
	if rerr == nil && newToken == "" {
		rerr = errors.New("empty access token")
	}
	if rerr != nil {
		var re *RefreshError
		if !errors.As(rerr, &re) {
			re = &RefreshError{Err: rerr}
		}
		err = re
		c.coord.CancelAll(err)
		c.logger.Warn("token refresh failed", zap.String("path", path), zap.Error(rerr))
		c.endSession(ctx, path)
		return "", err
	}
	c.logger.Info("access token refreshed", zap.String("path", path))
	token, err = newToken, nil
	return token, nil
}

func (c *Client) endSession(ctx context.Context, path string) {
	if c.embedded {
		c.logger.Info("refresh failed in embedded mode, host owns session recovery")
		return
	}
	if err := c.tokens.ClearTokens(ctx); err != nil {
		c.logger.Warn("clear tokens", zap.Error(err))
	}
	if c.sink == nil {
		return
	}
	if err := c.sink.ClearSession(ctx); err != nil {
		c.logger.Warn("clear session", zap.Error(err))
	}
	if err := c.sink.RedirectToLogin(ctx, returnPathFrom(ctx, path)); err != nil {
		c.logger.Warn("redirect to login", zap.Error(err))
	}
}

func (c *Client) do(ctx context.Context, req Request) (*Response, *url.URL, error) {
	target, err := c.resolve(req.Path)
	if err != nil {
		return nil, nil, err
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, target, nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse request path: %w", err)
	}
	if ref.IsAbs() {
		return ref, nil
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return &u, nil
}

func (c *Client) isExempt(path string) bool {
	for _, p := range c.exempt {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodGet, Path: path})
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodDelete, Path: path})
}

// DoJSON sends in as the JSON body (when non-nil) and decodes the response
// into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.sendJSON(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any) (*Response, error) {
	req := Request{Method: method, Path: path}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		req.Body = raw
	}
	return c.Send(ctx, req)
}

func bearer(h http.Header) string {
	v := h.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "Bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}
