package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
)

// Request describes one outbound call. Values are never mutated once sent;
// a replay after a token refresh is a new Request with a higher attempt.
type Request struct {
	Method string
	// Path is resolved against the client base URL unless it is absolute.
	Path   string
	Header http.Header
	Body   []byte

	attempt int
}

// Attempt is 0 for the caller's request and 1 for its single replay.
func (r Request) Attempt() int {
	return r.attempt
}

func (r Request) retry(token string) Request {
	next := r
	next.Header = r.Header.Clone()
	if next.Header == nil {
		next.Header = http.Header{}
	}
	next.Header.Set("Authorization", "Bearer "+token)
	next.attempt = r.attempt + 1
	return next
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

type returnPathKey struct{}

// WithReturnPath records where the user should land after logging in again
// if this call ends the session.
func WithReturnPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, returnPathKey{}, path)
}

func returnPathFrom(ctx context.Context, fallback string) string {
	if p, ok := ctx.Value(returnPathKey{}).(string); ok && p != "" {
		return p
	}
	return fallback
}
