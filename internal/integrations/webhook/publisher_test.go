package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gridops/internal/domain"
)

func TestPublishRetriesAndSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if r.Header.Get("X-Idempotency-Key") != "evt-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream error"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pub := NewPublisher(srv.URL, 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond, nil)
	err := pub.Publish(context.Background(), domain.Event{
		ID:   "evt-1",
		Type: domain.EventDiagramChanged,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestPublishFailsAfterMaxRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pub := NewPublisher(srv.URL, 2*time.Second, 2, 5*time.Millisecond, 20*time.Millisecond, nil)
	err := pub.Publish(context.Background(), domain.Event{
		ID:   "evt-fail",
		Type: domain.EventRefreshRejected,
	})
	if err == nil {
		t.Fatalf("expected failure, got nil")
	}
	if atomic.LoadInt32(&attempts) != 3 { // initial + 2 retries
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestPublishDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	pub := NewPublisher(srv.URL, time.Second, 5, time.Millisecond, 5*time.Millisecond, nil)
	if err := pub.Publish(context.Background(), domain.Event{ID: "evt-422"}); err == nil {
		t.Fatal("expected failure")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestPublishDisabledWithoutURL(t *testing.T) {
	pub := NewPublisher("", time.Second, 3, time.Millisecond, time.Millisecond, nil)
	if err := pub.Publish(context.Background(), domain.Event{ID: "evt"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
