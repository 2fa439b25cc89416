// Package webhook forwards dashboard events to an external HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gridops/internal/domain"
)

type Publisher struct {
	url        string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	logger     *zap.Logger
}

// NewPublisher returns a Publisher. An empty url disables publishing.
func NewPublisher(url string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: max(maxRetries, 0),
		retryBase:  retryBase,
		retryMax:   retryMax,
		logger:     logger,
	}
}

// Publish delivers event, retrying network errors and 5xx responses with
// capped exponential backoff. 4xx responses are not retried.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if p.url == "" {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}
		retry, err := p.send(ctx, event, body)
		if err == nil {
			return nil
		}
		lastErr = err
		p.logger.Debug("event publish failed",
			zap.String("event_id", event.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if !retry {
			break
		}
	}
	return fmt.Errorf("publish event %s: %w", event.ID, lastErr)
}

func (p *Publisher) send(ctx context.Context, event domain.Event, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID)
	req.Header.Set("X-Event-Type", string(event.Type))
	req.Header.Set("X-Idempotency-Key", event.ID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return false, nil
	}
	return resp.StatusCode >= 500, fmt.Errorf("webhook responded with status %d", resp.StatusCode)
}

func (p *Publisher) backoff(attempt int) time.Duration {
	d := p.retryBase << (attempt - 1)
	if d <= 0 || (p.retryMax > 0 && d > p.retryMax) {
		return p.retryMax
	}
	return d
}
