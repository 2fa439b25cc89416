// Package telegram sends operator alerts for security-relevant dashboard
// events to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gridops/internal/domain"
)

const DefaultAPIBase = "https://api.telegram.org"

type Notifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
	logger   *zap.Logger
}

// NewNotifier returns a Notifier. It is a no-op until both botToken and chatID
// are set.
func NewNotifier(apiBase, botToken, chatID string, logger *zap.Logger) *Notifier {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		apiBase:  strings.TrimRight(apiBase, "/"),
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.botToken != "" && n.chatID != ""
}

func (n *Notifier) Notify(ctx context.Context, text string) error {
	if !n.Enabled() || text == "" {
		return nil
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)

	body := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 16<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}
	return nil
}

// NotifyEvent alerts on login, logout and rejected refresh attempts. Other
// events are ignored.
func (n *Notifier) NotifyEvent(ctx context.Context, event domain.Event) error {
	text, ok := FormatEvent(event)
	if !ok {
		return nil
	}
	n.logger.Debug("sending alert", zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	return n.Notify(ctx, text)
}

func FormatEvent(event domain.Event) (string, bool) {
	at := event.CreatedAt.UTC().Format(time.RFC3339)
	switch event.Type {
	case domain.EventLogin:
		return fmt.Sprintf("gridops: %s logged in at %s", event.Subject, at), true
	case domain.EventLogout:
		return fmt.Sprintf("gridops: %s logged out at %s", event.Subject, at), true
	case domain.EventRefreshRejected:
		return fmt.Sprintf("gridops: refresh token rejected (%v) at %s", event.Payload["reason"], at), true
	default:
		return "", false
	}
}
