// Package notify posts operational updates to a chat webhook. Notifications
// are strictly best-effort; a failed or unconfigured webhook never fails the
// work being reported on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/WordPress/openverse-api/internal/config"
	"github.com/WordPress/openverse-api/internal/logger"
)

const requestTimeout = 10 * time.Second

// Notifier sends human-readable progress messages.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// WebhookNotifier posts messages to a configured webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger logger.Logger
}

// New creates a webhook notifier. With no URL configured every Notify call
// is a no-op.
func New(cfg *config.NotifyConfig, log logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: requestTimeout},
		logger: log,
	}
}

// Notify posts one message, logging failures instead of returning them.
func (n *WebhookNotifier) Notify(ctx context.Context, message string) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		n.logger.Warn("failed to encode notification", logger.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("failed to build notification request", logger.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("notification delivery failed", logger.Error(err))
		return
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode >= http.StatusBadRequest {
		n.logger.Warn("notification rejected", logger.Int("status", res.StatusCode))
	}
}
