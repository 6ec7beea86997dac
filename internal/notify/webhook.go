package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	EventPhotosUploaded      = "photos.uploaded"
	EventInspectionFinalized = "inspection.finalized"
)

type envelope struct {
	Event  string    `json:"event"`
	SentAt time.Time `json:"sentAt"`
	Data   any       `json:"data"`
}

// WebhookNotifier POSTs a JSON envelope to a single endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (n *WebhookNotifier) PhotosUploaded(ctx context.Context, batch PhotoBatch) error {
	return n.post(ctx, EventPhotosUploaded, batch)
}

func (n *WebhookNotifier) InspectionFinalized(ctx context.Context, f Finalized) error {
	return n.post(ctx, EventInspectionFinalized, f)
}

func (n *WebhookNotifier) post(ctx context.Context, event string, data any) error {
	payload, err := json.Marshal(envelope{Event: event, SentAt: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s notification: %w", event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver %s notification: %w", event, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			n.logger.Error("failed to close webhook response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	n.logger.Debug("notification delivered", "event", event, "status", resp.StatusCode)
	return nil
}
