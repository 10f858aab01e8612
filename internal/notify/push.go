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

// HTTPPushSender posts the alert payload to a volunteer's push relay
// endpoint (the push-service subscription the volunteer UI registered).
type HTTPPushSender struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPPushSender(logger *slog.Logger) *HTTPPushSender {
	return &HTTPPushSender{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (p *HTTPPushSender) Push(ctx context.Context, endpoint, title, body string) error {
	payload, err := json.Marshal(map[string]string{
		"title": title,
		"body":  body,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
