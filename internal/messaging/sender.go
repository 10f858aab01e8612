// Package messaging is the outbound half of the text-message transport.
// The gateway is a plain JSON-over-HTTP send API; inbound flows arrive
// through the webhook in internal/api.
package messaging

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

// Sender delivers one text message to a contact address and returns the
// provider's message id.
type Sender interface {
	Send(ctx context.Context, address, body string) (providerID string, err error)
}

// GatewayClient talks to the messaging gateway's send endpoint.
type GatewayClient struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger
}

func NewGatewayClient(url, token string, logger *slog.Logger) *GatewayClient {
	return &GatewayClient{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (g *GatewayClient) Send(ctx context.Context, address, body string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"to":   address,
		"body": body,
	})
	if err != nil {
		return "", fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var gwResp struct {
		OK        bool   `json:"ok"`
		MessageID string `json:"message_id"`
		Error     string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &gwResp); err != nil {
		return "", fmt.Errorf("parse gateway response: %w", err)
	}
	if !gwResp.OK {
		return "", fmt.Errorf("gateway error: %s", gwResp.Error)
	}

	g.logger.Debug("message sent", "provider_id", gwResp.MessageID)
	return gwResp.MessageID, nil
}

// NoopSender stands in when gateway credentials are missing: the channel
// degrades to logged no-ops instead of crashing the process.
type NoopSender struct {
	Logger *slog.Logger
}

func (n NoopSender) Send(_ context.Context, address, _ string) (string, error) {
	n.Logger.Warn("gateway not configured, dropping outbound message", "address", address)
	return "", nil
}
