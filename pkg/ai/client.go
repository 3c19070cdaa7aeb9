// Package ai talks to the auto-reply responder.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/resilience"
)

const serviceName = "AI responder"

// maxReplyBytes caps how much of a response body is read
const maxReplyBytes = 1 << 20

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply   string `json:"reply"`
	Success bool   `json:"success"`
}

// Client calls POST {baseURL}/chat. Every call is bounded by the configured
// timeout and guarded by a circuit breaker; nothing is retried.
type Client struct {
	endpoint   string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	settings := resilience.DefaultSettings()
	settings.MaxAttempts = 1
	settings.Timeout = timeout

	return &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + "/chat",
		httpClient: &http.Client{Timeout: timeout},
		breaker:    resilience.NewCircuitBreaker("ai", settings),
	}
}

// GetReply returns the responder's answer to text. Any failure is an UpstreamError.
func (c *Client) GetReply(ctx context.Context, text string) (string, error) {
	var reply string
	err := c.breaker.Execute(ctx, "chat", func(ctx context.Context) error {
		var err error
		reply, err = c.post(ctx, text)
		return err
	})
	if err != nil {
		return "", apperrors.UpstreamError(serviceName, err)
	}
	return reply, nil
}

func (c *Client) post(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(chatRequest{Message: text})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("responder reported failure")
	}
	return out.Reply, nil
}
