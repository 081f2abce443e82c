package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhouzirui/golos/internal/model/chat"
)

// StatusError reports a non-2xx answer from the relay.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay responded with status %d: %s", e.StatusCode, e.Body)
}

// Client posts chat messages to the relay's /api/chat endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New builds a client for the relay at baseURL (e.g. http://localhost:5000).
// A nil httpClient uses a client without timeout; a chat call is never retried.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/chat",
		httpClient: httpClient,
	}
}

// Send issues exactly one POST with {"message": message} and returns the reply.
func (c *Client) Send(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(chat.Request{Message: message})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded chat.Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	return decoded.Reply, nil
}
