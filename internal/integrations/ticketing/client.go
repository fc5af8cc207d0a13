// Package ticketing posts validated tickets to the ticket backend.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"support-agent/internal/domain"
)

// createRequest mirrors the backend's POST /api/tickets body.
type createRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	PageURL     string `json:"pageUrl,omitempty"`
	Screenshot  string `json:"screenshot,omitempty"`
}

type createResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HTTPStatusError captures non-2xx responses from the ticket backend.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("ticketing: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client creates tickets on behalf of an authenticated site token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ticketing: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateTicket files action for the site identified by token and returns
// the backend's ticket id.
func (c *Client) CreateTicket(ctx context.Context, token string, action domain.TicketAction) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("ticketing: token must not be empty")
	}
	body, err := json.Marshal(createRequest{
		Title:       action.Title,
		Description: action.Description,
		Type:        string(action.Type),
		Priority:    string(action.EffectivePriority()),
		PageURL:     action.PageURL,
		Screenshot:  action.Screenshot,
	})
	if err != nil {
		return "", fmt.Errorf("ticketing: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tickets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ticketing: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OC-Token", token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ticketing: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}

	var out createResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&out); err != nil {
		return "", fmt.Errorf("ticketing: decode response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("ticketing: response missing ticket id")
	}
	return out.ID, nil
}
