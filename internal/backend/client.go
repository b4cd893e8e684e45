// Package backend is the REST client for the community backend's member and
// notification endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/metrics"
	"github.com/roomcrew/roomnoti/internal/model"
)

const (
	pathMe            = "/api/members/me"
	pathNotifications = "/api/notifications"
	pathUnreadCount   = "/api/notifications/unread-count"
	pathReadAll       = "/api/notifications/read-all"

	// DefaultStreamPath is the server-push subscription endpoint.
	DefaultStreamPath = "/api/notifications/subscribe"
)

// Client is a thin HTTP client for the backend REST API.
// It handles Bearer token authentication, JSON marshaling, and
// automatic retry with exponential backoff on HTTP 429.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	maxRetries   int
	logger       *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a backend client rooted at baseURL
// (e.g., https://api.roomcrew.kr). A zero timeout means 30 seconds.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// Streams stay open indefinitely; cancellation comes from the context.
		streamClient: &http.Client{},
		maxRetries:   3,
		logger:       logger,
	}
}

// BaseURL returns the root URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the bearer credential used for subsequent requests.
// An empty token sends requests without Authorization.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Me returns the member the current token belongs to.
func (c *Client) Me(ctx context.Context) (*model.Member, error) {
	var member model.Member
	if err := c.do(ctx, http.MethodGet, pathMe, pathMe, nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// ListNotifications fetches one page of the inbox, newest first.
func (c *Client) ListNotifications(ctx context.Context, page, size int) (*NotificationPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var result NotificationPage
	path := pathNotifications + "?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, pathNotifications, nil, &result); err != nil {
		return nil, err
	}
	if result.Skipped > 0 {
		c.logger.Warn("skipped undecodable notifications",
			zap.Int("page", page),
			zap.Int("skipped", result.Skipped),
		)
	}
	return &result, nil
}

// UnreadCount returns the server's unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var result unreadCountResponse
	if err := c.do(ctx, http.MethodGet, pathUnreadCount, pathUnreadCount, nil, &result); err != nil {
		return 0, err
	}
	return result.UnreadCount, nil
}

// MarkRead confirms that the member opened a notification.
func (c *Client) MarkRead(ctx context.Context, id int64) (*ReadResult, error) {
	path := fmt.Sprintf("%s/%d/read", pathNotifications, id)
	var result ReadResult
	if err := c.do(ctx, http.MethodPatch, path, pathNotifications+"/{id}/read", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkAllRead marks the whole inbox read and returns how many records changed.
func (c *Client) MarkAllRead(ctx context.Context) (int, error) {
	var result markAllReadResponse
	if err := c.do(ctx, http.MethodPatch, pathReadAll, pathReadAll, nil, &result); err != nil {
		return 0, err
	}
	return result.UpdatedCount, nil
}

// Delete removes a notification.
func (c *Client) Delete(ctx context.Context, id int64) error {
	path := fmt.Sprintf("%s/%d", pathNotifications, id)
	return c.do(ctx, http.MethodDelete, path, pathNotifications+"/{id}", nil, nil)
}

// OpenStream opens the server-push endpoint and returns the live response.
// The caller owns resp.Body. lastEventID, when set, is sent so the server
// can replay what was missed while disconnected.
func (c *Client) OpenStream(ctx context.Context, path, lastEventID string) (*http.Response, error) {
	if path == "" {
		path = DefaultStreamPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request GET %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, c.statusError(resp.StatusCode, http.MethodGet, path, body)
	}
	return resp, nil
}

// do is the core HTTP method that builds the request, handles auth,
// rate limiting with exponential backoff, and JSON (de)serialization.
// endpoint is the path template used as the metrics label.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	endpoint string,
	body interface{},
	result interface{},
) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(req)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordBackendRequest(method, endpoint, "error", time.Since(start))
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.RecordBackendRequest(method, endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		c.logger.Debug("backend request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", req.Header.Get("X-Request-ID")),
			zap.Duration("elapsed", time.Since(start)),
		)

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return c.statusError(resp.StatusCode, method, path, respBody)
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func (c *Client) setHeaders(req *http.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
}

func (c *Client) statusError(status int, method, path string, body []byte) error {
	message := strings.TrimSpace(string(body))
	var apiErr errorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		message = apiErr.Message
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if message == "" {
			message = fmt.Sprintf("session rejected by %s", c.baseURL)
		}
		return &AuthError{StatusCode: status, Message: message}
	}
	return &StatusError{StatusCode: status, Method: method, Path: path, Body: message}
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
