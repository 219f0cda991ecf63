// Package client is a Go client for a remote genqueue server.
//
// Usage:
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithToken("tok_..."),
//	)
//
//	jobID, err := c.Submit(ctx, client.Payload{
//	    Prompt:   "a red fox in the snow",
//	    Workflow: workflow,
//	}, client.WithPriority(2))
//
//	events, err := c.Watch(ctx, jobID)
//	for evt := range events {
//	    fmt.Printf("%s %d%%\n", evt.Type, evt.Job.Progress)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/backoff"
)

// Client talks to the genqueue HTTP API.
type Client struct {
	baseURL *url.URL
	token   string
	format  string
	http    *http.Client
	logger  *slog.Logger

	// Watch reconnection.
	reconnect  backoff.Strategy
	maxRetries int
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("genqueue/client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("genqueue/client: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:    u,
		format:     "json",
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		reconnect:  backoff.DefaultReconnect(),
		maxRetries: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx reply from the server. errors.Is matches it
// against the genqueue sentinel errors by status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("genqueue/client: %d %s", e.StatusCode, e.Message)
}

// Is maps the status code back to the sentinel the server started from.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == genqueue.ErrValidation || target == genqueue.ErrInvalidState
	case http.StatusUnauthorized:
		return target == genqueue.ErrUnauthenticated
	case http.StatusForbidden:
		return target == genqueue.ErrForbidden
	case http.StatusNotFound:
		return target == genqueue.ErrJobNotFound
	case http.StatusTooManyRequests:
		return target == genqueue.ErrRateLimited
	}
	return false
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// do sends a request and decodes a JSON reply into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
