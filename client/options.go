package client

import (
	"log/slog"
	"net/http"

	"github.com/xraph/genqueue/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithFormat sets the frame encoding for Watch.
// Supported values: "json" (default), "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnect makes Watch re-dial a dropped stream up to maxRetries
// times, pausing per s between attempts.
func WithReconnect(maxRetries int, s backoff.Strategy) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.reconnect = s
	}
}
