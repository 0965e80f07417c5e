package golive

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key. Falls back to the GEMINI_API_KEY environment
// variable when unset.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithEndpoint sets the live WebSocket endpoint URL.
func WithEndpoint(url string) ClientOption {
	return func(c *Client) {
		c.endpoint = url
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the client.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithMetrics sets the Prometheus metrics collector for the client.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRetries sets the maximum number of connection attempts.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryBackoff sets the initial backoff duration between connection
// attempts. Backoff doubles per attempt, capped at 30s, jittered.
func WithRetryBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryBackoff = d
	}
}

// WithSendTimeout sets the per-frame write deadline.
func WithSendTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.sendTimeout = d
	}
}

// WithCloseGrace sets how long Close waits for a graceful shutdown before
// forcing the connection down.
func WithCloseGrace(d time.Duration) ClientOption {
	return func(c *Client) {
		c.closeGrace = d
	}
}

// WithTokenStore sets an external store that receives every resumption
// handle as it arrives.
func WithTokenStore(s TokenStore) ClientOption {
	return func(c *Client) {
		c.tokenStore = s
	}
}
