package golive

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxlink-go/golive/pkg/core"
)

const (
	// DefaultEndpoint is the production live WebSocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultRetries      = 5
	defaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
	defaultSendTimeout  = 5 * time.Second
	defaultCloseGrace   = 2 * time.Second
)

// Client opens live sessions. At most one session per client is active at
// any time; a second Connect while one is open fails with a state error.
type Client struct {
	apiKey   string
	endpoint string
	dialer   *websocket.Dialer

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics

	maxRetries   int
	retryBackoff time.Duration
	sendTimeout  time.Duration
	closeGrace   time.Duration

	tokenStore TokenStore

	mu     sync.Mutex
	active *Session
}

// NewClient creates a live client. The API key falls back to the
// GEMINI_API_KEY environment variable.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		endpoint:     DefaultEndpoint,
		dialer:       websocket.DefaultDialer,
		logger:       slog.Default(),
		maxRetries:   defaultRetries,
		retryBackoff: defaultRetryBackoff,
		sendTimeout:  defaultSendTimeout,
		closeGrace:   defaultCloseGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Connect opens a new live session: dials the endpoint with bounded backoff,
// sends the setup frame first, and returns a session whose reads have begun.
// Sends other than setup fail with a not-ready error until the server
// acknowledges setup; block on Session.Ready to wait for that.
func (c *Client) Connect(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return c.startSession(ctx, cfg.clone())
}

// Resume opens a new session that continues the conversation identified by
// token. The returned Session is a fresh object; if the server rejects the
// token the session falls back to a clean conversation, surfacing the
// fallback as a ResumedEvent with Fallback set plus an ErrorEvent carrying
// core.ErrResumptionExpired.
func (c *Client) Resume(ctx context.Context, cfg *SessionConfig, token string) (*Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("resumption token must not be empty", "token")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	resumed := cfg.clone()
	resumed.EnableResumption = true
	resumed.resumptionHandle = token
	return c.startSession(ctx, resumed)
}

func (c *Client) startSession(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	if _, err := url.Parse(c.endpoint); err != nil {
		return nil, core.NewInvalidRequestErrorWithParam("invalid endpoint URL", "endpoint")
	}

	s := newSession(c, cfg)
	if err := c.reserve(s); err != nil {
		return nil, err
	}

	// The gauge goes up before the read loop can run; a session that dies
	// immediately decrements an already-incremented count instead of
	// racing it below zero.
	c.metrics.sessionStarted()
	if err := s.start(ctx); err != nil {
		c.release(s)
		c.metrics.sessionStartFailed()
		return nil, err
	}
	return s, nil
}

// reserve enforces the at-most-one-active-session invariant.
func (c *Client) reserve(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && !c.active.isClosed() {
		return core.NewStateError("another session is already active on this client", "session_conflict")
	}
	c.active = s
	return nil
}

func (c *Client) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
}

func (c *Client) wsURL() string {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return c.endpoint
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
