package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/TungTran2095/studio-sub004/internal/auth"
	"github.com/TungTran2095/studio-sub004/internal/ratelimit"
)

// Limiter is the admission and bookkeeping side of the rate-limit governor.
type Limiter interface {
	Check(cost ratelimit.Cost) ratelimit.Decision
	RecordCall(call ratelimit.Call)
}

// Timestamper produces request timestamps biased earlier than server time.
type Timestamper interface {
	SafeTimestamp() int64
	TradingTimestamp() int64
}

type localClock struct{}

func (localClock) SafeTimestamp() int64    { return time.Now().UnixMilli() - 1000 }
func (localClock) TradingTimestamp() int64 { return time.Now().UnixMilli() - 2000 }

// Client provides access to the exchange REST API.
type Client struct {
	baseURL    string
	creds      *auth.Credentials
	httpClient *http.Client
	logger     zerolog.Logger
	limiter    Limiter
	clock      Timestamper
	recvWindow time.Duration
	now        func() time.Time

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger:       log.Logger.With().Str("component", "api").Logger(),
		clock:        localClock{},
		recvWindow:   5 * time.Second,
		now:          time.Now,
		maxRetries:   2,
		retryBackoff: 250 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the host this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.With().Str("component", "api").Logger()
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLimiter routes every request through the rate-limit governor.
func WithLimiter(l Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithCredentials enables signed endpoints.
func WithCredentials(creds *auth.Credentials) ClientOption {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithClock sets the timestamp source for signed requests.
func WithClock(ts Timestamper) ClientOption {
	return func(c *Client) {
		c.clock = ts
	}
}

// WithRecvWindow sets the recvWindow sent with signed requests.
func WithRecvWindow(d time.Duration) ClientOption {
	return func(c *Client) {
		c.recvWindow = d
	}
}

// WithNow overrides the local clock used to decide whether a kline is closed.
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}
