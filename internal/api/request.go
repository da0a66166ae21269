package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"github.com/TungTran2095/studio-sub004/internal/auth"
	"github.com/TungTran2095/studio-sub004/internal/ratelimit"
)

// Errors
var (
	ErrQuotaExceeded = errors.New("would exceed quota")
	ErrNoCredentials = errors.New("signed endpoint requires credentials")
)

// APIError represents an error response from the exchange.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryable returns true for server-side failures. 429 and 418 are not
// retried: the governor has the headers and the caller should back off.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// QuotaError is returned when the governor denies a request before it is sent.
type QuotaError struct {
	Decision ratelimit.Decision
}

func (e *QuotaError) Error() string {
	return e.Decision.Reason
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

type errorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// request describes one REST call.
type request struct {
	method string
	path   string
	query  url.Values
	signed bool
	order  bool // use the trading timestamp
}

// doRequest performs one attempt: admission, send, bookkeeping.
func (c *Client) doRequest(ctx context.Context, r request) ([]byte, error) {
	cost := ratelimit.CostFor(r.method, r.path, r.query)
	if c.limiter != nil {
		if d := c.limiter.Check(cost); !d.Allowed {
			return nil, &QuotaError{Decision: d}
		}
	}

	rawQuery, err := c.encodeQuery(r)
	if err != nil {
		return nil, err
	}
	fullURL := c.baseURL + r.path
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.creds != nil {
		req.Header.Set(auth.APIKeyHeader, c.creds.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A timed-out call still consumed quota on the server.
		c.record(cost, nil)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	c.record(cost, resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Msg != "" {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Msg
		}
		return nil, apiErr
	}

	return body, nil
}

func (c *Client) encodeQuery(r request) (string, error) {
	if !r.signed {
		return r.query.Encode(), nil
	}
	if c.creds == nil {
		return "", ErrNoCredentials
	}
	ts := c.clock.SafeTimestamp()
	if r.order {
		ts = c.clock.TradingTimestamp()
	}
	return c.creds.SignedQuery(r.query, ts, c.recvWindow)
}

func (c *Client) record(cost ratelimit.Cost, headers http.Header) {
	if c.limiter == nil {
		return
	}
	kind := ratelimit.KindRequest
	if cost.Orders > 0 {
		kind = ratelimit.KindOrder
	}
	c.limiter.RecordCall(ratelimit.Call{
		Kind:    kind,
		Weight:  cost.Weight,
		IsOrder: cost.Orders > 0,
		Headers: headers,
	})
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, r request) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	// Orders are never resent: a timed-out submission may have been accepted.
	maxRetries := c.maxRetries
	if r.order {
		maxRetries = 0
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug().
				Int("attempt", attempt).
				Dur("backoff", jitter).
				Str("path", r.path).
				Msg("retrying request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, r)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !retryable(ctx, err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryable reports whether err is a 5xx or a transport failure.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var quotaErr *QuotaError
	if errors.As(err, &quotaErr) || errors.Is(err, ErrNoCredentials) || errors.Is(err, auth.ErrRecvWindowBounds) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return true
}

// get performs an unsigned GET request with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.call(ctx, request{method: http.MethodGet, path: path, query: query}, result)
}

func (c *Client) call(ctx context.Context, r request, result any) error {
	body, err := c.doWithRetry(ctx, r)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
