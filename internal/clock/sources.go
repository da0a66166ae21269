package clock

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPDateSource reads the Date header of any HTTP server. It is the
// last-resort authority when every exchange host is unreachable. The header
// has one-second resolution, so the result is truncated toward the past.
type HTTPDateSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPDateSource creates a Date-header time source.
func NewHTTPDateSource(url string, timeout time.Duration) *HTTPDateSource {
	return &HTTPDateSource{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPDateSource) Name() string { return "http-date:" + h.URL }

func (h *HTTPDateSource) ServerTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.URL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("do request: %w", err)
	}
	resp.Body.Close()

	date := resp.Header.Get("Date")
	if date == "" {
		return time.Time{}, fmt.Errorf("no Date header from %s", h.URL)
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse Date header: %w", err)
	}
	return t, nil
}
