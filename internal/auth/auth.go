// Package auth signs exchange REST requests with HMAC-SHA256.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIKeyHeader carries the API key on signed and key-protected requests.
const APIKeyHeader = "X-MBX-APIKEY"

// MaxRecvWindow is the venue ceiling for the recvWindow parameter.
const MaxRecvWindow = 60 * time.Second

// Errors
var (
	ErrMissingKey       = errors.New("API key is required")
	ErrMissingSecret    = errors.New("API secret is required")
	ErrRecvWindowBounds = errors.New("recvWindow must be in (0, 60000] ms")
)

// Credentials holds the API key and secret for signing requests.
type Credentials struct {
	APIKey string
	secret []byte
}

// LoadCredentials builds credentials from a key and secret.
func LoadCredentials(apiKey, secret string) (*Credentials, error) {
	if apiKey == "" {
		return nil, ErrMissingKey
	}
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Credentials{APIKey: apiKey, secret: []byte(secret)}, nil
}

// LoadSecretFile reads a secret from a file, trimming surrounding whitespace.
func LoadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func (c *Credentials) Sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery adds timestamp and recvWindow to params, encodes them in
// canonical (sorted) order, and appends the signature.
func (c *Credentials) SignedQuery(params url.Values, timestampMs int64, recvWindow time.Duration) (string, error) {
	if recvWindow <= 0 || recvWindow > MaxRecvWindow {
		return "", fmt.Errorf("%w: got %d", ErrRecvWindowBounds, recvWindow.Milliseconds())
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("timestamp", strconv.FormatInt(timestampMs, 10))
	q.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))

	encoded := q.Encode()
	return encoded + "&signature=" + c.Sign(encoded), nil
}
