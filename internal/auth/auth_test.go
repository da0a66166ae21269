package auth

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	docSecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	docQuery  = "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	docSig    = "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
)

func TestCredentials_Sign(t *testing.T) {
	creds, err := LoadCredentials("key", docSecret)
	require.NoError(t, err)
	assert.Equal(t, docSig, creds.Sign(docQuery))
}

func TestCredentials_SignedQuery(t *testing.T) {
	creds, err := LoadCredentials("key", docSecret)
	require.NoError(t, err)

	params := url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}}
	q, err := creds.SignedQuery(params, 1700000000000, 5*time.Second)
	require.NoError(t, err)

	payload, sig, ok := strings.Cut(q, "&signature=")
	require.True(t, ok)
	assert.Equal(t, "recvWindow=5000&side=BUY&symbol=BTCUSDT&timestamp=1700000000000", payload)
	assert.Equal(t, creds.Sign(payload), sig)
	assert.Len(t, sig, 64)

	// Caller's params are not mutated.
	assert.Empty(t, params.Get("timestamp"))
}

func TestCredentials_SignedQueryRecvWindowBounds(t *testing.T) {
	creds, err := LoadCredentials("key", "secret")
	require.NoError(t, err)

	tests := []struct {
		name    string
		window  time.Duration
		wantErr bool
	}{
		{"zero", 0, true},
		{"negative", -time.Second, true},
		{"at ceiling", 60 * time.Second, false},
		{"above ceiling", 60*time.Second + time.Millisecond, true},
		{"typical", 5 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creds.SignedQuery(nil, 1, tt.window)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRecvWindowBounds)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	_, err := LoadCredentials("", "secret")
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = LoadCredentials("key", "")
	assert.ErrorIs(t, err, ErrMissingSecret)

	creds, err := LoadCredentials("key", "secret")
	require.NoError(t, err)
	assert.Equal(t, "key", creds.APIKey)
}

func TestLoadSecretFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(path, []byte("  s3cr3t\n"), 0600))
	secret, err := LoadSecretFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", secret)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0600))
	_, err = LoadSecretFile(empty)
	assert.Error(t, err)

	_, err = LoadSecretFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
