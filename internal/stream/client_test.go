package stream

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string, pingInterval, pingTimeout time.Duration) Client {
	t.Helper()
	logger := zerolog.Nop()
	c := NewClient(ClientConfig{
		URL:          url,
		PingInterval: pingInterval,
		PingTimeout:  pingTimeout,
		BufferSize:   8,
	}, &logger)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_SendAndReceive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), data...))
		}
	})
	defer server.Close()

	c := newTestClient(t, wsURL(server), time.Second, 5*time.Second)
	require.NoError(t, c.Send([]byte("hi")))

	select {
	case msg := <-c.Messages():
		assert.Equal(t, "echo:hi", string(msg.Data))
		assert.False(t, msg.ReceivedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestClient_StaleWithoutPong(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.SetPingHandler(func(string) error { return nil })
		drain(conn)
	})
	defer server.Close()

	c := newTestClient(t, wsURL(server), 20*time.Millisecond, 80*time.Millisecond)

	select {
	case err := <-c.Errors():
		assert.ErrorIs(t, err, ErrStaleConnection)
	case <-time.After(2 * time.Second):
		t.Fatal("stale connection not reported")
	}
}

func TestClient_PongKeepsAlive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		drain(conn) // default handler answers pings
	})
	defer server.Close()

	c := newTestClient(t, wsURL(server), 20*time.Millisecond, 80*time.Millisecond)

	select {
	case err := <-c.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClient_Close(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		drain(conn)
	})
	defer server.Close()

	c := newTestClient(t, wsURL(server), time.Second, 5*time.Second)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "second close is a no-op")
	assert.ErrorIs(t, c.Send([]byte("x")), ErrAlreadyClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyClosed)

	select {
	case err := <-c.Errors():
		t.Fatalf("close reported error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

type fakeClient struct {
	msgs chan TimestampedMessage
	errs chan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{msgs: make(chan TimestampedMessage, 4), errs: make(chan error, 1)}
}

func (f *fakeClient) Connect(context.Context) error       { return nil }
func (f *fakeClient) Close() error                        { return nil }
func (f *fakeClient) Send([]byte) error                   { return nil }
func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.msgs }
func (f *fakeClient) Errors() <-chan error                { return f.errs }

func TestManager_ClientFactory(t *testing.T) {
	first := newFakeClient()
	first.msgs <- TimestampedMessage{Data: []byte(tradeFrame), ReceivedAt: time.Now()}
	first.errs <- errors.New("boom")

	var dials atomic.Int32
	var gotURL atomic.Value
	factory := func(cfg ClientConfig, _ *zerolog.Logger) Client {
		gotURL.Store(cfg.URL)
		if dials.Add(1) == 1 {
			return first
		}
		return newFakeClient()
	}

	cfg := testConfig("ws://exchange.test/")
	logger := zerolog.Nop()
	m := NewManager(cfg, &logger, WithClientFactory(factory))
	require.NoError(t, m.Start(context.Background()))
	defer stop(t, m)

	require.Eventually(t, func() bool { return dials.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ws://exchange.test/stream?streams=btcusdt@kline_1m/btcusdt@trade", gotURL.Load())
	assert.Contains(t, m.Status().LastError, "boom")
}
