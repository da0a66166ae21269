package stream

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrUnknownStream   = errors.New("unknown stream")
	ErrNoStreams       = errors.New("no streams configured")
)

// State is the connection state machine.
//
//	disconnected -> connecting -> connected -> disconnected -> reconnecting -> connecting
//
// stopped is terminal and only entered on shutdown.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Command is a control message sent to the server.
type Command struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // full URL including the stream query
	PingInterval time.Duration // how often we ping
	PingTimeout  time.Duration // max time without pong before considering connection stale
	WriteTimeout time.Duration // write deadline for sends
	BufferSize   int           // message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   4096,
	}
}

// Config configures the Manager.
type Config struct {
	URL                string // base endpoint, e.g. wss://stream.binance.com:9443
	Streams            []string
	SubscribeByMessage bool
	SubscribeTimeout   time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	StabilityWindow    time.Duration // connection must stay up this long before backoff resets
	PingInterval       time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	BufferSize         int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SubscribeTimeout:   10 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		StabilityWindow:    30 * time.Second,
		PingInterval:       30 * time.Second,
		PingTimeout:        90 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         4096,
	}
}

// Status is a point-in-time view of the connection.
type Status struct {
	State          string    `json:"state"`
	URL            string    `json:"url"`
	Streams        int       `json:"streams"`
	Attempt        int       `json:"attempt"`
	Reconnects     int64     `json:"reconnects"`
	Messages       int64     `json:"messages"`
	Malformed      int64     `json:"malformed"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Observer receives connection events. Calls are made from the manager's
// goroutine and must not block.
type Observer interface {
	StateChanged(from, to State)
	Reconnecting(attempt int, delay time.Duration)
	MessageReceived(kind Kind)
	MalformedMessage(err error)
}
