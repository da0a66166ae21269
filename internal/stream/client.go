package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client is one WebSocket session with the market-data endpoint. A Client is
// not reusable: once Close is called or an error is reported, the manager
// builds a new one.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Send(data []byte) error

	// Messages delivers every frame read, data and command responses alike.
	Messages() <-chan TimestampedMessage

	// Errors reports at most one terminal read or liveness error.
	Errors() <-chan error
}

type wsClient struct {
	cfg    ClientConfig
	logger zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	out     chan TimestampedMessage
	errs    chan error
	closing chan struct{}
	once    sync.Once
}

// NewClient returns a gorilla/websocket backed Client. Zero durations in cfg
// take DefaultClientConfig values.
func NewClient(cfg ClientConfig, logger *zerolog.Logger) Client {
	if logger == nil {
		logger = &log.Logger
	}
	def := DefaultClientConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &wsClient{
		cfg:     cfg,
		logger:  *logger,
		out:     make(chan TimestampedMessage, cfg.BufferSize),
		errs:    make(chan error, 1),
		closing: make(chan struct{}),
	}
}

func (c *wsClient) Connect(ctx context.Context) error {
	select {
	case <-c.closing:
		return ErrAlreadyClosed
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.conn = conn

	// Every control or data frame from the server counts as proof of life.
	c.extend()
	conn.SetPingHandler(func(data string) error {
		c.extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.extend()
		return nil
	})

	go c.read()
	go c.keepalive()

	c.logger.Debug().Str("url", c.cfg.URL).Msg("websocket connected")
	return nil
}

func (c *wsClient) extend() {
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))
}

func (c *wsClient) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		if c.conn == nil {
			return
		}
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsClient) Send(data []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	select {
	case <-c.closing:
		return ErrAlreadyClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) Messages() <-chan TimestampedMessage { return c.out }
func (c *wsClient) Errors() <-chan error                { return c.errs }

// report publishes the first terminal error unless the client is closing.
func (c *wsClient) report(err error) {
	select {
	case <-c.closing:
		return
	default:
	}
	select {
	case c.errs <- err:
	default:
	}
}

func (c *wsClient) read() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.logger.Warn().Dur("timeout", c.cfg.PingTimeout).Msg("no frames from server, connection stale")
				err = ErrStaleConnection
			}
			c.report(err)
			return
		}
		c.extend()

		select {
		case c.out <- TimestampedMessage{Data: data, ReceivedAt: time.Now()}:
		case <-c.closing:
			return
		default:
			c.logger.Warn().Int("buffer", cap(c.out)).Msg("message buffer full, dropping frame")
		}
	}
}

func (c *wsClient) keepalive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closing:
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			if err != nil {
				c.logger.Debug().Err(err).Msg("keepalive ping failed")
				c.report(err)
				return
			}
		}
	}
}
