package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager owns the single market-data connection. It decodes every frame
// once and forwards data messages, in arrival order, on Messages().
type Manager struct {
	cfg       Config
	logger    zerolog.Logger
	observers []Observer
	newClient func(ClientConfig, *zerolog.Logger) Client

	out chan Message

	mu             sync.RWMutex
	state          State
	backoff        Backoff
	connectedSince time.Time
	lastMessageAt  time.Time
	lastErr        error

	reconnects atomic.Int64
	messages   atomic.Int64
	malformed  atomic.Int64
	cmdID      atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver adds an observer for connection events.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f func(ClientConfig, *zerolog.Logger) Client) Option {
	return func(m *Manager) { m.newClient = f }
}

// NewManager creates a connection manager.
func NewManager(cfg Config, logger *zerolog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = &log.Logger
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	m := &Manager{
		cfg:       cfg,
		logger:    logger.With().Str("component", "stream").Logger(),
		newClient: NewClient,
		out:       make(chan Message, cfg.BufferSize),
		state:     StateDisconnected,
		backoff:   Backoff{Base: cfg.ReconnectBaseDelay, Max: cfg.ReconnectMaxDelay},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// URL returns the endpoint the manager dials.
func (m *Manager) URL() string {
	base := strings.TrimSuffix(m.cfg.URL, "/")
	if m.cfg.SubscribeByMessage {
		return base + "/stream"
	}
	return base + "/stream?streams=" + strings.Join(m.cfg.Streams, "/")
}

// Start launches the connection loop. It returns immediately; connection
// failures are retried in the background.
func (m *Manager) Start(ctx context.Context) error {
	if len(m.cfg.Streams) == 0 {
		return ErrNoStreams
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info().
		Int("streams", len(m.cfg.Streams)).
		Bool("subscribe_by_message", m.cfg.SubscribeByMessage).
		Msg("stream manager started")
	return nil
}

// Stop closes the connection and waits for the loop to exit. Messages() is
// closed once the loop has exited.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info().Msg("stream manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns decoded data messages. Command responses are not forwarded.
func (m *Manager) Messages() <-chan Message {
	return m.out
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns a snapshot of the connection.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{
		State:          m.state.String(),
		URL:            m.URL(),
		Streams:        len(m.cfg.Streams),
		Attempt:        m.backoff.Attempt(),
		Reconnects:     m.reconnects.Load(),
		Messages:       m.messages.Load(),
		Malformed:      m.malformed.Load(),
		ConnectedSince: m.connectedSince,
		LastMessageAt:  m.lastMessageAt,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	if to == StateConnected {
		m.connectedSince = time.Now()
	} else if from == StateConnected {
		m.connectedSince = time.Time{}
	}
	m.mu.Unlock()

	if from == to {
		return
	}
	m.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("stream state changed")
	for _, o := range m.observers {
		o.StateChanged(from, to)
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	defer close(m.out)
	defer m.setState(StateStopped)

	for {
		if m.ctx.Err() != nil {
			return
		}

		err := m.session()
		if m.ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.lastErr = err
		delay := m.backoff.Next()
		attempt := m.backoff.Attempt()
		m.mu.Unlock()

		m.setState(StateDisconnected)
		m.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("stream disconnected, reconnecting")

		m.setState(StateReconnecting)
		m.reconnects.Add(1)
		for _, o := range m.observers {
			o.Reconnecting(attempt, delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session runs one connection from dial to failure.
func (m *Manager) session() error {
	m.setState(StateConnecting)

	client := m.newClient(ClientConfig{
		URL:          m.URL(),
		PingInterval: m.cfg.PingInterval,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, &m.logger)

	if err := client.Connect(m.ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	if m.cfg.SubscribeByMessage {
		if err := m.subscribe(client); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	m.setState(StateConnected)
	m.logger.Info().Str("url", m.URL()).Msg("stream connected")

	stable := time.NewTimer(m.cfg.StabilityWindow)
	defer stable.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()

		case <-stable.C:
			m.mu.Lock()
			m.backoff.Reset()
			m.mu.Unlock()
			m.logger.Debug().Dur("stability_window", m.cfg.StabilityWindow).Msg("stream stable, backoff reset")

		case err := <-client.Errors():
			return err

		case raw := <-client.Messages():
			if err := m.handle(raw); err != nil {
				return err
			}
		}
	}
}

// subscribe sends the SUBSCRIBE command and waits for its acknowledgement.
func (m *Manager) subscribe(client Client) error {
	id := m.cmdID.Add(1)
	data, err := json.Marshal(Command{Method: "SUBSCRIBE", Params: m.cfg.Streams, ID: id})
	if err != nil {
		return err
	}
	if err := client.Send(data); err != nil {
		return err
	}

	timeout := time.NewTimer(m.cfg.SubscribeTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-timeout.C:
			return ErrTimeout
		case err := <-client.Errors():
			return err
		case raw := <-client.Messages():
			msg, err := Decode(raw.Data)
			if err != nil {
				m.malformedMessage(err)
				continue
			}
			if resp, ok := msg.(*ResponseMessage); ok && resp.ID == id {
				if resp.Error != "" {
					return errors.New(resp.Error)
				}
				m.logger.Debug().Int64("id", id).Int("streams", len(m.cfg.Streams)).Msg("subscribed")
				return nil
			}
			if err := m.forward(raw, msg); err != nil {
				return err
			}
		}
	}
}

// handle decodes one frame. Malformed frames are logged and dropped without
// affecting the connection.
func (m *Manager) handle(raw TimestampedMessage) error {
	msg, err := Decode(raw.Data)
	if err != nil {
		m.malformedMessage(err)
		return nil
	}
	return m.forward(raw, msg)
}

func (m *Manager) forward(raw TimestampedMessage, msg Message) error {
	if resp, ok := msg.(*ResponseMessage); ok {
		m.logger.Debug().Int64("id", resp.ID).Str("error", resp.Error).Msg("command response")
		return nil
	}

	m.messages.Add(1)
	m.mu.Lock()
	m.lastMessageAt = raw.ReceivedAt
	m.mu.Unlock()
	for _, o := range m.observers {
		o.MessageReceived(msg.Kind())
	}

	select {
	case m.out <- msg:
		return nil
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

func (m *Manager) malformedMessage(err error) {
	m.malformed.Add(1)
	m.logger.Warn().Err(err).Msg("dropping malformed message")
	for _, o := range m.observers {
		o.MalformedMessage(err)
	}
}
