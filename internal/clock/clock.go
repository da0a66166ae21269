// Package clock keeps an estimate of the exchange's server time and hands out
// timestamps that are biased earlier than server time.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Errors
var (
	ErrNoSources        = errors.New("no time sources configured")
	ErrAllSourcesFailed = errors.New("all time sources failed")
)

// TimeSource returns the current time according to some authority.
type TimeSource interface {
	Name() string
	ServerTime(ctx context.Context) (time.Time, error)
}

// SourceFunc adapts a function to TimeSource.
type SourceFunc struct {
	Label string
	Fn    func(ctx context.Context) (time.Time, error)
}

func (s SourceFunc) Name() string { return s.Label }

func (s SourceFunc) ServerTime(ctx context.Context) (time.Time, error) {
	return s.Fn(ctx)
}

// Config holds clock synchronization settings.
type Config struct {
	SafetyMargin       time.Duration // subtracted from the measured offset
	ConservativeMargin time.Duration // SafeTimestamp bias
	TradingMargin      time.Duration // TradingTimestamp bias
	DefaultOffset      time.Duration // offset used before the first successful sync
	EndpointTimeout    time.Duration
	ResyncInterval     time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SafetyMargin:       time.Second,
		ConservativeMargin: time.Second,
		TradingMargin:      2 * time.Second,
		DefaultOffset:      -time.Second,
		EndpointTimeout:    3 * time.Second,
		ResyncInterval:     5 * time.Minute,
		MaxRetries:         3,
		RetryBaseDelay:     2 * time.Second,
	}
}

// Status is a point-in-time view of the synchronizer.
type Status struct {
	OffsetMs     int64     `json:"offset_ms"`
	Synced       bool      `json:"synced"`
	Source       string    `json:"source,omitempty"`
	LastSyncAt   time.Time `json:"last_sync_at,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	FailedRounds int64     `json:"failed_rounds"`
}

// Observer is notified after each synchronization round.
type Observer interface {
	ClockSynced(offsetMs int64, err error)
}

// Sync maintains the offset between local time and exchange server time.
type Sync struct {
	cfg      Config
	sources  []TimeSource
	logger   zerolog.Logger
	observer Observer
	now      func() time.Time

	mu           sync.RWMutex
	offsetMs     int64
	synced       bool
	source       string
	lastSyncAt   time.Time
	lastErr      error
	failedRounds int64

	force chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Sync.
type Option func(*Sync)

// WithNow overrides the local clock.
func WithNow(now func() time.Time) Option {
	return func(s *Sync) { s.now = now }
}

// WithObserver registers a sync observer.
func WithObserver(o Observer) Option {
	return func(s *Sync) { s.observer = o }
}

// New creates a clock synchronizer. Sources are tried in order; the first
// success wins.
func New(cfg Config, sources []TimeSource, logger *zerolog.Logger, opts ...Option) *Sync {
	if logger == nil {
		logger = &log.Logger
	}
	s := &Sync{
		cfg:      cfg,
		sources:  sources,
		logger:   logger.With().Str("component", "clock").Logger(),
		now:      time.Now,
		offsetMs: cfg.DefaultOffset.Milliseconds(),
		force:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synchronize runs one round across all sources. On success the offset is
// server - localAtSuccess - safetyMargin. On total failure the last good
// offset is kept, or the conservative default if there never was one.
func (s *Sync) Synchronize(ctx context.Context) error {
	if len(s.sources) == 0 {
		return ErrNoSources
	}

	var errs []error
	for _, src := range s.sources {
		server, local, err := s.query(ctx, src)
		if err != nil {
			s.logger.Debug().Err(err).Str("source", src.Name()).Msg("time source failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		offset := server.UnixMilli() - local.UnixMilli() - s.cfg.SafetyMargin.Milliseconds()

		s.mu.Lock()
		s.offsetMs = offset
		s.synced = true
		s.source = src.Name()
		s.lastSyncAt = local
		s.lastErr = nil
		s.mu.Unlock()

		s.logger.Info().
			Int64("offset_ms", offset).
			Str("source", src.Name()).
			Int("failed_sources", len(errs)).
			Msg("clock synchronized")
		s.notify(offset, nil)
		return nil
	}

	err := fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))

	s.mu.Lock()
	if !s.synced {
		s.offsetMs = s.cfg.DefaultOffset.Milliseconds()
	}
	s.lastErr = err
	s.failedRounds++
	offset := s.offsetMs
	s.mu.Unlock()

	s.logger.Warn().Err(err).Int64("offset_ms", offset).Msg("clock sync failed, keeping fallback offset")
	s.notify(offset, err)
	return err
}

func (s *Sync) query(ctx context.Context, src TimeSource) (time.Time, time.Time, error) {
	if s.cfg.EndpointTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.EndpointTimeout)
		defer cancel()
	}
	server, err := src.ServerTime(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return server, s.now(), nil
}

func (s *Sync) notify(offset int64, err error) {
	if s.observer != nil {
		s.observer.ClockSynced(offset, err)
	}
}

// Offset returns the current offset in milliseconds.
func (s *Sync) Offset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsetMs
}

// SetOffset replaces the offset. Operator override.
func (s *Sync) SetOffset(ms int64) {
	s.mu.Lock()
	s.offsetMs = ms
	s.mu.Unlock()
	s.logger.Info().Int64("offset_ms", ms).Msg("clock offset set manually")
}

// AdjustOffset shifts the offset by delta milliseconds. Operator override.
func (s *Sync) AdjustOffset(delta int64) {
	s.mu.Lock()
	s.offsetMs += delta
	ms := s.offsetMs
	s.mu.Unlock()
	s.logger.Info().Int64("delta_ms", delta).Int64("offset_ms", ms).Msg("clock offset adjusted manually")
}

// ServerTime estimates server time as local time plus the current offset.
func (s *Sync) ServerTime() time.Time {
	return s.now().Add(time.Duration(s.Offset()) * time.Millisecond)
}

// SafeTimestamp returns local time minus the conservative margin in epoch ms.
// It does not depend on the measured offset.
func (s *Sync) SafeTimestamp() int64 {
	return s.now().UnixMilli() - s.cfg.ConservativeMargin.Milliseconds()
}

// TradingTimestamp is SafeTimestamp with the larger trading margin, used for
// order placement.
func (s *Sync) TradingTimestamp() int64 {
	return s.now().UnixMilli() - s.cfg.TradingMargin.Milliseconds()
}

// Status returns the synchronizer state.
func (s *Sync) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		OffsetMs:     s.offsetMs,
		Synced:       s.synced,
		Source:       s.source,
		LastSyncAt:   s.lastSyncAt,
		FailedRounds: s.failedRounds,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// ForceSync requests an immediate synchronization from the background loop.
// It never blocks.
func (s *Sync) ForceSync() {
	select {
	case s.force <- struct{}{}:
	default:
	}
}

// Start runs an initial synchronization in the background and then resyncs
// every ResyncInterval.
func (s *Sync) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info().
		Dur("resync_interval", s.cfg.ResyncInterval).
		Int("sources", len(s.sources)).
		Msg("clock sync started")
	return nil
}

// Stop gracefully shuts down the resync loop.
func (s *Sync) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("clock sync stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sync) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ResyncInterval)
	defer ticker.Stop()

	// Sync immediately on start.
	s.syncWithRetry()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.syncWithRetry()
		case <-s.force:
			s.syncWithRetry()
		}
	}
}

// syncWithRetry retries a failed round with exponential backoff, giving up
// after MaxRetries until the next scheduled sync.
func (s *Sync) syncWithRetry() {
	for attempt := 0; ; attempt++ {
		if err := s.Synchronize(s.ctx); err == nil {
			return
		}
		if attempt >= s.cfg.MaxRetries || s.ctx.Err() != nil {
			s.logger.Warn().Int("attempts", attempt+1).Msg("clock sync giving up until next interval")
			return
		}

		delay := retryDelay(s.cfg.RetryBaseDelay, attempt)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<attempt)
}
