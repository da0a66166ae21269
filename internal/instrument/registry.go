// Package instrument loads and tracks trading rules for the configured
// instruments.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

// Errors
var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrNotTrading        = errors.New("instrument not trading")
)

// Source fetches trading rules. Satisfied by *api.Client.
type Source interface {
	ExchangeInfo(ctx context.Context, symbols ...string) ([]model.Instrument, error)
}

// Config holds registry configuration.
type Config struct {
	Symbols            []string
	ReconcileInterval  time.Duration
	InitialLoadTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:  time.Hour,
		InitialLoadTimeout: 30 * time.Second,
	}
}

// Registry holds the latest trading rules per symbol.
type Registry struct {
	cfg    Config
	source Source
	logger zerolog.Logger

	mu          sync.RWMutex
	instruments map[string]model.Instrument
	lastSyncAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry for cfg.Symbols.
func NewRegistry(cfg Config, source Source, logger *zerolog.Logger) *Registry {
	if logger == nil {
		logger = &log.Logger
	}
	return &Registry{
		cfg:         cfg,
		source:      source,
		logger:      logger.With().Str("component", "instrument").Logger(),
		instruments: make(map[string]model.Instrument),
	}
}

// Start loads the rules (blocking) and then reconciles in the background.
// It fails if any configured symbol is unknown or not trading.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	loadCtx, cancel := context.WithTimeout(r.ctx, r.cfg.InitialLoadTimeout)
	defer cancel()
	if err := r.initialSync(loadCtx); err != nil {
		r.cancel()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reconciliationLoop(r.ctx)
	}()

	r.logger.Info().Int("instruments", len(r.cfg.Symbols)).Msg("instrument registry started")
	return nil
}

// Stop gracefully shuts down.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("instrument registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the rules for a symbol.
func (r *Registry) Get(symbol string) (model.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[symbol]
	return inst, ok
}

// All returns every tracked instrument sorted by symbol.
func (r *Registry) All() []model.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LastSyncAt returns when the rules were last refreshed.
func (r *Registry) LastSyncAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSyncAt
}

func (r *Registry) initialSync(ctx context.Context) error {
	start := time.Now()
	infos, err := r.source.ExchangeInfo(ctx, r.cfg.Symbols...)
	if err != nil {
		return fmt.Errorf("load exchange info: %w", err)
	}

	byName := make(map[string]model.Instrument, len(infos))
	for _, inst := range infos {
		byName[inst.Symbol] = inst
	}

	var errs []error
	for _, sym := range r.cfg.Symbols {
		inst, ok := byName[sym]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownInstrument, sym))
		case !inst.Trading():
			errs = append(errs, fmt.Errorf("%w: %s (status %s)", ErrNotTrading, sym, inst.Status))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	r.mu.Lock()
	for _, sym := range r.cfg.Symbols {
		r.instruments[sym] = byName[sym]
	}
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	r.logger.Info().
		Int("instruments", len(r.cfg.Symbols)).
		Dur("duration", time.Since(start)).
		Msg("initial instrument sync complete")
	return nil
}

// reconciliationLoop periodically refreshes the rules.
func (r *Registry) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile refreshes rules and logs status changes. Failures keep the
// previous rules.
func (r *Registry) reconcile(ctx context.Context) {
	infos, err := r.source.ExchangeInfo(ctx, r.cfg.Symbols...)
	if err != nil {
		r.logger.Warn().Err(err).Msg("instrument reconciliation failed")
		return
	}

	var changed int
	r.mu.Lock()
	for _, inst := range infos {
		existing, ok := r.instruments[inst.Symbol]
		if !ok {
			continue
		}
		if existing.Status != inst.Status {
			r.logger.Warn().
				Str("symbol", inst.Symbol).
				Str("old_status", existing.Status).
				Str("new_status", inst.Status).
				Msg("instrument status changed")
			changed++
		}
		r.instruments[inst.Symbol] = inst
	}
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug().Int("changed", changed).Msg("instrument reconciliation complete")
}
