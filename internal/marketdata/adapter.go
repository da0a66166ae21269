package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/TungTran2095/studio-sub004/internal/api"
	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/stream"
)

var (
	// ErrNoData is returned when neither the stream cache nor the fallback
	// query can answer a read. The underlying cause is wrapped.
	ErrNoData = errors.New("no market data available")

	// ErrFallbackDisabled is the cause when the fallback path is switched off.
	ErrFallbackDisabled = errors.New("fallback disabled")
)

// Source delivers decoded stream messages. The channel is closed when the
// stream stops.
type Source interface {
	Messages() <-chan stream.Message
}

// Fallback answers one-shot queries. *api.Client implements it.
type Fallback interface {
	GetPrice(ctx context.Context, symbol string) (model.Price, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error)
	Get24hSummary(ctx context.Context, symbol string) (model.Summary24h, error)
	All24hSummaries(ctx context.Context) ([]model.Summary24h, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error)
}

// Config tunes the adapter.
type Config struct {
	Symbols           []string
	Timeframes        []string
	FallbackEnabled   bool
	FallbackTTL       time.Duration
	FallbackTimeout   time.Duration
	StaleAfter        time.Duration // 0 never treats stream data as stale
	MaxKlines         int
	WarmupKlines      int // 0 disables warmup
	WarmupConcurrency int
	EventBuffer       int
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		FallbackEnabled:   true,
		FallbackTTL:       30 * time.Second,
		FallbackTimeout:   5 * time.Second,
		StaleAfter:        2 * time.Minute,
		MaxKlines:         500,
		WarmupKlines:      100,
		WarmupConcurrency: 4,
		EventBuffer:       1024,
	}
}

// Status is a snapshot of the adapter.
type Status struct {
	Connected       bool      `json:"connected"`
	FallbackEnabled bool      `json:"fallback_enabled"`
	Tickers         int       `json:"tickers"`
	KlineSeries     int       `json:"kline_series"`
	Books           int       `json:"books"`
	FallbackEntries int       `json:"fallback_entries"`
	Applied         int64     `json:"applied"`
	EventsDropped   int64     `json:"events_dropped"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`
}

// Adapter serves market data reads from the stream-fed cache and falls back
// to one-shot queries, cached for a short TTL, when the stream has nothing
// fresh.
type Adapter struct {
	cfg       Config
	logger    zerolog.Logger
	source    Source
	rest      Fallback
	now       func() time.Time
	observers []Observer

	cache        *StreamCache
	prices       *TTLCache[model.Price]
	summaries    *TTLCache[model.Summary24h]
	allSummaries *TTLCache[[]model.Summary24h]
	klines       *TTLCache[[]model.Kline]
	books        *TTLCache[model.OrderBook]

	fallback      atomic.Bool
	connected     atomic.Bool
	applied       atomic.Int64
	dropped       atomic.Int64
	lastMessageAt atomic.Int64

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithNow replaces the clock used for staleness and TTLs.
func WithNow(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithObserver adds an observer for fallback outcomes.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observers = append(a.observers, o) }
}

// NewAdapter creates an adapter reading from source and falling back to rest.
// Either may be nil.
func NewAdapter(cfg Config, source Source, rest Fallback, logger *zerolog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = &log.Logger
	}
	def := DefaultConfig()
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = def.FallbackTTL
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = def.FallbackTimeout
	}
	if cfg.MaxKlines <= 0 {
		cfg.MaxKlines = def.MaxKlines
	}
	if cfg.WarmupConcurrency <= 0 {
		cfg.WarmupConcurrency = def.WarmupConcurrency
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	a := &Adapter{
		cfg:    cfg,
		logger: logger.With().Str("component", "marketdata").Logger(),
		source: source,
		rest:   rest,
		now:    time.Now,
		cache:  NewStreamCache(cfg.MaxKlines),
		events: make(chan Event, cfg.EventBuffer),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.prices = NewTTLCache[model.Price](cfg.FallbackTTL, a.now)
	a.summaries = NewTTLCache[model.Summary24h](cfg.FallbackTTL, a.now)
	a.allSummaries = NewTTLCache[[]model.Summary24h](cfg.FallbackTTL, a.now)
	a.klines = NewTTLCache[[]model.Kline](cfg.FallbackTTL, a.now)
	a.books = NewTTLCache[model.OrderBook](cfg.FallbackTTL, a.now)
	a.fallback.Store(cfg.FallbackEnabled)
	return a
}

// Start consumes stream messages and, when configured, seeds kline history
// in the background.
func (a *Adapter) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if a.source != nil {
		a.wg.Add(1)
		go a.consume()
	}

	if a.cfg.WarmupKlines > 0 && a.rest != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Warmup(a.ctx)
		}()
	}

	a.logger.Info().
		Int("symbols", len(a.cfg.Symbols)).
		Bool("fallback", a.fallback.Load()).
		Msg("market data adapter started")
	return nil
}

// Stop halts consumption and waits for background work.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info().Msg("market data adapter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns adapter events. Events are dropped when the buffer is full.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// SetFallbackEnabled switches the fallback query path on or off.
func (a *Adapter) SetFallbackEnabled(enabled bool) {
	if a.fallback.Swap(enabled) != enabled {
		a.logger.Info().Bool("enabled", enabled).Msg("fallback toggled")
	}
}

// FallbackEnabled reports whether fallback queries are allowed.
func (a *Adapter) FallbackEnabled() bool {
	return a.fallback.Load()
}

// Connected reports whether the stream is currently connected.
func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// Status returns a snapshot of the adapter.
func (a *Adapter) Status() Status {
	tickers, series, books := a.cache.Counts()
	st := Status{
		Connected:       a.connected.Load(),
		FallbackEnabled: a.fallback.Load(),
		Tickers:         tickers,
		KlineSeries:     series,
		Books:           books,
		FallbackEntries: a.prices.Len() + a.summaries.Len() + a.allSummaries.Len() + a.klines.Len() + a.books.Len(),
		Applied:         a.applied.Load(),
		EventsDropped:   a.dropped.Load(),
	}
	if ns := a.lastMessageAt.Load(); ns != 0 {
		st.LastMessageAt = time.Unix(0, ns)
	}
	return st
}

func (a *Adapter) consume() {
	defer a.wg.Done()

	msgs := a.source.Messages()
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				a.logger.Debug().Msg("stream closed")
				return
			}
			a.apply(msg)
		}
	}
}

// apply updates the stream cache from one message and emits the matching event.
func (a *Adapter) apply(msg stream.Message) {
	now := a.now()

	switch m := msg.(type) {
	case *stream.TickerMessage:
		a.cache.PutTicker(m.Summary, now)
		s := m.Summary
		a.emit(Event{Type: EventPriceUpdate, Symbol: s.Symbol, Time: now, Summary: &s})

	case *stream.KlineMessage:
		if !a.cache.ApplyKline(m.Kline, now) {
			a.logger.Debug().
				Str("symbol", m.Kline.Symbol).
				Str("interval", m.Kline.Interval).
				Time("open_time", m.Kline.OpenTime).
				Msg("ignoring out-of-order kline")
			return
		}
		k := m.Kline
		a.emit(Event{Type: EventKlineUpdate, Symbol: k.Symbol, Time: now, Kline: &k})

	case *stream.DepthMessage:
		a.cache.PutBook(m.Book, now)
		b := m.Book
		b.UpdatedAt = now
		a.emit(Event{Type: EventDepthUpdate, Symbol: b.Symbol, Time: now, Book: &b})

	case *stream.TradeMessage:
		t := m.Trade
		a.emit(Event{Type: EventTradeUpdate, Symbol: t.Symbol, Time: now, Trade: &t})

	case *stream.ResponseMessage:
		return

	default:
		a.logger.Warn().Str("kind", string(msg.Kind())).Msg("unhandled message kind")
		return
	}

	a.applied.Add(1)
	a.lastMessageAt.Store(now.UnixNano())
}

func (a *Adapter) emit(e Event) {
	select {
	case a.events <- e:
	default:
		a.dropped.Add(1)
	}
}

// StateChanged emits connection events from the stream manager.
func (a *Adapter) StateChanged(from, to stream.State) {
	switch {
	case to == stream.StateConnected:
		a.connected.Store(true)
		a.emit(Event{Type: EventConnected, Time: a.now()})
	case from == stream.StateConnected:
		a.connected.Store(false)
		a.emit(Event{Type: EventDisconnected, Time: a.now()})
	}
}

func (a *Adapter) Reconnecting(int, time.Duration) {}
func (a *Adapter) MessageReceived(stream.Kind)     {}
func (a *Adapter) MalformedMessage(error)          {}

var _ stream.Observer = (*Adapter)(nil)

func (a *Adapter) fresh(at time.Time) bool {
	return a.cfg.StaleAfter <= 0 || a.now().Sub(at) < a.cfg.StaleAfter
}

// GetPrice returns the latest price for symbol.
func (a *Adapter) GetPrice(ctx context.Context, symbol string) (model.Price, error) {
	if s, at, ok := a.cache.Ticker(symbol); ok && a.fresh(at) {
		return s.AsPrice(), nil
	}
	return fetch(ctx, a, "price", symbol, a.prices, func(ctx context.Context) (model.Price, error) {
		return a.rest.GetPrice(ctx, symbol)
	})
}

// GetKlines returns up to limit recent candles for symbol and interval,
// oldest first. A fresh stream series shorter than limit is topped up from
// the fallback; if that fails the short series is returned as is.
func (a *Adapter) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error) {
	streamed, at, ok := a.cache.Klines(symbol, interval, limit)
	ok = ok && a.fresh(at)
	if ok && (limit <= 0 || len(streamed) >= limit) {
		return streamed, nil
	}
	key := symbol + "|" + interval + "|" + strconv.Itoa(limit)
	ks, err := fetch(ctx, a, "klines", key, a.klines, func(ctx context.Context) ([]model.Kline, error) {
		return a.rest.GetKlines(ctx, symbol, interval, limit)
	})
	if err != nil {
		if ok {
			return streamed, nil
		}
		return nil, err
	}
	return append([]model.Kline(nil), ks...), nil
}

// Get24hSummary returns the rolling 24h summary for symbol.
func (a *Adapter) Get24hSummary(ctx context.Context, symbol string) (model.Summary24h, error) {
	if s, at, ok := a.cache.Ticker(symbol); ok && a.fresh(at) {
		return s, nil
	}
	return fetch(ctx, a, "summary", symbol, a.summaries, func(ctx context.Context) (model.Summary24h, error) {
		return a.rest.Get24hSummary(ctx, symbol)
	})
}

// All24hSummaries returns summaries for every configured symbol when the
// stream has them all, otherwise one fallback query for the whole market.
func (a *Adapter) All24hSummaries(ctx context.Context) ([]model.Summary24h, error) {
	out := make([]model.Summary24h, 0, len(a.cfg.Symbols))
	for _, sym := range a.cfg.Symbols {
		s, at, ok := a.cache.Ticker(sym)
		if !ok || !a.fresh(at) {
			out = nil
			break
		}
		out = append(out, s)
	}
	if len(out) > 0 {
		return out, nil
	}

	all, err := fetch(ctx, a, "summary", "*", a.allSummaries, func(ctx context.Context) ([]model.Summary24h, error) {
		return a.rest.All24hSummaries(ctx)
	})
	if err != nil {
		return nil, err
	}
	return append([]model.Summary24h(nil), all...), nil
}

// GetOrderBook returns the book for symbol truncated to depth levels per side.
func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	if b, at, ok := a.cache.Book(symbol); ok && a.fresh(at) {
		return b.Top(depth), nil
	}
	key := symbol + "|" + strconv.Itoa(depth)
	b, err := fetch(ctx, a, "depth", key, a.books, func(ctx context.Context) (model.OrderBook, error) {
		return a.rest.GetOrderBook(ctx, symbol, depth)
	})
	if err != nil {
		return model.OrderBook{}, err
	}
	return b.Top(depth), nil
}

// fetch runs one fallback query through the tier-2 cache.
func fetch[V any](ctx context.Context, a *Adapter, kind, key string, c *TTLCache[V], load func(context.Context) (V, error)) (V, error) {
	var zero V
	if !a.fallback.Load() || a.rest == nil {
		a.observe(kind, ResultDisabled)
		return zero, fmt.Errorf("%w: %s %s: %w", ErrNoData, kind, key, ErrFallbackDisabled)
	}

	v, cached, err := c.GetOrLoad(ctx, key, func(ctx context.Context) (V, error) {
		ctx, cancel := context.WithTimeout(ctx, a.cfg.FallbackTimeout)
		defer cancel()
		return load(ctx)
	})
	switch {
	case errors.Is(err, api.ErrQuotaExceeded):
		a.observe(kind, ResultDenied)
		a.logger.Warn().Err(err).Str("kind", kind).Str("key", key).Msg("fallback denied")
		return zero, fmt.Errorf("%w: %s %s: %w", ErrNoData, kind, key, err)
	case err != nil:
		a.observe(kind, ResultError)
		a.logger.Warn().Err(err).Str("kind", kind).Str("key", key).Msg("fallback failed")
		return zero, fmt.Errorf("%w: %s %s: %w", ErrNoData, kind, key, err)
	case cached:
		a.observe(kind, ResultCached)
	default:
		a.observe(kind, ResultFetched)
		a.logger.Debug().Str("kind", kind).Str("key", key).Msg("fallback fetched")
	}
	return v, nil
}

func (a *Adapter) observe(kind, result string) {
	for _, o := range a.observers {
		o.FallbackQueried(kind, result)
	}
}

// Warmup seeds the stream cache with closed candles for every configured
// symbol and timeframe. Failures are logged and skipped.
func (a *Adapter) Warmup(ctx context.Context) {
	if a.rest == nil || a.cfg.WarmupKlines <= 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.WarmupConcurrency)

	var seeded atomic.Int64
	for _, sym := range a.cfg.Symbols {
		for _, tf := range a.cfg.Timeframes {
			g.Go(func() error {
				qctx, cancel := context.WithTimeout(ctx, a.cfg.FallbackTimeout)
				defer cancel()

				ks, err := a.rest.GetKlines(qctx, sym, tf, a.cfg.WarmupKlines)
				if err != nil {
					a.logger.Warn().Err(err).Str("symbol", sym).Str("interval", tf).Msg("kline warmup failed")
					return nil
				}
				n := a.cache.SeedKlines(sym, tf, ks, a.now())
				seeded.Add(int64(n))
				return nil
			})
		}
	}
	g.Wait()

	a.logger.Info().Int64("klines", seeded.Load()).Msg("kline warmup complete")
}
