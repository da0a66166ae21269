package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/TungTran2095/studio-sub004/internal/api"
	"github.com/TungTran2095/studio-sub004/internal/auth"
	"github.com/TungTran2095/studio-sub004/internal/clock"
	"github.com/TungTran2095/studio-sub004/internal/config"
	"github.com/TungTran2095/studio-sub004/internal/coordinator"
	"github.com/TungTran2095/studio-sub004/internal/instrument"
	"github.com/TungTran2095/studio-sub004/internal/journal"
	"github.com/TungTran2095/studio-sub004/internal/marketdata"
	"github.com/TungTran2095/studio-sub004/internal/metrics"
	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/ratelimit"
	"github.com/TungTran2095/studio-sub004/internal/signal"
	"github.com/TungTran2095/studio-sub004/internal/strategy"
	"github.com/TungTran2095/studio-sub004/internal/stream"
	"github.com/TungTran2095/studio-sub004/internal/version"
)

var (
	ErrAlreadyRunning = errors.New("system already running")
	ErrNotRunning     = errors.New("system not running")
	ErrNoJournalDB    = errors.New("journal enabled but no database configured")
)

// Option configures a System.
type Option func(*options)

type options struct {
	metrics       *metrics.Metrics
	journalDB     journal.DB
	httpClient    *http.Client
	clientFactory func(stream.ClientConfig, *zerolog.Logger) stream.Client
}

// WithMetrics reports every component into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithJournalDB supplies the database used when the journal is enabled.
func WithJournalDB(db journal.DB) Option {
	return func(o *options) { o.journalDB = db }
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithStreamClientFactory replaces the WebSocket client constructor.
func WithStreamClientFactory(f func(stream.ClientConfig, *zerolog.Logger) stream.Client) Option {
	return func(o *options) { o.clientFactory = f }
}

// System owns every component of the trading core. Components are created
// once in New and shared by reference; there is no package-level state.
type System struct {
	cfg    *config.Config
	logger zerolog.Logger

	governor    *ratelimit.Governor
	clock       *clock.Sync
	rest        *api.Client
	instruments *instrument.Registry
	stream      *stream.Manager
	market      *marketdata.Adapter
	queue       *signal.Queue
	coordinator *coordinator.Coordinator
	journal     *journal.Writer

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	started   []component
}

type component struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// New builds the system from a validated configuration. It performs no
// network activity and registers the workers listed in cfg.
func New(cfg *config.Config, logger *zerolog.Logger, opts ...Option) (*System, error) {
	if logger == nil {
		logger = &log.Logger
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &System{
		cfg:    cfg,
		logger: logger.With().Str("component", "core").Logger(),
	}

	// Rate limits
	govOpts := []ratelimit.Option{ratelimit.WithCleanupInterval(cfg.RateLimits.CleanupInterval)}
	if o.metrics != nil {
		govOpts = append(govOpts, ratelimit.WithObserver(o.metrics))
	}
	s.governor = ratelimit.New(windows(cfg.RateLimits.Windows), logger, govOpts...)

	// Clock and REST. The clock reads server time through the REST client,
	// which in turn stamps signed requests with the clock.
	restOpts := func() []api.ClientOption {
		var ro []api.ClientOption
		if o.httpClient != nil {
			ro = append(ro, api.WithHTTPClient(o.httpClient))
		}
		return append(ro,
			api.WithTimeout(cfg.Exchange.Timeout),
			api.WithRetries(cfg.Exchange.MaxRetries, 250*time.Millisecond),
			api.WithLogger(logger),
			api.WithLimiter(s.governor),
			api.WithRecvWindow(cfg.Exchange.RecvWindow),
		)
	}

	sources := []clock.TimeSource{clock.SourceFunc{
		Label: "rest:" + cfg.Exchange.RestURL,
		Fn:    func(ctx context.Context) (time.Time, error) { return s.rest.ServerTime(ctx) },
	}}
	for _, mirror := range cfg.Exchange.Mirrors {
		sources = append(sources, clock.SourceFunc{
			Label: "rest:" + mirror,
			Fn:    api.NewClient(mirror, restOpts()...).ServerTime,
		})
	}
	if cfg.Clock.TimeAuthorityURL != "" {
		sources = append(sources, clock.NewHTTPDateSource(cfg.Clock.TimeAuthorityURL, cfg.Clock.EndpointTimeout))
	}

	clockOpts := []clock.Option{}
	if o.metrics != nil {
		clockOpts = append(clockOpts, clock.WithObserver(o.metrics))
	}
	s.clock = clock.New(clock.Config{
		SafetyMargin:       cfg.Clock.SafetyMargin,
		ConservativeMargin: cfg.Clock.ConservativeMargin,
		TradingMargin:      cfg.Clock.TradingMargin,
		DefaultOffset:      cfg.Clock.DefaultOffset,
		EndpointTimeout:    cfg.Clock.EndpointTimeout,
		ResyncInterval:     cfg.Clock.ResyncInterval,
		MaxRetries:         cfg.Clock.MaxRetries,
		RetryBaseDelay:     cfg.Clock.RetryBaseDelay,
	}, sources, logger, clockOpts...)

	ro := append(restOpts(), api.WithClock(s.clock))
	if cfg.Exchange.APIKey != "" {
		creds, err := auth.LoadCredentials(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		ro = append(ro, api.WithCredentials(creds))
	}
	s.rest = api.NewClient(cfg.Exchange.RestURL, ro...)

	// Instruments
	instCfg := instrument.DefaultConfig()
	instCfg.Symbols = cfg.Stream.Instruments
	s.instruments = instrument.NewRegistry(instCfg, s.rest, logger)

	// Stream and market data. The adapter observes the manager it reads
	// from, so it joins the fan-out after both exist.
	fan := &streamFanout{}
	if o.metrics != nil {
		fan.add(o.metrics)
	}
	streamCfg := stream.DefaultConfig()
	streamCfg.URL = cfg.Exchange.WSURL
	streamCfg.Streams = stream.StreamNames(cfg.Stream.Instruments, cfg.Stream.Timeframes, cfg.Stream.DepthLevels)
	streamCfg.SubscribeByMessage = cfg.Stream.SubscribeByMessage
	streamCfg.ReconnectBaseDelay = cfg.Stream.ReconnectBaseDelay
	streamCfg.ReconnectMaxDelay = cfg.Stream.ReconnectMaxDelay
	streamCfg.StabilityWindow = cfg.Stream.StabilityWindow
	streamCfg.PingInterval = cfg.Stream.PingInterval
	streamCfg.PingTimeout = cfg.Stream.PingTimeout
	streamCfg.BufferSize = cfg.Stream.BufferSize
	streamOpts := []stream.Option{stream.WithObserver(fan)}
	if o.clientFactory != nil {
		streamOpts = append(streamOpts, stream.WithClientFactory(o.clientFactory))
	}
	s.stream = stream.NewManager(streamCfg, logger, streamOpts...)

	mdCfg := marketdata.DefaultConfig()
	mdCfg.Symbols = cfg.Stream.Instruments
	mdCfg.Timeframes = cfg.Stream.Timeframes
	mdCfg.FallbackEnabled = cfg.MarketData.FallbackOn()
	mdCfg.FallbackTTL = cfg.MarketData.FallbackTTL
	mdCfg.FallbackTimeout = cfg.MarketData.FallbackTimeout
	mdCfg.StaleAfter = cfg.MarketData.StaleAfter
	mdCfg.MaxKlines = cfg.MarketData.MaxKlines
	mdCfg.WarmupKlines = cfg.MarketData.WarmupKlines
	var mdOpts []marketdata.Option
	if o.metrics != nil {
		mdOpts = append(mdOpts, marketdata.WithObserver(o.metrics))
	}
	s.market = marketdata.NewAdapter(mdCfg, s.stream, s.rest, logger, mdOpts...)
	fan.add(s.market)

	// Signals, journal and workers
	s.queue = signal.NewQueue(cfg.Coordinator.QueueSize, cfg.Coordinator.SignalHorizon)

	coordCfg := coordinator.DefaultConfig()
	coordCfg.DryRun = cfg.Coordinator.DryRun
	var coordOpts []coordinator.Option
	if o.metrics != nil {
		coordOpts = append(coordOpts, coordinator.WithObserver(o.metrics))
	}
	if cfg.Journal.Enabled {
		if o.journalDB == nil {
			return nil, ErrNoJournalDB
		}
		s.journal = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, o.journalDB, logger)
		coordOpts = append(coordOpts, coordinator.WithJournal(s.journal))
	}
	s.coordinator = coordinator.New(coordCfg, s.queue, s.market, s.governor, s.rest, s.instruments, logger, coordOpts...)

	for _, a := range cfg.Coordinator.Analysis {
		strat, err := strategy.New(a.Strategy.Name, a.Strategy.Lookback, a.Strategy.Threshold)
		if err != nil {
			return nil, fmt.Errorf("analysis worker %s: %w", a.ID, err)
		}
		if err := s.RegisterAnalysisWorker(coordinator.AnalysisConfig{
			ID:        a.ID,
			Symbol:    a.Instrument,
			Timeframe: a.Timeframe,
			Interval:  a.Interval,
			Strategy:  strat,
		}); err != nil {
			return nil, err
		}
	}
	for _, e := range cfg.Coordinator.Execution {
		if err := s.RegisterExecutionWorker(coordinator.ExecutionConfig{
			ID:         e.ID,
			Symbol:     e.Instrument,
			Sources:    e.Sources,
			Interval:   e.Interval,
			BaseAsset:  e.BaseAsset,
			QuoteAsset: e.QuoteAsset,
			Sizing: coordinator.SizingPolicy{
				EquityPercent:     decimal.NewFromFloat(e.EquityPercent),
				ScaleByConfidence: e.ScaleByConfidence,
			},
		}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func windows(cfgs []config.WindowConfig) []ratelimit.Window {
	if len(cfgs) == 0 {
		return ratelimit.DefaultWindows()
	}
	out := make([]ratelimit.Window, 0, len(cfgs))
	for _, w := range cfgs {
		out = append(out, ratelimit.Window{
			Counter:  ratelimit.Counter(w.Counter),
			Interval: w.Interval,
			Capacity: w.Capacity,
		})
	}
	return out
}

// Start brings components up in dependency order. The instrument registry
// and the journal start concurrently; a failure stops everything already
// started.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	phases := [][]component{
		{
			{"governor", s.governor.Start, s.governor.Stop},
			{"clock", s.clock.Start, s.clock.Stop},
		},
		s.parallelPhase(),
		{
			{"stream", s.stream.Start, s.stream.Stop},
			{"market data", s.market.Start, s.market.Stop},
			{"coordinator", s.coordinator.Start, s.coordinator.Stop},
		},
	}

	for _, phase := range phases {
		if err := s.startPhase(ctx, phase); err != nil {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			s.stopStarted(stopCtx)
			return err
		}
	}

	s.running = true
	s.startedAt = time.Now()
	s.logger.Info().
		Str("instance", s.cfg.Instance.ID).
		Str("version", version.String()).
		Int("instruments", len(s.cfg.Stream.Instruments)).
		Bool("dry_run", s.cfg.Coordinator.DryRun).
		Msg("system started")
	return nil
}

func (s *System) parallelPhase() []component {
	phase := []component{{"instruments", s.instruments.Start, s.instruments.Stop}}
	if s.journal != nil {
		phase = append(phase, component{"journal", s.journal.Start, s.journal.Stop})
	}
	return phase
}

func (s *System) startPhase(ctx context.Context, phase []component) error {
	if len(phase) == 1 {
		return s.startOne(ctx, phase[0])
	}

	// Components keep the context they start with, so the group shares the
	// caller's context instead of deriving one that Wait cancels.
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, c := range phase {
		g.Go(func() error {
			if err := c.start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", c.name, err)
			}
			mu.Lock()
			s.started = append(s.started, c)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (s *System) startOne(ctx context.Context, c component) error {
	if err := c.start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", c.name, err)
	}
	s.started = append(s.started, c)
	return nil
}

func (s *System) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(s.started) - 1; i >= 0; i-- {
		c := s.started[i]
		if err := c.stop(ctx); err != nil {
			s.logger.Warn().Err(err).Str("component", c.name).Msg("stop failed")
			errs = append(errs, fmt.Errorf("stop %s: %w", c.name, err))
		}
	}
	s.started = nil
	return errors.Join(errs...)
}

// Stop shuts components down in reverse start order.
func (s *System) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	s.running = false

	err := s.stopStarted(ctx)
	s.logger.Info().Dur("uptime", time.Since(s.startedAt)).Msg("system stopped")
	return err
}

// Running reports whether Start has completed and Stop has not been called.
func (s *System) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetPrice returns the latest price for symbol.
func (s *System) GetPrice(ctx context.Context, symbol string) (model.Price, error) {
	return s.market.GetPrice(ctx, symbol)
}

// GetKlines returns up to limit candles, oldest first.
func (s *System) GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]model.Kline, error) {
	return s.market.GetKlines(ctx, symbol, timeframe, limit)
}

// Get24hSummary returns the rolling 24h summary for symbol.
func (s *System) Get24hSummary(ctx context.Context, symbol string) (model.Summary24h, error) {
	return s.market.Get24hSummary(ctx, symbol)
}

// All24hSummaries returns the 24h summaries of every instrument.
func (s *System) All24hSummaries(ctx context.Context) ([]model.Summary24h, error) {
	return s.market.All24hSummaries(ctx)
}

// GetOrderBook returns the top depth levels of symbol's book.
func (s *System) GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	return s.market.GetOrderBook(ctx, symbol, depth)
}

// Events returns market data events.
func (s *System) Events() <-chan marketdata.Event {
	return s.market.Events()
}

// RegisterAnalysisWorker adds an analysis worker. Workers must be registered
// before Start.
func (s *System) RegisterAnalysisWorker(cfg coordinator.AnalysisConfig) error {
	if err := s.coordinator.RegisterAnalysisWorker(cfg); err != nil {
		return fmt.Errorf("register analysis worker %s: %w", cfg.ID, err)
	}
	return nil
}

// RegisterExecutionWorker adds an execution worker. Workers must be
// registered before Start.
func (s *System) RegisterExecutionWorker(cfg coordinator.ExecutionConfig) error {
	if err := s.coordinator.RegisterExecutionWorker(cfg); err != nil {
		return fmt.Errorf("register execution worker %s: %w", cfg.ID, err)
	}
	return nil
}

// SubmitSignal publishes an externally produced signal. Execution workers
// pick it up when sig.Producer is one of their sources.
func (s *System) SubmitSignal(sig signal.Signal) error {
	if err := s.queue.Publish(sig); err != nil {
		return err
	}
	if s.journal != nil {
		s.journal.RecordSignal(sig)
	}
	s.logger.Info().
		Str("producer", sig.Producer).
		Str("symbol", sig.Symbol).
		Str("direction", string(sig.Direction)).
		Msg("external signal submitted")
	return nil
}

// ForceClockSync requests an immediate clock resynchronization.
func (s *System) ForceClockSync() {
	s.clock.ForceSync()
}

// SetFallbackEnabled toggles REST fallback for market data reads.
func (s *System) SetFallbackEnabled(enabled bool) {
	s.market.SetFallbackEnabled(enabled)
}

// Healthy reports whether market data can be served: the stream is
// connected or the REST fallback is enabled.
func (s *System) Healthy() bool {
	return s.market.Connected() || s.market.FallbackEnabled()
}
