// Package coordinator runs analysis workers that publish signals into the
// shared queue and execution workers that turn matching signals into orders.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/ratelimit"
	"github.com/TungTran2095/studio-sub004/internal/signal"
	"github.com/TungTran2095/studio-sub004/internal/strategy"
)

var (
	ErrDuplicateWorker = errors.New("duplicate worker id")
	ErrUnknownSource   = errors.New("unknown analysis worker")
	ErrInvalidWorker   = errors.New("invalid worker registration")
	ErrStarted         = errors.New("coordinator already started")
)

// MarketData is the read side analysis workers use.
type MarketData interface {
	GetPrice(ctx context.Context, symbol string) (model.Price, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error)
}

// Governor gates order submission.
type Governor interface {
	Check(cost ratelimit.Cost) ratelimit.Decision
}

// Exchange is the order path. *api.Client implements it; its calls record
// their own consumption with the governor.
type Exchange interface {
	FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, o model.OrderRequest) (model.OrderResult, error)
}

// Instruments provides trading rules for sizing.
type Instruments interface {
	Get(symbol string) (model.Instrument, bool)
}

// Journal records published signals and execution outcomes.
type Journal interface {
	RecordSignal(s signal.Signal)
	RecordExecution(e model.Execution)
}

// Observer receives coordinator events.
type Observer interface {
	SignalPublished(producer, symbol string)
	OrderSubmitted(symbol, side, result string)
	ExecutionSkipped(reason string)
}

// Skip reasons reported to observers.
const (
	SkipQuota         = "quota"
	SkipNotTrading    = "not_trading"
	SkipNoBalance     = "no_balance"
	SkipBelowMinQty   = "below_min_qty"
	SkipBelowNotional = "below_min_notional"
	SkipError         = "error"
)

// Order outcomes reported to observers.
const (
	ResultPlaced = "placed"
	ResultFailed = "failed"
	ResultDryRun = "dry_run"
)

// AnalysisConfig registers one analysis worker.
type AnalysisConfig struct {
	ID        string
	Symbol    string
	Timeframe string
	Interval  time.Duration
	Strategy  strategy.Strategy
}

// ExecutionConfig registers one execution worker.
type ExecutionConfig struct {
	ID         string
	Symbol     string
	Sources    []string // analysis worker ids whose signals are accepted
	Interval   time.Duration
	BaseAsset  string
	QuoteAsset string
	Sizing     SizingPolicy
}

// Config holds coordinator-wide settings.
type Config struct {
	DryRun       bool
	CycleTimeout time.Duration // bound on one worker cycle's network calls
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{CycleTimeout: 10 * time.Second}
}

// WorkerState is the phase a worker is in.
type WorkerState string

const (
	StateIdle       WorkerState = "idle"
	StateAnalyzing  WorkerState = "analyzing"
	StatePublishing WorkerState = "publishing"
	StatePolling    WorkerState = "polling"
	StateChecking   WorkerState = "checking"
	StateExecuting  WorkerState = "executing"
)

// WorkerStatus is a snapshot of one worker.
type WorkerStatus struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"`
	Symbol    string      `json:"symbol"`
	State     WorkerState `json:"state"`
	Cycles    int64       `json:"cycles"`
	Produced  int64       `json:"produced"` // signals published or orders submitted
	Skipped   int64       `json:"skipped"`
	Failures  int64       `json:"failures"`
	LastRunAt time.Time   `json:"last_run_at,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

// Status is a snapshot of the coordinator.
type Status struct {
	Running   bool           `json:"running"`
	DryRun    bool           `json:"dry_run"`
	Analysis  []WorkerStatus `json:"analysis"`
	Execution []WorkerStatus `json:"execution"`
	Queue     signal.Status  `json:"queue"`
}

// Coordinator owns the worker set.
type Coordinator struct {
	cfg         Config
	queue       *signal.Queue
	market      MarketData
	governor    Governor
	exchange    Exchange
	instruments Instruments
	journal     Journal
	observers   []Observer
	logger      zerolog.Logger
	now         func() time.Time

	mu        sync.Mutex
	analysis  map[string]*analysisWorker
	execution map[string]*executionWorker
	running   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal records signals and executions.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, o) }
}

// WithNow replaces the clock used for signal generation and processed-id pruning.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator.
func New(cfg Config, queue *signal.Queue, market MarketData, governor Governor, exchange Exchange, instruments Instruments, logger *zerolog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = &log.Logger
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultConfig().CycleTimeout
	}
	c := &Coordinator{
		cfg:         cfg,
		queue:       queue,
		market:      market,
		governor:    governor,
		exchange:    exchange,
		instruments: instruments,
		logger:      logger.With().Str("component", "coordinator").Logger(),
		now:         time.Now,
		analysis:    make(map[string]*analysisWorker),
		execution:   make(map[string]*executionWorker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterAnalysisWorker adds an analysis worker. Workers must be registered
// before Start.
func (c *Coordinator) RegisterAnalysisWorker(cfg AnalysisConfig) error {
	if cfg.ID == "" || cfg.Symbol == "" || cfg.Timeframe == "" || cfg.Strategy == nil || cfg.Interval <= 0 {
		return fmt.Errorf("%w: analysis %q needs id, symbol, timeframe, interval and strategy", ErrInvalidWorker, cfg.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrStarted
	}
	if c.exists(cfg.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateWorker, cfg.ID)
	}
	c.analysis[cfg.ID] = newAnalysisWorker(c, cfg)
	return nil
}

// RegisterExecutionWorker adds an execution worker. Its sources must already
// be registered.
func (c *Coordinator) RegisterExecutionWorker(cfg ExecutionConfig) error {
	if cfg.ID == "" || cfg.Symbol == "" || len(cfg.Sources) == 0 || cfg.Interval <= 0 {
		return fmt.Errorf("%w: execution %q needs id, symbol, sources and interval", ErrInvalidWorker, cfg.ID)
	}
	if cfg.BaseAsset == "" || cfg.QuoteAsset == "" {
		return fmt.Errorf("%w: execution %q needs base and quote assets", ErrInvalidWorker, cfg.ID)
	}
	if err := cfg.Sizing.Validate(); err != nil {
		return fmt.Errorf("%w: execution %q: %w", ErrInvalidWorker, cfg.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrStarted
	}
	if c.exists(cfg.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateWorker, cfg.ID)
	}
	for _, src := range cfg.Sources {
		if _, ok := c.analysis[src]; !ok {
			return fmt.Errorf("%w: %s references %s", ErrUnknownSource, cfg.ID, src)
		}
	}
	c.execution[cfg.ID] = newExecutionWorker(c, cfg)
	return nil
}

func (c *Coordinator) exists(id string) bool {
	_, a := c.analysis[id]
	_, e := c.execution[id]
	return a || e
}

// Start launches every registered worker.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrStarted
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)

	for _, w := range c.analysis {
		c.wg.Add(1)
		go w.run(c.ctx)
	}
	for _, w := range c.execution {
		c.wg.Add(1)
		go w.run(c.ctx)
	}

	c.logger.Info().
		Int("analysis_workers", len(c.analysis)).
		Int("execution_workers", len(c.execution)).
		Bool("dry_run", c.cfg.DryRun).
		Msg("coordinator started")
	return nil
}

// Stop cancels all workers and waits for in-flight cycles to finish.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.logger.Info().Msg("coordinator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of every worker and the queue.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		Running:   c.running,
		DryRun:    c.cfg.DryRun,
		Analysis:  make([]WorkerStatus, 0, len(c.analysis)),
		Execution: make([]WorkerStatus, 0, len(c.execution)),
	}
	for _, w := range c.analysis {
		st.Analysis = append(st.Analysis, w.stats.snapshot())
	}
	for _, w := range c.execution {
		st.Execution = append(st.Execution, w.stats.snapshot())
	}
	c.mu.Unlock()

	sort.Slice(st.Analysis, func(i, j int) bool { return st.Analysis[i].ID < st.Analysis[j].ID })
	sort.Slice(st.Execution, func(i, j int) bool { return st.Execution[i].ID < st.Execution[j].ID })
	st.Queue = c.queue.Status()
	return st
}

// workerStats is shared bookkeeping for both worker kinds.
type workerStats struct {
	mu sync.Mutex
	WorkerStatus
}

func (s *workerStats) setState(state WorkerState) {
	s.mu.Lock()
	s.State = state
	s.mu.Unlock()
}

func (s *workerStats) cycle(at time.Time) {
	s.mu.Lock()
	s.Cycles++
	s.LastRunAt = at
	s.mu.Unlock()
}

func (s *workerStats) produced() {
	s.mu.Lock()
	s.Produced++
	s.mu.Unlock()
}

func (s *workerStats) skipped() {
	s.mu.Lock()
	s.Skipped++
	s.mu.Unlock()
}

func (s *workerStats) failed(err error) {
	s.mu.Lock()
	s.Failures++
	s.LastError = err.Error()
	s.mu.Unlock()
}

func (s *workerStats) snapshot() WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WorkerStatus
}

// every runs fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
