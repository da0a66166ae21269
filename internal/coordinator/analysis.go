package coordinator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TungTran2095/studio-sub004/internal/signal"
	"github.com/TungTran2095/studio-sub004/internal/strategy"
)

type analysisWorker struct {
	c      *Coordinator
	cfg    AnalysisConfig
	logger zerolog.Logger
	stats  workerStats
}

func newAnalysisWorker(c *Coordinator, cfg AnalysisConfig) *analysisWorker {
	w := &analysisWorker{
		c:   c,
		cfg: cfg,
		logger: c.logger.With().
			Str("worker_id", cfg.ID).
			Str("symbol", cfg.Symbol).
			Str("strategy", cfg.Strategy.Name()).
			Logger(),
	}
	w.stats.WorkerStatus = WorkerStatus{ID: cfg.ID, Kind: "analysis", Symbol: cfg.Symbol, State: StateIdle}
	return w
}

func (w *analysisWorker) run(ctx context.Context) {
	defer w.c.wg.Done()
	w.logger.Debug().Dur("interval", w.cfg.Interval).Msg("analysis worker started")
	every(ctx, w.cfg.Interval, func() { w.cycle(ctx) })
}

// cycle runs idle → analyzing → publishing → idle once.
func (w *analysisWorker) cycle(ctx context.Context) {
	defer w.stats.setState(StateIdle)
	w.stats.cycle(w.c.now())

	ctx, cancel := context.WithTimeout(ctx, w.c.cfg.CycleTimeout)
	defer cancel()

	w.stats.setState(StateAnalyzing)
	s, err := w.analyze(ctx)
	if err != nil {
		w.stats.failed(err)
		w.logger.Warn().Err(err).Msg("analysis cycle failed")
		return
	}
	if !s.Actionable() {
		w.logger.Debug().Msg("hold")
		return
	}

	w.stats.setState(StatePublishing)
	if err := w.c.queue.Publish(s); err != nil {
		w.stats.failed(err)
		w.logger.Warn().Err(err).Msg("failed to publish signal")
		return
	}
	w.stats.produced()
	if w.c.journal != nil {
		w.c.journal.RecordSignal(s)
	}
	for _, o := range w.c.observers {
		o.SignalPublished(s.Producer, s.Symbol)
	}
	w.logger.Info().
		Str("signal_id", s.ID.String()).
		Str("direction", string(s.Direction)).
		Float64("confidence", s.Confidence).
		Str("price", s.ReferencePrice.String()).
		Msg("signal published")
}

func (w *analysisWorker) analyze(ctx context.Context) (sig signal.Signal, err error) {
	price, err := w.c.market.GetPrice(ctx, w.cfg.Symbol)
	if err != nil {
		return signal.Signal{}, fmt.Errorf("price: %w", err)
	}
	klines, err := w.c.market.GetKlines(ctx, w.cfg.Symbol, w.cfg.Timeframe, w.cfg.Strategy.Klines())
	if err != nil {
		return signal.Signal{}, fmt.Errorf("klines: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", w.cfg.Strategy.Name(), r)
		}
	}()

	p, err := w.cfg.Strategy.Evaluate(strategy.Snapshot{
		Symbol:    w.cfg.Symbol,
		Timeframe: w.cfg.Timeframe,
		Price:     price,
		Klines:    klines,
	})
	if err != nil {
		return signal.Signal{}, fmt.Errorf("evaluate: %w", err)
	}

	s := signal.New(w.cfg.ID, w.cfg.Symbol, p.Direction, p.Confidence, price.Price, w.c.now())
	s.Metadata = p.Metadata
	return s, nil
}
