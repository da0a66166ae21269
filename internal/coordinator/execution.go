package coordinator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TungTran2095/studio-sub004/internal/api"
	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/ratelimit"
	"github.com/TungTran2095/studio-sub004/internal/signal"
)

// clientOrderNamespace seeds client order ids, which are deterministic per
// worker and signal.
var clientOrderNamespace = uuid.MustParse("6f1c4b8e-2d0a-4c55-9a57-3f0f6d1e8b21")

func clientOrderID(workerID, signalID string) string {
	return uuid.NewSHA1(clientOrderNamespace, []byte(workerID+"/"+signalID)).String()
}

// Admission covers everything one signal can spend: the balance read and,
// unless dry running, the order itself.
var (
	balanceCost = ratelimit.CostFor(http.MethodGet, "/api/v3/account", nil)
	orderCost   = ratelimit.CostFor(http.MethodPost, "/api/v3/order", nil)
)

func admissionCost(dryRun bool) ratelimit.Cost {
	if dryRun {
		return balanceCost
	}
	return balanceCost.Add(orderCost)
}

// outcome tells the cycle what to do with a signal after execute.
type outcome int

const (
	outcomeDone  outcome = iota // acted on or definitively rejected
	outcomeRetry                // nothing sent; try again next cycle
	outcomeQuota                // nothing sent; end the cycle
)

type executionWorker struct {
	c         *Coordinator
	cfg       ExecutionConfig
	logger    zerolog.Logger
	stats     workerStats
	processed *processedSet // owned by the worker goroutine
}

func newExecutionWorker(c *Coordinator, cfg ExecutionConfig) *executionWorker {
	w := &executionWorker{
		c:   c,
		cfg: cfg,
		logger: c.logger.With().
			Str("worker_id", cfg.ID).
			Str("symbol", cfg.Symbol).
			Logger(),
		processed: newProcessedSet(c.queue.Horizon()),
	}
	w.stats.WorkerStatus = WorkerStatus{ID: cfg.ID, Kind: "execution", Symbol: cfg.Symbol, State: StateIdle}
	return w
}

func (w *executionWorker) run(ctx context.Context) {
	defer w.c.wg.Done()
	w.logger.Debug().Dur("interval", w.cfg.Interval).Strs("sources", w.cfg.Sources).Msg("execution worker started")
	every(ctx, w.cfg.Interval, func() { w.cycle(ctx) })
}

// cycle runs idle → polling → checking → executing → idle once. A signal is
// marked processed only once its order was sent or it was rejected for good;
// a quota denial ends the cycle and leaves it for the next one.
func (w *executionWorker) cycle(ctx context.Context) {
	defer w.stats.setState(StateIdle)
	now := w.c.now()
	w.stats.cycle(now)
	w.processed.prune(now)

	w.stats.setState(StatePolling)
	for _, s := range w.c.queue.Matching(w.cfg.Symbol, w.cfg.Sources) {
		if ctx.Err() != nil {
			return
		}
		id := s.ID.String()
		if w.processed.seen(id) {
			continue
		}

		w.stats.setState(StateChecking)
		if d := w.c.governor.Check(admissionCost(w.c.cfg.DryRun)); !d.Allowed {
			w.quotaDenied(id, d.Reason, d.RetryAfter)
			return
		}

		w.stats.setState(StateExecuting)
		switch w.execute(ctx, s) {
		case outcomeDone:
			w.processed.add(id, s.GeneratedAt)
		case outcomeQuota:
			return
		}
	}
}

func (w *executionWorker) quotaDenied(id, reason string, retryAfter time.Duration) {
	w.skip(SkipQuota)
	w.logger.Warn().
		Str("signal_id", id).
		Str("reason", reason).
		Dur("retry_after", retryAfter).
		Msg("denied by rate limit, skipping cycle")
}

func (w *executionWorker) skip(reason string) {
	w.stats.skipped()
	for _, o := range w.c.observers {
		o.ExecutionSkipped(reason)
	}
}

func (w *executionWorker) execute(ctx context.Context, s signal.Signal) outcome {
	ctx, cancel := context.WithTimeout(ctx, w.c.cfg.CycleTimeout)
	defer cancel()

	id := s.ID.String()
	logger := w.logger.With().Str("signal_id", id).Str("direction", string(s.Direction)).Logger()

	side, ok := s.Direction.Side()
	if !ok {
		return outcomeDone
	}

	inst, ok := w.c.instruments.Get(w.cfg.Symbol)
	if !ok || !inst.Trading() {
		w.skip(SkipNotTrading)
		logger.Warn().Msg("instrument not trading, skipping signal")
		return outcomeDone
	}

	asset := w.cfg.BaseAsset
	if side == model.SideBuy {
		asset = w.cfg.QuoteAsset
	}
	balance, err := w.c.exchange.FreeBalance(ctx, asset)
	if errors.Is(err, api.ErrQuotaExceeded) {
		w.quotaDenied(id, err.Error(), 0)
		return outcomeQuota
	}
	if err != nil {
		w.stats.failed(err)
		w.skip(SkipError)
		logger.Warn().Err(err).Str("asset", asset).Msg("failed to read balance, retrying next cycle")
		return outcomeRetry
	}

	price := s.ReferencePrice
	if p, err := w.c.market.GetPrice(ctx, w.cfg.Symbol); err == nil {
		price = p.Price
	}

	qty, reason := w.cfg.Sizing.Size(side, balance, price, s.Confidence, inst)
	if reason != "" {
		w.skip(reason)
		logger.Info().
			Str("reason", reason).
			Str("balance", balance.String()).
			Str("price", price.String()).
			Msg("order size rejected")
		return outcomeDone
	}

	req := model.OrderRequest{
		Symbol:        w.cfg.Symbol,
		Side:          side,
		Type:          model.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: clientOrderID(w.cfg.ID, id),
	}
	exec := model.Execution{
		WorkerID:      w.cfg.ID,
		SignalID:      id,
		Symbol:        req.Symbol,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		ClientOrderID: req.ClientOrderID,
	}

	if w.c.cfg.DryRun {
		exec.Result = ResultDryRun
		w.stats.produced()
		logger.Info().
			Str("side", string(side)).
			Str("quantity", qty.String()).
			Str("price", price.String()).
			Msg("dry run, order not submitted")
		w.finish(exec)
		return outcomeDone
	}

	res, err := w.c.exchange.PlaceOrder(ctx, req)
	if errors.Is(err, api.ErrQuotaExceeded) {
		// Denied before sending.
		w.quotaDenied(id, err.Error(), 0)
		return outcomeQuota
	}
	if err != nil {
		exec.Result = ResultFailed
		exec.Error = err.Error()
		w.stats.failed(err)
		logger.Error().Err(err).Str("quantity", qty.String()).Msg("order failed")
		w.finish(exec)
		return outcomeDone
	}

	exec.Result = ResultPlaced
	exec.OrderID = res.OrderID
	exec.Status = res.Status
	w.stats.produced()
	logger.Info().
		Int64("order_id", res.OrderID).
		Str("status", res.Status).
		Str("side", string(side)).
		Str("quantity", qty.String()).
		Str("executed", res.ExecutedQty.String()).
		Msg("order placed")
	w.finish(exec)
	return outcomeDone
}

func (w *executionWorker) finish(exec model.Execution) {
	exec.At = w.c.now()
	for _, o := range w.c.observers {
		o.OrderSubmitted(exec.Symbol, string(exec.Side), exec.Result)
	}
	if w.c.journal != nil {
		w.c.journal.RecordExecution(exec)
	}
}
