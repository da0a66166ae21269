package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/signal"
)

// DB is the subset of *pgxpool.Pool used by the journal.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config configures a Writer.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
	WriteTimeout  time.Duration
}

// DefaultConfig returns the default writer configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1024,
		WriteTimeout:  10 * time.Second,
	}
}

// Stats reports writer activity.
type Stats struct {
	Signals    int64       `json:"signals"`
	Executions int64       `json:"executions"`
	Conflicts  int64       `json:"conflicts"`
	Flushes    int64       `json:"flushes"`
	Errors     int64       `json:"errors"`
	Dropped    int64       `json:"dropped"`
	Pending    BufferStats `json:"pending"`
}

const (
	insertSignal = `
		INSERT INTO signals (id, producer, symbol, direction, confidence, reference_price, generated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	insertExecution = `
		INSERT INTO executions (client_order_id, worker_id, signal_id, symbol, side, quantity, price,
			order_id, status, result, error, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (client_order_id) DO NOTHING`
)

type record struct {
	sql  string
	args []any
	kind string // signal or execution
}

// Writer buffers journal records and writes them in batches.
type Writer struct {
	cfg    Config
	db     DB
	logger zerolog.Logger

	pending *Buffer[record]
	kick    chan struct{}
	flushMu sync.Mutex

	signals    atomic.Int64
	executions atomic.Int64
	conflicts  atomic.Int64
	flushes    atomic.Int64
	errors     atomic.Int64
	dropped    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a journal writer.
func NewWriter(cfg Config, db DB, logger *zerolog.Logger) *Writer {
	if logger == nil {
		logger = &log.Logger
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Writer{
		cfg:     cfg,
		db:      db,
		logger:  logger.With().Str("component", "journal").Logger(),
		pending: NewBuffer[record](cfg.BufferSize),
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info().
		Int("batch_size", w.cfg.BatchSize).
		Dur("flush_interval", w.cfg.FlushInterval).
		Msg("journal writer started")
	return nil
}

// Stop stops accepting records, waits for the flush loop and writes what is
// still buffered.
func (w *Writer) Stop(ctx context.Context) error {
	w.pending.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn().Msg("journal writer stop timed out")
		return ctx.Err()
	}

	// Final flush runs on the caller's context; the writer's own is cancelled.
	w.flush(ctx)
	w.logger.Info().Int64("signals", w.signals.Load()).Int64("executions", w.executions.Load()).Msg("journal writer stopped")
	return nil
}

// RecordSignal queues a published signal.
func (w *Writer) RecordSignal(s signal.Signal) {
	var meta []byte
	if len(s.Metadata) > 0 {
		meta, _ = json.Marshal(s.Metadata)
	}
	w.enqueue(record{
		sql:  insertSignal,
		kind: "signal",
		args: []any{
			s.ID, s.Producer, s.Symbol, string(s.Direction), s.Confidence,
			numeric(s.ReferencePrice), s.GeneratedAt, meta,
		},
	})
}

// RecordExecution queues an execution outcome.
func (w *Writer) RecordExecution(e model.Execution) {
	var orderID *int64
	if e.OrderID != 0 {
		orderID = &e.OrderID
	}
	w.enqueue(record{
		sql:  insertExecution,
		kind: "execution",
		args: []any{
			e.ClientOrderID, e.WorkerID, e.SignalID, e.Symbol, string(e.Side),
			numeric(e.Quantity), numeric(e.Price), orderID, nullable(e.Status),
			e.Result, nullable(e.Error), e.At,
		},
	})
}

// Stats returns writer counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Signals:    w.signals.Load(),
		Executions: w.executions.Load(),
		Conflicts:  w.conflicts.Load(),
		Flushes:    w.flushes.Load(),
		Errors:     w.errors.Load(),
		Dropped:    w.dropped.Load(),
		Pending:    w.pending.Stats(),
	}
}

func (w *Writer) enqueue(r record) {
	if !w.pending.Send(r) {
		w.dropped.Add(1)
		w.logger.Warn().Str("kind", r.kind).Msg("journal closed, dropping record")
		return
	}
	if w.pending.Len() >= w.cfg.BatchSize {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		case <-w.kick:
			w.flush(w.ctx)
		}
	}
}

// flush writes everything buffered, one batch of at most BatchSize records
// at a time. A failed batch is logged and discarded.
func (w *Writer) flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	for {
		rows := w.pending.Drain(w.cfg.BatchSize)
		if len(rows) == 0 {
			return
		}

		start := time.Now()
		if err := w.write(ctx, rows); err != nil {
			w.errors.Add(1)
			w.logger.Error().Err(err).Int("count", len(rows)).Msg("journal batch insert failed")
			return
		}
		w.flushes.Add(1)
		w.logger.Debug().Int("count", len(rows)).Dur("duration", time.Since(start)).Msg("journal flushed")
	}
}

func (w *Writer) write(ctx context.Context, rows []record) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(r.sql, r.args...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, r := range rows {
		ct, err := results.Exec()
		if err != nil {
			return fmt.Errorf("insert %s: %w", r.kind, err)
		}
		switch {
		case ct.RowsAffected() == 0:
			w.conflicts.Add(1)
		case r.kind == "signal":
			w.signals.Add(1)
		default:
			w.executions.Add(1)
		}
	}
	return nil
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
