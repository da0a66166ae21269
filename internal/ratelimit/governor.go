// Package ratelimit tracks request weight and order counts against the
// exchange's rolling windows and decides whether a call may be issued.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Counter is the resource a window meters.
type Counter string

const (
	CounterWeight   Counter = "weight"
	CounterOrders   Counter = "orders"
	CounterRequests Counter = "requests"
)

// Kind classifies a call for admission.
type Kind string

const (
	KindRequest Kind = "request"
	KindOrder   Kind = "order"
)

// Window configures one rolling window.
type Window struct {
	Counter  Counter
	Interval time.Duration
	Capacity int
}

// Name is a stable label such as "weight/1m0s".
func (w Window) Name() string {
	return fmt.Sprintf("%s/%s", w.Counter, w.Interval)
}

// DefaultWindows mirrors the published spot limits.
func DefaultWindows() []Window {
	return []Window{
		{Counter: CounterWeight, Interval: time.Minute, Capacity: 6000},
		{Counter: CounterWeight, Interval: 24 * time.Hour, Capacity: 1000000},
		{Counter: CounterOrders, Interval: 10 * time.Second, Capacity: 100},
		{Counter: CounterOrders, Interval: time.Minute, Capacity: 400},
		{Counter: CounterOrders, Interval: 24 * time.Hour, Capacity: 200000},
		{Counter: CounterRequests, Interval: time.Minute, Capacity: 61000},
	}
}

// Cost is the consumption of one call on each counter.
type Cost struct {
	Weight   int
	Orders   int
	Requests int
}

// Add returns the combined cost of c and o.
func (c Cost) Add(o Cost) Cost {
	return Cost{Weight: c.Weight + o.Weight, Orders: c.Orders + o.Orders, Requests: c.Requests + o.Requests}
}

func (c Cost) of(counter Counter) int {
	switch counter {
	case CounterWeight:
		return c.Weight
	case CounterOrders:
		return c.Orders
	case CounterRequests:
		return c.Requests
	}
	return 0
}

// CostOf returns the default cost for a call kind with the given weight.
func CostOf(kind Kind, weight int) Cost {
	c := Cost{Weight: weight, Requests: 1}
	if kind == KindOrder {
		c.Orders = 1
	}
	return c
}

// Decision is the result of an admission check. A denial is a normal outcome.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	Window     string        `json:"window,omitempty"`
	Used       int           `json:"used,omitempty"`
	Capacity   int           `json:"capacity,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Call describes a completed (or attempted) call for bookkeeping.
type Call struct {
	Kind    Kind
	Weight  int
	IsOrder bool
	At      time.Time   // zero means now
	Headers http.Header // authoritative usage headers, may be nil
}

// WindowStatus is a point-in-time view of one window.
type WindowStatus struct {
	Window        string `json:"window"`
	Used          int    `json:"used"`
	Capacity      int    `json:"capacity"`
	Authoritative bool   `json:"authoritative"`
}

// Observer receives governor events.
type Observer interface {
	Denied(window string)
	Usage(window string, used, capacity int)
}

type event struct {
	at     time.Time
	amount int
}

type authoritative struct {
	value int
	at    time.Time
}

type windowState struct {
	cfg    Window
	events []event // ordered by at
	auth   *authoritative
}

// used returns consumption at now. Events count while now-at < interval.
// A server-reported value H read at Th stays authoritative for one interval:
// used = max(local, H + local events after Th).
func (w *windowState) used(now time.Time) int {
	cutoff := now.Add(-w.cfg.Interval)
	local, sinceAuth := 0, 0
	for _, e := range w.events {
		if !e.at.After(cutoff) {
			continue
		}
		local += e.amount
		if w.auth != nil && e.at.After(w.auth.at) {
			sinceAuth += e.amount
		}
	}
	if w.auth != nil && now.Sub(w.auth.at) < w.cfg.Interval {
		if v := w.auth.value + sinceAuth; v > local {
			return v
		}
	}
	return local
}

// retryAfter estimates when enough events expire to admit cost.
func (w *windowState) retryAfter(now time.Time, cost int) time.Duration {
	if w.auth != nil && now.Sub(w.auth.at) < w.cfg.Interval {
		return w.auth.at.Add(w.cfg.Interval).Sub(now)
	}
	excess := w.used(now) + cost - w.cfg.Capacity
	cutoff := now.Add(-w.cfg.Interval)
	for _, e := range w.events {
		if !e.at.After(cutoff) {
			continue
		}
		excess -= e.amount
		if excess <= 0 {
			return e.at.Add(w.cfg.Interval).Sub(now)
		}
	}
	return w.cfg.Interval
}

func (w *windowState) prune(now time.Time) {
	cutoff := now.Add(-w.cfg.Interval)
	i := 0
	for i < len(w.events) && !w.events[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
	if w.auth != nil && now.Sub(w.auth.at) >= w.cfg.Interval {
		w.auth = nil
	}
}

func (w *windowState) append(e event) {
	n := len(w.events)
	if n == 0 || !e.at.Before(w.events[n-1].at) {
		w.events = append(w.events, e)
		return
	}
	idx := sort.Search(n, func(i int) bool { return w.events[i].at.After(e.at) })
	w.events = append(w.events, event{})
	copy(w.events[idx+1:], w.events[idx:])
	w.events[idx] = e
}

// Governor is the per-process source of truth for rate-limit usage.
type Governor struct {
	logger          zerolog.Logger
	observer        Observer
	now             func() time.Time
	cleanupInterval time.Duration

	mu      sync.Mutex
	windows []*windowState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Governor.
type Option func(*Governor)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithObserver registers an observer for denials and usage.
func WithObserver(o Observer) Option {
	return func(g *Governor) { g.observer = o }
}

// WithCleanupInterval sets how often expired events are dropped in the
// background.
func WithCleanupInterval(d time.Duration) Option {
	return func(g *Governor) { g.cleanupInterval = d }
}

// New creates a governor for the given windows.
func New(windows []Window, logger *zerolog.Logger, opts ...Option) *Governor {
	if logger == nil {
		logger = &log.Logger
	}
	g := &Governor{
		logger:          logger.With().Str("component", "ratelimit").Logger(),
		now:             time.Now,
		cleanupInterval: 30 * time.Second,
	}
	for _, w := range windows {
		g.windows = append(g.windows, &windowState{cfg: w})
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanCall checks a call of the given kind at its default weight of 1.
func (g *Governor) CanCall(kind Kind) Decision {
	return g.Check(CostOf(kind, 1))
}

// CanCallWeight checks a call of the given kind and weight.
func (g *Governor) CanCallWeight(kind Kind, weight int) Decision {
	return g.Check(CostOf(kind, weight))
}

// Check denies iff some window's usage plus cost would exceed its capacity.
// It never blocks on I/O.
func (g *Governor) Check(cost Cost) Decision {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.windows {
		c := cost.of(w.cfg.Counter)
		if c == 0 {
			continue
		}
		used := w.used(now)
		if used+c > w.cfg.Capacity {
			d := Decision{
				Allowed:    false,
				Reason:     fmt.Sprintf("would exceed quota: %s used %d + %d > %d", w.cfg.Name(), used, c, w.cfg.Capacity),
				Window:     w.cfg.Name(),
				Used:       used,
				Capacity:   w.cfg.Capacity,
				RetryAfter: w.retryAfter(now, c),
			}
			if g.observer != nil {
				g.observer.Denied(d.Window)
			}
			return d
		}
	}
	return Decision{Allowed: true}
}

// RecordCall appends consumption for a call and applies any authoritative
// usage reported in its headers.
func (g *Governor) RecordCall(call Call) {
	now := g.now()
	at := call.At
	if at.IsZero() {
		at = now
	}
	kind := call.Kind
	if call.IsOrder {
		kind = KindOrder
	}
	cost := CostOf(kind, call.Weight)
	usages := ParseUsageHeaders(call.Headers)

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.windows {
		if c := cost.of(w.cfg.Counter); c > 0 {
			w.append(event{at: at, amount: c})
		}
	}
	for _, u := range usages {
		for _, w := range g.windows {
			if w.cfg.Counter == u.Counter && w.cfg.Interval == u.Interval {
				w.auth = &authoritative{value: u.Value, at: at}
			}
		}
	}
	for _, w := range g.windows {
		w.prune(now)
		if g.observer != nil {
			g.observer.Usage(w.cfg.Name(), w.used(now), w.cfg.Capacity)
		}
	}
}

// Prune drops expired events from every window.
func (g *Governor) Prune() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range g.windows {
		w.prune(now)
	}
}

// Status reports usage for every window.
func (g *Governor) Status() []WindowStatus {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]WindowStatus, 0, len(g.windows))
	for _, w := range g.windows {
		out = append(out, WindowStatus{
			Window:        w.cfg.Name(),
			Used:          w.used(now),
			Capacity:      w.cfg.Capacity,
			Authoritative: w.auth != nil && now.Sub(w.auth.at) < w.cfg.Interval,
		})
	}
	return out
}

// Start runs periodic cleanup of expired events.
func (g *Governor) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-g.ctx.Done():
				return
			case <-ticker.C:
				g.Prune()
			}
		}
	}()

	g.logger.Info().Int("windows", len(g.windows)).Msg("rate limit governor started")
	return nil
}

// Stop halts the cleanup loop.
func (g *Governor) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
