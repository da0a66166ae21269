package signal

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotActionable = errors.New("signal is not actionable")
	ErrExpired       = errors.New("signal already expired")
)

// Default queue limits.
const (
	DefaultCapacity = 1000
	DefaultHorizon  = 5 * time.Minute
)

// Status is a snapshot of the queue.
type Status struct {
	Size      int           `json:"size"`
	Valid     int           `json:"valid"`
	Capacity  int           `json:"capacity"`
	Horizon   time.Duration `json:"horizon"`
	Published int64         `json:"published"`
	Evicted   int64         `json:"evicted"`
}

// Queue is a capped, time-windowed signal queue. When full, the oldest entry
// is dropped. Entries older than the horizon are invalid at read time and are
// purged on the next publish.
type Queue struct {
	capacity int
	horizon  time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	items     []Signal // publish order
	published int64
	evicted   int64
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithNow replaces the queue's clock.
func WithNow(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a queue. Non-positive limits use the defaults.
func NewQueue(capacity int, horizon time.Duration, opts ...QueueOption) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	q := &Queue{
		capacity: capacity,
		horizon:  horizon,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Horizon returns the staleness horizon.
func (q *Queue) Horizon() time.Duration {
	return q.horizon
}

// Publish appends an actionable signal.
func (q *Queue) Publish(s Signal) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if !s.Actionable() {
		return fmt.Errorf("%w: %s", ErrNotActionable, s.Direction)
	}

	now := q.now()
	if !s.ValidAt(now, q.horizon) {
		return fmt.Errorf("%w: generated %s ago", ErrExpired, now.Sub(s.GeneratedAt))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = slices.DeleteFunc(q.items, func(e Signal) bool { return !e.ValidAt(now, q.horizon) })
	q.items = append(q.items, s)
	if over := len(q.items) - q.capacity; over > 0 {
		q.items = slices.Delete(q.items, 0, over)
		q.evicted += int64(over)
	}
	q.published++
	return nil
}

// Matching returns the valid signals for symbol produced by one of
// producers, oldest first. Matching is exact on both.
func (q *Queue) Matching(symbol string, producers []string) []Signal {
	now := q.now()

	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []Signal
	for _, s := range q.items {
		if s.Symbol != symbol || !slices.Contains(producers, s.Producer) {
			continue
		}
		if !s.ValidAt(now, q.horizon) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Recent returns up to n of the newest valid signals, newest first.
func (q *Queue) Recent(n int) []Signal {
	now := q.now()

	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Signal, 0, min(n, len(q.items)))
	for i := len(q.items) - 1; i >= 0 && len(out) < n; i-- {
		if q.items[i].ValidAt(now, q.horizon) {
			out = append(out, q.items[i])
		}
	}
	return out
}

// Status returns a snapshot of the queue.
func (q *Queue) Status() Status {
	now := q.now()

	q.mu.RLock()
	defer q.mu.RUnlock()

	valid := 0
	for _, s := range q.items {
		if s.ValidAt(now, q.horizon) {
			valid++
		}
	}
	return Status{
		Size:      len(q.items),
		Valid:     valid,
		Capacity:  q.capacity,
		Horizon:   q.horizon,
		Published: q.published,
		Evicted:   q.evicted,
	}
}
