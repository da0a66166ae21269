package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

type seriesKey struct {
	symbol   string
	interval string
}

type tickerEntry struct {
	summary model.Summary24h
	at      time.Time
}

type bookEntry struct {
	book model.OrderBook
	at   time.Time
}

type seriesEntry struct {
	klines []model.Kline // oldest first
	at     time.Time
}

// StreamCache is the stream-fed tier: no TTL, overwritten in place. Entries
// record when they were last written so readers can judge staleness.
type StreamCache struct {
	maxKlines int

	mu      sync.RWMutex
	tickers map[string]tickerEntry
	series  map[seriesKey]*seriesEntry
	books   map[string]bookEntry
}

// NewStreamCache creates a cache keeping at most maxKlines candles per series.
func NewStreamCache(maxKlines int) *StreamCache {
	if maxKlines <= 0 {
		maxKlines = 500
	}
	return &StreamCache{
		maxKlines: maxKlines,
		tickers:   make(map[string]tickerEntry),
		series:    make(map[seriesKey]*seriesEntry),
		books:     make(map[string]bookEntry),
	}
}

// PutTicker overwrites the latest ticker for its symbol.
func (c *StreamCache) PutTicker(s model.Summary24h, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers[s.Symbol] = tickerEntry{summary: s, at: at}
}

// Ticker returns the latest ticker and when it was written.
func (c *StreamCache) Ticker(symbol string) (model.Summary24h, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tickers[symbol]
	return e.summary, e.at, ok
}

// PutBook overwrites the order book for its symbol.
func (c *StreamCache) PutBook(b model.OrderBook, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.UpdatedAt = at
	c.books[b.Symbol] = bookEntry{book: b, at: at}
}

// Book returns the latest order book and when it was written.
func (c *StreamCache) Book(symbol string) (model.OrderBook, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.books[symbol]
	if !ok || e.book.Empty() {
		return model.OrderBook{}, time.Time{}, false
	}
	return e.book, e.at, true
}

// ApplyKline merges a stream candle into its series:
//   - same open time as the last entry: replace it, unless the last entry is closed
//   - newer open time: append, dropping the oldest beyond capacity
//   - older open time: ignore
//
// It reports whether the series changed.
func (c *StreamCache) ApplyKline(k model.Kline, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := seriesKey{k.Symbol, k.Interval}
	e, ok := c.series[key]
	if !ok {
		e = &seriesEntry{}
		c.series[key] = e
	}

	n := len(e.klines)
	switch {
	case n == 0 || k.OpenTime.After(e.klines[n-1].OpenTime):
		e.klines = append(e.klines, k)
		if len(e.klines) > c.maxKlines {
			e.klines = append(e.klines[:0], e.klines[len(e.klines)-c.maxKlines:]...)
		}
	case k.OpenTime.Equal(e.klines[n-1].OpenTime):
		if e.klines[n-1].Closed {
			return false
		}
		e.klines[n-1] = k
	default:
		return false
	}
	e.at = at
	return true
}

// SeedKlines merges closed historical candles into a series. Candles
// already present are kept; the series stays ordered and capped.
func (c *StreamCache) SeedKlines(symbol, interval string, history []model.Kline, at time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := seriesKey{symbol, interval}
	e, ok := c.series[key]
	if !ok {
		e = &seriesEntry{}
		c.series[key] = e
	}

	seen := make(map[int64]struct{}, len(e.klines))
	for _, k := range e.klines {
		seen[k.OpenTime.UnixMilli()] = struct{}{}
	}

	added := 0
	merged := append([]model.Kline(nil), e.klines...)
	for _, k := range history {
		if !k.Closed {
			continue
		}
		if _, dup := seen[k.OpenTime.UnixMilli()]; dup {
			continue
		}
		seen[k.OpenTime.UnixMilli()] = struct{}{}
		merged = append(merged, k)
		added++
	}
	if added == 0 {
		return 0
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].OpenTime.Before(merged[j].OpenTime) })
	if len(merged) > c.maxKlines {
		merged = merged[len(merged)-c.maxKlines:]
	}
	e.klines = merged
	if e.at.IsZero() {
		e.at = at
	}
	return added
}

// Klines returns up to limit most recent candles, oldest first. limit <= 0
// returns the whole series.
func (c *StreamCache) Klines(symbol, interval string, limit int) ([]model.Kline, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.series[seriesKey{symbol, interval}]
	if !ok || len(e.klines) == 0 {
		return nil, time.Time{}, false
	}
	start := 0
	if limit > 0 && limit < len(e.klines) {
		start = len(e.klines) - limit
	}
	out := make([]model.Kline, len(e.klines)-start)
	copy(out, e.klines[start:])
	return out, e.at, true
}

// Counts returns the number of tickers, kline series and books held.
func (c *StreamCache) Counts() (tickers, series, books int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tickers), len(c.series), len(c.books)
}
