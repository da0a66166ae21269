package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

// depthLimits are the book depths the exchange accepts.
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

// MaxKlineLimit is the largest page GetKlines may request.
const MaxKlineLimit = 1000

// ServerTime fetches the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp ServerTimeResponse
	if err := c.get(ctx, "/api/v3/time", nil, &resp); err != nil {
		return time.Time{}, fmt.Errorf("get server time: %w", err)
	}
	if resp.ServerTime <= 0 {
		return time.Time{}, fmt.Errorf("get server time: invalid value %d", resp.ServerTime)
	}
	return MillisToTime(resp.ServerTime), nil
}

// GetPrice fetches the latest price for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (model.Price, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var resp PriceResponse
	if err := c.get(ctx, "/api/v3/ticker/price", query, &resp); err != nil {
		return model.Price{}, fmt.Errorf("get price %s: %w", symbol, err)
	}

	p, err := toPrice(resp, c.now().UTC())
	if err != nil {
		return model.Price{}, fmt.Errorf("get price %s: %w", symbol, err)
	}
	return p, nil
}

// GetKlines fetches the most recent limit candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error) {
	if limit <= 0 || limit > MaxKlineLimit {
		limit = MaxKlineLimit
	}
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("limit", strconv.Itoa(limit))

	var rows []KlineRow
	if err := c.get(ctx, "/api/v3/klines", query, &rows); err != nil {
		return nil, fmt.Errorf("get klines %s %s: %w", symbol, interval, err)
	}

	now := c.now()
	klines := make([]model.Kline, 0, len(rows))
	for _, row := range rows {
		k, err := toKline(symbol, interval, row, now)
		if err != nil {
			return nil, fmt.Errorf("get klines %s %s: %w", symbol, interval, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// Get24hSummary fetches the rolling 24-hour ticker for one symbol.
func (c *Client) Get24hSummary(ctx context.Context, symbol string) (model.Summary24h, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var resp TickerResponse
	if err := c.get(ctx, "/api/v3/ticker/24hr", query, &resp); err != nil {
		return model.Summary24h{}, fmt.Errorf("get 24h summary %s: %w", symbol, err)
	}

	s, err := toSummary(resp)
	if err != nil {
		return model.Summary24h{}, fmt.Errorf("get 24h summary %s: %w", symbol, err)
	}
	return s, nil
}

// All24hSummaries fetches the 24-hour ticker for every symbol. It costs
// far more weight than the per-symbol call.
func (c *Client) All24hSummaries(ctx context.Context) ([]model.Summary24h, error) {
	var resp []TickerResponse
	if err := c.get(ctx, "/api/v3/ticker/24hr", nil, &resp); err != nil {
		return nil, fmt.Errorf("get 24h summaries: %w", err)
	}

	out := make([]model.Summary24h, 0, len(resp))
	for _, r := range resp {
		s, err := toSummary(r)
		if err != nil {
			return nil, fmt.Errorf("get 24h summaries: %s: %w", r.Symbol, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// GetOrderBook fetches a depth snapshot. depth is rounded up to the nearest
// limit the exchange accepts and the result is truncated back to depth.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(DepthLimit(depth)))

	var resp DepthResponse
	if err := c.get(ctx, "/api/v3/depth", query, &resp); err != nil {
		return model.OrderBook{}, fmt.Errorf("get order book %s: %w", symbol, err)
	}

	book, err := toOrderBook(symbol, resp, c.now().UTC())
	if err != nil {
		return model.OrderBook{}, fmt.Errorf("get order book %s: %w", symbol, err)
	}
	return book.Top(depth), nil
}

// DepthLimit returns the smallest accepted limit that covers depth.
func DepthLimit(depth int) int {
	if depth <= 0 {
		return 100
	}
	for _, l := range depthLimits {
		if depth <= l {
			return l
		}
	}
	return depthLimits[len(depthLimits)-1]
}

// ExchangeInfo fetches trading rules for the given symbols, or all symbols
// when none are given.
func (c *Client) ExchangeInfo(ctx context.Context, symbols ...string) ([]model.Instrument, error) {
	query := url.Values{}
	if len(symbols) > 0 {
		encoded, err := json.Marshal(symbols)
		if err != nil {
			return nil, fmt.Errorf("encode symbols: %w", err)
		}
		query.Set("symbols", string(encoded))
	}

	var resp ExchangeInfoResponse
	if err := c.get(ctx, "/api/v3/exchangeInfo", query, &resp); err != nil {
		return nil, fmt.Errorf("get exchange info: %w", err)
	}

	out := make([]model.Instrument, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		inst, err := toInstrument(s)
		if err != nil {
			return nil, fmt.Errorf("get exchange info: %s: %w", s.Symbol, err)
		}
		out = append(out, inst)
	}
	return out, nil
}
