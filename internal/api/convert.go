package api

import (
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

// ParseDecimal parses an exchange decimal string. Empty input is zero.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MillisToTime converts epoch milliseconds to UTC time.
func MillisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// decimals parses several fields at once, keeping the first error.
type decimals struct {
	err error
}

func (p *decimals) parse(s string) decimal.Decimal {
	d, err := ParseDecimal(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

// ParseLevels converts [price, qty] string pairs to book levels.
func ParseLevels(raw [][2]string) ([]model.Level, error) {
	var p decimals
	levels := make([]model.Level, 0, len(raw))
	for _, r := range raw {
		levels = append(levels, model.Level{Price: p.parse(r[0]), Quantity: p.parse(r[1])})
	}
	return levels, p.err
}

func toPrice(r PriceResponse, at time.Time) (model.Price, error) {
	price, err := ParseDecimal(r.Price)
	if err != nil {
		return model.Price{}, err
	}
	return model.Price{Symbol: r.Symbol, Price: price, Time: at, Source: model.SourceREST}, nil
}

func toSummary(r TickerResponse) (model.Summary24h, error) {
	var p decimals
	s := model.Summary24h{
		Symbol:             r.Symbol,
		LastPrice:          p.parse(r.LastPrice),
		PriceChange:        p.parse(r.PriceChange),
		PriceChangePercent: p.parse(r.PriceChangePercent),
		WeightedAvgPrice:   p.parse(r.WeightedAvgPrice),
		OpenPrice:          p.parse(r.OpenPrice),
		HighPrice:          p.parse(r.HighPrice),
		LowPrice:           p.parse(r.LowPrice),
		BidPrice:           p.parse(r.BidPrice),
		AskPrice:           p.parse(r.AskPrice),
		Volume:             p.parse(r.Volume),
		QuoteVolume:        p.parse(r.QuoteVolume),
		OpenTime:           MillisToTime(r.OpenTime),
		CloseTime:          MillisToTime(r.CloseTime),
		TradeCount:         r.Count,
		Source:             model.SourceREST,
	}
	return s, p.err
}

// toKline decodes a positional kline row. A candle whose close time has
// passed is marked closed.
func toKline(symbol, interval string, row KlineRow, now time.Time) (model.Kline, error) {
	if len(row) < 9 {
		return model.Kline{}, fmt.Errorf("kline row has %d fields, want at least 9", len(row))
	}
	var (
		openTime, closeTime, trades                      int64
		open, high, low, closePrice, volume, quoteVolume string
	)
	targets := []any{&openTime, &open, &high, &low, &closePrice, &volume, &closeTime, &quoteVolume, &trades}
	var errs []error
	for i, target := range targets {
		if err := json.Unmarshal(row[i], target); err != nil {
			errs = append(errs, fmt.Errorf("field %d: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return model.Kline{}, fmt.Errorf("decode kline: %w", err)
	}

	var p decimals
	k := model.Kline{
		Symbol:      symbol,
		Interval:    interval,
		OpenTime:    MillisToTime(openTime),
		CloseTime:   MillisToTime(closeTime),
		Open:        p.parse(open),
		High:        p.parse(high),
		Low:         p.parse(low),
		Close:       p.parse(closePrice),
		Volume:      p.parse(volume),
		QuoteVolume: p.parse(quoteVolume),
		TradeCount:  trades,
		Closed:      MillisToTime(closeTime).Before(now),
		Source:      model.SourceREST,
	}
	return k, p.err
}

func toOrderBook(symbol string, r DepthResponse, at time.Time) (model.OrderBook, error) {
	bids, err := ParseLevels(r.Bids)
	if err != nil {
		return model.OrderBook{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := ParseLevels(r.Asks)
	if err != nil {
		return model.OrderBook{}, fmt.Errorf("asks: %w", err)
	}
	return model.OrderBook{
		Symbol:       symbol,
		LastUpdateID: r.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		UpdatedAt:    at,
		Source:       model.SourceREST,
	}, nil
}

func toInstrument(s SymbolInfo) (model.Instrument, error) {
	inst := model.Instrument{
		Symbol:     s.Symbol,
		Status:     s.Status,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
	}
	var p decimals
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			inst.StepSize = p.parse(f.StepSize)
			inst.MinQty = p.parse(f.MinQty)
		case "PRICE_FILTER":
			inst.TickSize = p.parse(f.TickSize)
		case "NOTIONAL", "MIN_NOTIONAL":
			inst.MinNotional = p.parse(f.MinNotional)
		}
	}
	return inst, p.err
}

func toOrderResult(r OrderResponse) (model.OrderResult, error) {
	var p decimals
	res := model.OrderResult{
		Symbol:        r.Symbol,
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Status:        r.Status,
		ExecutedQty:   p.parse(r.ExecutedQty),
		QuoteQty:      p.parse(r.CummulativeQuoteQty),
		TransactTime:  MillisToTime(r.TransactTime),
	}
	return res, p.err
}
