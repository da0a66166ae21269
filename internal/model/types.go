package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source marks where a value came from so fallback data is never mistaken
// for live data.
type Source string

const (
	SourceStream Source = "stream"
	SourceREST   Source = "rest"
)

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// Price is the latest traded price for an instrument.
type Price struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
	Source Source          `json:"source"`
}

// Summary24h is the rolling 24-hour ticker. The stream's ticker channel
// carries the same fields, so it doubles as the cached "latest ticker".
type Summary24h struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"last_price"`
	PriceChange        decimal.Decimal `json:"price_change"`
	PriceChangePercent decimal.Decimal `json:"price_change_percent"`
	WeightedAvgPrice   decimal.Decimal `json:"weighted_avg_price"`
	OpenPrice          decimal.Decimal `json:"open_price"`
	HighPrice          decimal.Decimal `json:"high_price"`
	LowPrice           decimal.Decimal `json:"low_price"`
	BidPrice           decimal.Decimal `json:"bid_price"`
	AskPrice           decimal.Decimal `json:"ask_price"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quote_volume"`
	OpenTime           time.Time       `json:"open_time"`
	CloseTime          time.Time       `json:"close_time"`
	TradeCount         int64           `json:"trade_count"`
	Source             Source          `json:"source"`
}

// AsPrice projects the summary onto a Price.
func (s Summary24h) AsPrice() Price {
	return Price{Symbol: s.Symbol, Price: s.LastPrice, Time: s.CloseTime, Source: s.Source}
}

// Kline is one OHLCV candle. A closed kline is final.
type Kline struct {
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	OpenTime    time.Time       `json:"open_time"`
	CloseTime   time.Time       `json:"close_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	TradeCount  int64           `json:"trade_count"`
	Closed      bool            `json:"closed"`
	Source      Source          `json:"source"`
}

// Level is one price level of an order book ladder.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook is a depth snapshot. Bids are sorted descending, asks ascending.
type OrderBook struct {
	Symbol       string    `json:"symbol"`
	LastUpdateID int64     `json:"last_update_id"`
	Bids         []Level   `json:"bids"`
	Asks         []Level   `json:"asks"`
	UpdatedAt    time.Time `json:"updated_at"`
	Source       Source    `json:"source"`
}

// Empty reports whether both ladders are empty.
func (b OrderBook) Empty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// Top returns a copy truncated to depth levels per side. depth <= 0 keeps all.
func (b OrderBook) Top(depth int) OrderBook {
	out := b
	out.Bids = truncateLevels(b.Bids, depth)
	out.Asks = truncateLevels(b.Asks, depth)
	return out
}

// BestBid returns the highest bid, if any.
func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

func truncateLevels(levels []Level, depth int) []Level {
	n := len(levels)
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]Level, n)
	copy(out, levels[:n])
	return out
}

// Trade is a single public trade print.
type Trade struct {
	Symbol       string          `json:"symbol"`
	ID           int64           `json:"id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Time         time.Time       `json:"time"`
	BuyerIsMaker bool            `json:"buyer_is_maker"`
}

// -----------------------------------------------------------------------------
// Orders and Account
// -----------------------------------------------------------------------------

// Side is an order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is an order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderRequest is a new order submission.
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price,omitempty"` // limit orders only
	ClientOrderID string          `json:"client_order_id"`
}

// OrderResult is the exchange acknowledgement of an order.
type OrderResult struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Status        string          `json:"status"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	QuoteQty      decimal.Decimal `json:"quote_qty"`
	TransactTime  time.Time       `json:"transact_time"`
}

// Balance is a single asset balance.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Instrument describes trading rules for a symbol.
type Instrument struct {
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	TickSize    decimal.Decimal `json:"tick_size"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// Trading reports whether the instrument accepts orders.
func (i Instrument) Trading() bool {
	return i.Status == "TRADING"
}

// RoundQuantity truncates qty down to the instrument's step size.
func (i Instrument) RoundQuantity(qty decimal.Decimal) decimal.Decimal {
	if i.StepSize.IsZero() {
		return qty
	}
	return qty.Div(i.StepSize).Floor().Mul(i.StepSize)
}

// Execution records one execution worker's handling of a signal.
type Execution struct {
	WorkerID      string          `json:"worker_id"`
	SignalID      string          `json:"signal_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	ClientOrderID string          `json:"client_order_id"`
	OrderID       int64           `json:"order_id,omitempty"`
	Status        string          `json:"status,omitempty"`
	Result        string          `json:"result"` // placed, failed, dry_run
	Error         string          `json:"error,omitempty"`
	At            time.Time       `json:"at"`
}
