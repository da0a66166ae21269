package api

import json "github.com/goccy/go-json"

// ServerTimeResponse from GET /api/v3/time
type ServerTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// PriceResponse from GET /api/v3/ticker/price
type PriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// TickerResponse from GET /api/v3/ticker/24hr
type TickerResponse struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	WeightedAvgPrice   string `json:"weightedAvgPrice"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	OpenTime           int64  `json:"openTime"`
	CloseTime          int64  `json:"closeTime"`
	Count              int64  `json:"count"`
}

// KlineRow is one row of GET /api/v3/klines. Rows are positional arrays:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, ...]
type KlineRow []json.RawMessage

// DepthResponse from GET /api/v3/depth
type DepthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// ExchangeInfoResponse from GET /api/v3/exchangeInfo
type ExchangeInfoResponse struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one symbol in exchangeInfo.
type SymbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []SymbolFilter `json:"filters"`
}

// SymbolFilter is a trading rule. Only the fields used for sizing are decoded.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// AccountResponse from GET /api/v3/account
type AccountResponse struct {
	CanTrade bool              `json:"canTrade"`
	Balances []BalanceResponse `json:"balances"`
}

// BalanceResponse is one asset balance.
type BalanceResponse struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// OrderResponse from POST /api/v3/order (newOrderRespType=RESULT)
type OrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}
