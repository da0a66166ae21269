package marketdata

import (
	"time"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

// EventType names an adapter event.
type EventType string

const (
	EventPriceUpdate  EventType = "price_update"
	EventKlineUpdate  EventType = "kline_update"
	EventDepthUpdate  EventType = "depth_update"
	EventTradeUpdate  EventType = "trade_update"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event is emitted after the adapter applies a stream message or the
// connection changes state. Exactly one payload field is set for update
// events; connection events carry none.
type Event struct {
	Type   EventType
	Symbol string
	Time   time.Time

	Summary *model.Summary24h
	Kline   *model.Kline
	Book    *model.OrderBook
	Trade   *model.Trade
}

// Fallback query outcomes reported to observers.
const (
	ResultCached   = "cached"
	ResultFetched  = "fetched"
	ResultDenied   = "denied"
	ResultError    = "error"
	ResultDisabled = "disabled"
)

// Observer receives fallback query outcomes.
type Observer interface {
	FallbackQueried(kind, result string)
}
