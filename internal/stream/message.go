package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/TungTran2095/studio-sub004/internal/api"
	"github.com/TungTran2095/studio-sub004/internal/model"
)

// Kind tags a decoded message.
type Kind string

const (
	KindTicker   Kind = "ticker"
	KindKline    Kind = "kline"
	KindDepth    Kind = "depth"
	KindTrade    Kind = "trade"
	KindResponse Kind = "response"
)

// Message is a decoded stream message. The set of implementations is closed:
// *TickerMessage, *KlineMessage, *DepthMessage, *TradeMessage, *ResponseMessage.
type Message interface {
	Kind() Kind
	isMessage()
}

// TickerMessage carries a rolling 24h ticker update.
type TickerMessage struct {
	Stream  string
	Summary model.Summary24h
}

// KlineMessage carries a candle update. Kline.Closed marks the final update.
type KlineMessage struct {
	Stream string
	Kline  model.Kline
}

// DepthMessage carries a partial book snapshot.
type DepthMessage struct {
	Stream string
	Book   model.OrderBook
}

// TradeMessage carries a single trade print.
type TradeMessage struct {
	Stream string
	Trade  model.Trade
}

// ResponseMessage acknowledges a command sent on the connection.
type ResponseMessage struct {
	ID    int64
	Error string
}

func (*TickerMessage) Kind() Kind   { return KindTicker }
func (*KlineMessage) Kind() Kind    { return KindKline }
func (*DepthMessage) Kind() Kind    { return KindDepth }
func (*TradeMessage) Kind() Kind    { return KindTrade }
func (*ResponseMessage) Kind() Kind { return KindResponse }

func (*TickerMessage) isMessage()   {}
func (*KlineMessage) isMessage()    {}
func (*DepthMessage) isMessage()    {}
func (*TradeMessage) isMessage()    {}
func (*ResponseMessage) isMessage() {}

var validate = validator.New()

// Wire formats. Keys differ only by case (e/E, t/T, ...), so every colliding
// pair is declared to keep decoding exact.

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

type eventHeader struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

type wireTicker struct {
	EventType          string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s" validate:"required"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	WeightedAvgPrice   string `json:"w"`
	PrevClosePrice     string `json:"x"`
	LastPrice          string `json:"c" validate:"required"`
	LastQty            string `json:"Q"`
	BidPrice           string `json:"b"`
	BidQty             string `json:"B"`
	AskPrice           string `json:"a"`
	AskQty             string `json:"A"`
	OpenPrice          string `json:"o"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
	OpenTime           int64  `json:"O"`
	CloseTime          int64  `json:"C"`
	FirstTradeID       int64  `json:"F"`
	LastTradeID        int64  `json:"L"`
	Count              int64  `json:"n"`
}

type wireKline struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s" validate:"required"`
	K         struct {
		OpenTime     int64  `json:"t" validate:"required"`
		CloseTime    int64  `json:"T" validate:"required"`
		Symbol       string `json:"s"`
		Interval     string `json:"i" validate:"required"`
		FirstTradeID int64  `json:"f"`
		LastTradeID  int64  `json:"L"`
		Open         string `json:"o" validate:"required"`
		Close        string `json:"c" validate:"required"`
		High         string `json:"h" validate:"required"`
		Low          string `json:"l" validate:"required"`
		Volume       string `json:"v"`
		Count        int64  `json:"n"`
		Closed       bool   `json:"x"`
		QuoteVolume  string `json:"q"`
		TakerVolume  string `json:"V"`
		TakerQuote   string `json:"Q"`
	} `json:"k"`
}

type wireDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

type wireTrade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s" validate:"required"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p" validate:"required"`
	Quantity     string `json:"q" validate:"required"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
	Ignore       bool   `json:"M"`
}

// Decode parses one frame into a Message. Combined-stream frames are routed
// by stream name; bare frames by their event type. Decode never returns a
// nil Message with a nil error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch {
	case env.ID != nil && env.Stream == "":
		resp := &ResponseMessage{ID: *env.ID}
		if env.Error != nil {
			resp.Error = fmt.Sprintf("%d: %s", env.Error.Code, env.Error.Msg)
		}
		return resp, nil
	case env.Stream != "":
		if len(env.Data) == 0 {
			return nil, fmt.Errorf("stream %s: empty data", env.Stream)
		}
		return decodeStream(env.Stream, env.Data)
	default:
		return decodeEvent("", data)
	}
}

func decodeStream(name string, data []byte) (Message, error) {
	parts := strings.Split(name, "@")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
	symbol, channel := strings.ToUpper(parts[0]), parts[1]

	switch {
	case strings.HasPrefix(channel, "depth"):
		return decodeDepth(name, symbol, data)
	case channel == "ticker", channel == "trade", strings.HasPrefix(channel, "kline_"):
		return decodeEvent(name, data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
}

func decodeEvent(stream string, data []byte) (Message, error) {
	var hdr eventHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("decode event header: %w", err)
	}

	switch hdr.EventType {
	case "24hrTicker":
		return decodeTicker(stream, data)
	case "kline":
		return decodeKline(stream, data)
	case "trade":
		return decodeTrade(stream, data)
	case "":
		return nil, errors.New("missing event type")
	}
	return nil, fmt.Errorf("unsupported event type %q", hdr.EventType)
}

func decodeTicker(stream string, data []byte) (Message, error) {
	var w wireTicker
	if err := unmarshalValid(data, &w); err != nil {
		return nil, fmt.Errorf("ticker: %w", err)
	}

	var p decimals
	s := model.Summary24h{
		Symbol:             w.Symbol,
		LastPrice:          p.parse(w.LastPrice),
		PriceChange:        p.parse(w.PriceChange),
		PriceChangePercent: p.parse(w.PriceChangePercent),
		WeightedAvgPrice:   p.parse(w.WeightedAvgPrice),
		OpenPrice:          p.parse(w.OpenPrice),
		HighPrice:          p.parse(w.HighPrice),
		LowPrice:           p.parse(w.LowPrice),
		BidPrice:           p.parse(w.BidPrice),
		AskPrice:           p.parse(w.AskPrice),
		Volume:             p.parse(w.Volume),
		QuoteVolume:        p.parse(w.QuoteVolume),
		OpenTime:           api.MillisToTime(w.OpenTime),
		CloseTime:          api.MillisToTime(w.CloseTime),
		TradeCount:         w.Count,
		Source:             model.SourceStream,
	}
	if p.err != nil {
		return nil, fmt.Errorf("ticker %s: %w", w.Symbol, p.err)
	}
	return &TickerMessage{Stream: stream, Summary: s}, nil
}

func decodeKline(stream string, data []byte) (Message, error) {
	var w wireKline
	if err := unmarshalValid(data, &w); err != nil {
		return nil, fmt.Errorf("kline: %w", err)
	}

	var p decimals
	k := model.Kline{
		Symbol:      w.Symbol,
		Interval:    w.K.Interval,
		OpenTime:    api.MillisToTime(w.K.OpenTime),
		CloseTime:   api.MillisToTime(w.K.CloseTime),
		Open:        p.parse(w.K.Open),
		High:        p.parse(w.K.High),
		Low:         p.parse(w.K.Low),
		Close:       p.parse(w.K.Close),
		Volume:      p.parse(w.K.Volume),
		QuoteVolume: p.parse(w.K.QuoteVolume),
		TradeCount:  w.K.Count,
		Closed:      w.K.Closed,
		Source:      model.SourceStream,
	}
	if p.err != nil {
		return nil, fmt.Errorf("kline %s: %w", w.Symbol, p.err)
	}
	return &KlineMessage{Stream: stream, Kline: k}, nil
}

func decodeDepth(stream, symbol string, data []byte) (Message, error) {
	var w wireDepth
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("depth: %w", err)
	}
	bids, err := api.ParseLevels(w.Bids)
	if err != nil {
		return nil, fmt.Errorf("depth %s bids: %w", symbol, err)
	}
	asks, err := api.ParseLevels(w.Asks)
	if err != nil {
		return nil, fmt.Errorf("depth %s asks: %w", symbol, err)
	}
	return &DepthMessage{Stream: stream, Book: model.OrderBook{
		Symbol:       symbol,
		LastUpdateID: w.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		Source:       model.SourceStream,
	}}, nil
}

func decodeTrade(stream string, data []byte) (Message, error) {
	var w wireTrade
	if err := unmarshalValid(data, &w); err != nil {
		return nil, fmt.Errorf("trade: %w", err)
	}

	var p decimals
	t := model.Trade{
		Symbol:       w.Symbol,
		ID:           w.TradeID,
		Price:        p.parse(w.Price),
		Quantity:     p.parse(w.Quantity),
		Time:         api.MillisToTime(w.TradeTime),
		BuyerIsMaker: w.BuyerIsMaker,
	}
	if p.err != nil {
		return nil, fmt.Errorf("trade %s: %w", w.Symbol, p.err)
	}
	return &TradeMessage{Stream: stream, Trade: t}, nil
}

func unmarshalValid(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

type decimals struct {
	err error
}

func (p *decimals) parse(s string) decimal.Decimal {
	d, err := api.ParseDecimal(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

// StreamNames builds the subscription list: ticker, one kline stream per
// timeframe, partial depth and trades for every symbol.
func StreamNames(symbols, timeframes []string, depthLevels int) []string {
	names := make([]string, 0, len(symbols)*(3+len(timeframes)))
	for _, sym := range symbols {
		s := strings.ToLower(sym)
		names = append(names, s+"@ticker")
		for _, tf := range timeframes {
			names = append(names, s+"@kline_"+tf)
		}
		names = append(names, s+"@depth"+strconv.Itoa(depthLevels)+"@100ms")
		names = append(names, s+"@trade")
	}
	return names
}
