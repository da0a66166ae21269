package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TungTran2095/studio-sub004/internal/api"
	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/stream"
)

type fakeRest struct {
	priceCalls   atomic.Int32
	klineCalls   atomic.Int32
	summaryCalls atomic.Int32
	allCalls     atomic.Int32
	bookCalls    atomic.Int32

	priceErr error
	gate     chan struct{} // when set, GetPrice blocks until closed
}

func (f *fakeRest) GetPrice(ctx context.Context, symbol string) (model.Price, error) {
	f.priceCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.priceErr != nil {
		return model.Price{}, f.priceErr
	}
	return model.Price{Symbol: symbol, Price: decimal.RequireFromString("42000"), Time: t0, Source: model.SourceREST}, nil
}

func (f *fakeRest) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error) {
	f.klineCalls.Add(1)
	out := make([]model.Kline, 0, limit)
	for i := 0; i < limit; i++ {
		k := kline(i, "100", true)
		k.Symbol, k.Interval, k.Source = symbol, interval, model.SourceREST
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeRest) Get24hSummary(ctx context.Context, symbol string) (model.Summary24h, error) {
	f.summaryCalls.Add(1)
	return model.Summary24h{Symbol: symbol, LastPrice: decimal.RequireFromString("1"), Source: model.SourceREST}, nil
}

func (f *fakeRest) All24hSummaries(ctx context.Context) ([]model.Summary24h, error) {
	f.allCalls.Add(1)
	return []model.Summary24h{{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}, {Symbol: "BNBUSDT"}}, nil
}

func (f *fakeRest) GetOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	f.bookCalls.Add(1)
	return book(symbol, 10, model.SourceREST), nil
}

func book(symbol string, levels int, src model.Source) model.OrderBook {
	b := model.OrderBook{Symbol: symbol, Source: src}
	for i := 0; i < levels; i++ {
		b.Bids = append(b.Bids, model.Level{Price: decimal.NewFromInt(int64(100 - i)), Quantity: decimal.NewFromInt(1)})
		b.Asks = append(b.Asks, model.Level{Price: decimal.NewFromInt(int64(101 + i)), Quantity: decimal.NewFromInt(1)})
	}
	return b
}

type fakeSource struct {
	ch chan stream.Message
}

func (s *fakeSource) Messages() <-chan stream.Message { return s.ch }

type fallbackRecorder struct {
	mu      sync.Mutex
	results []string
}

func (r *fallbackRecorder) FallbackQueried(kind, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, kind+":"+result)
}

func (r *fallbackRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.results...)
}

func testAdapterConfig() Config {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Timeframes = []string{"1m", "5m"}
	cfg.FallbackTTL = 30 * time.Second
	cfg.StaleAfter = time.Minute
	cfg.MaxKlines = 50
	cfg.WarmupKlines = 0
	cfg.EventBuffer = 16
	return cfg
}

func newTestAdapter(cfg Config, src Source, rest Fallback, clk *fakeClock, opts ...Option) *Adapter {
	logger := zerolog.Nop()
	opts = append([]Option{WithNow(clk.Now)}, opts...)
	return NewAdapter(cfg, src, rest, &logger, opts...)
}

func ticker(symbol, last string) *stream.TickerMessage {
	return &stream.TickerMessage{
		Stream: "btcusdt@ticker",
		Summary: model.Summary24h{
			Symbol:    symbol,
			LastPrice: decimal.RequireFromString(last),
			CloseTime: t0,
			Source:    model.SourceStream,
		},
	}
}

func TestGetPrice_FallbackOnceThenCached(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	rec := &fallbackRecorder{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk, WithObserver(rec))

	p, err := a.GetPrice(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, model.SourceREST, p.Source)
	assert.Equal(t, int32(1), rest.priceCalls.Load())

	clk.Advance(29 * time.Second)
	_, err = a.GetPrice(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, int32(1), rest.priceCalls.Load(), "served from the fallback cache within ttl")

	clk.Advance(time.Second)
	_, err = a.GetPrice(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, int32(2), rest.priceCalls.Load(), "refetched after ttl")

	assert.Equal(t, []string{"price:fetched", "price:cached", "price:fetched"}, rec.get())
}

func TestGetPrice_ConcurrentMissesShareOneQuery(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{gate: make(chan struct{})}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.GetPrice(context.Background(), "BTCUSDT")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return rest.priceCalls.Load() == 1 }, time.Second, time.Millisecond)
	close(rest.gate)
	wg.Wait()

	assert.Equal(t, int32(1), rest.priceCalls.Load())
}

func TestGetPrice_StreamServesWithoutFallback(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	a.apply(ticker("BTCUSDT", "43000.5"))

	p, err := a.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.SourceStream, p.Source)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("43000.5")))
	assert.Equal(t, int32(0), rest.priceCalls.Load())
}

func TestGetPrice_StaleStreamFallsBack(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	a.apply(ticker("BTCUSDT", "43000.5"))
	clk.Advance(time.Minute)

	p, err := a.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.SourceREST, p.Source)
	assert.Equal(t, int32(1), rest.priceCalls.Load())
}

func TestGetPrice_FallbackDisabled(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)
	a.SetFallbackEnabled(false)
	assert.False(t, a.FallbackEnabled())

	_, err := a.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrNoData)
	assert.ErrorIs(t, err, ErrFallbackDisabled)
	assert.Equal(t, int32(0), rest.priceCalls.Load())

	a.SetFallbackEnabled(true)
	_, err = a.GetPrice(context.Background(), "BTCUSDT")
	assert.NoError(t, err)
}

func TestGetPrice_DeniedIsNoData(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{priceErr: fmt.Errorf("weight/1m0s: %w", api.ErrQuotaExceeded)}
	rec := &fallbackRecorder{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk, WithObserver(rec))

	_, err := a.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrNoData)
	assert.ErrorIs(t, err, api.ErrQuotaExceeded)
	assert.Equal(t, []string{"price:denied"}, rec.get())

	// Failures are not cached.
	_, err = a.GetPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
	assert.Equal(t, int32(2), rest.priceCalls.Load())
}

func TestGetPrice_ErrorIsNoData(t *testing.T) {
	clk := newFakeClock()
	boom := errors.New("connection refused")
	rest := &fakeRest{priceErr: boom}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	_, err := a.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrNoData)
	assert.ErrorIs(t, err, boom)
}

func TestGetKlines_StreamSeries(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	a.apply(&stream.KlineMessage{Kline: kline(0, "100", false)})
	a.apply(&stream.KlineMessage{Kline: kline(0, "101", true)})
	a.apply(&stream.KlineMessage{Kline: kline(1, "102", false)})

	ks, err := a.GetKlines(context.Background(), "BTCUSDT", "1m", 2)
	require.NoError(t, err)
	require.Len(t, ks, 2)
	assert.True(t, ks[0].Closed)
	assert.True(t, ks[0].Close.Equal(decimal.RequireFromString("101")))
	assert.False(t, ks[1].Closed)
	assert.Equal(t, int32(0), rest.klineCalls.Load())
}

func TestGetKlines_ShortSeriesFallsBack(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	rec := &fallbackRecorder{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk, WithObserver(rec))

	a.apply(&stream.KlineMessage{Kline: kline(0, "100", false)})

	ks, err := a.GetKlines(context.Background(), "BTCUSDT", "1m", 20)
	require.NoError(t, err)
	assert.Len(t, ks, 20)
	assert.Equal(t, model.SourceREST, ks[0].Source)
	assert.Equal(t, int32(1), rest.klineCalls.Load())
	assert.Equal(t, []string{"klines:" + ResultFetched}, rec.get())

	a.SetFallbackEnabled(false)
	ks, err = a.GetKlines(context.Background(), "BTCUSDT", "1m", 30)
	require.NoError(t, err, "short stream series beats no data")
	require.Len(t, ks, 1)
	assert.Equal(t, model.SourceStream, ks[0].Source)
}

func TestGetKlines_Fallback(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	ks, err := a.GetKlines(context.Background(), "ETHUSDT", "5m", 5)
	require.NoError(t, err)
	assert.Len(t, ks, 5)

	_, err = a.GetKlines(context.Background(), "ETHUSDT", "5m", 5)
	require.NoError(t, err)
	assert.Equal(t, int32(1), rest.klineCalls.Load())

	_, err = a.GetKlines(context.Background(), "ETHUSDT", "5m", 6)
	require.NoError(t, err)
	assert.Equal(t, int32(2), rest.klineCalls.Load(), "limit is part of the cache key")
}

func TestGet24hSummary(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	a.apply(ticker("BTCUSDT", "43000"))

	s, err := a.Get24hSummary(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.SourceStream, s.Source)

	s, err = a.Get24hSummary(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, model.SourceREST, s.Source)
	assert.Equal(t, int32(1), rest.summaryCalls.Load())
}

func TestAll24hSummaries(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	a.apply(ticker("BTCUSDT", "43000"))

	all, err := a.All24hSummaries(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3, "partial stream coverage falls back to the whole market")
	assert.Equal(t, int32(1), rest.allCalls.Load())

	a.apply(ticker("ETHUSDT", "2500"))
	all, err = a.All24hSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BTCUSDT", all[0].Symbol)
	assert.Equal(t, "ETHUSDT", all[1].Symbol)
	assert.Equal(t, int32(1), rest.allCalls.Load())
}

func TestGetOrderBook(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	a := newTestAdapter(testAdapterConfig(), nil, rest, clk)

	a.apply(&stream.DepthMessage{Stream: "btcusdt@depth20@100ms", Book: book("BTCUSDT", 20, model.SourceStream)})

	b, err := a.GetOrderBook(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Len(t, b.Bids, 5)
	assert.Len(t, b.Asks, 5)
	assert.Equal(t, t0, b.UpdatedAt)
	assert.Equal(t, int32(0), rest.bookCalls.Load())

	b, err = a.GetOrderBook(context.Background(), "ETHUSDT", 3)
	require.NoError(t, err)
	assert.Len(t, b.Bids, 3)
	assert.Equal(t, model.SourceREST, b.Source)
	assert.Equal(t, int32(1), rest.bookCalls.Load())
}

func TestApply_EmitsEvents(t *testing.T) {
	clk := newFakeClock()
	a := newTestAdapter(testAdapterConfig(), nil, &fakeRest{}, clk)

	a.apply(ticker("BTCUSDT", "43000"))
	a.apply(&stream.KlineMessage{Kline: kline(0, "100", false)})
	a.apply(&stream.DepthMessage{Book: book("BTCUSDT", 1, model.SourceStream)})
	a.apply(&stream.TradeMessage{Trade: model.Trade{Symbol: "BTCUSDT", ID: 7}})
	a.apply(&stream.ResponseMessage{ID: 1})

	var types []EventType
	for i := 0; i < 4; i++ {
		e := <-a.Events()
		assert.Equal(t, "BTCUSDT", e.Symbol)
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{EventPriceUpdate, EventKlineUpdate, EventDepthUpdate, EventTradeUpdate}, types)
	assert.Empty(t, a.Events())
	assert.Equal(t, int64(4), a.Status().Applied)
}

func TestApply_DropsEventsWhenFull(t *testing.T) {
	clk := newFakeClock()
	cfg := testAdapterConfig()
	cfg.EventBuffer = 1
	a := newTestAdapter(cfg, nil, &fakeRest{}, clk)

	a.apply(ticker("BTCUSDT", "1"))
	a.apply(ticker("BTCUSDT", "2"))

	assert.Equal(t, int64(1), a.Status().EventsDropped)
	p, err := a.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("2")), "cache updates regardless of event delivery")
}

func TestStateChanged_ConnectionEvents(t *testing.T) {
	clk := newFakeClock()
	a := newTestAdapter(testAdapterConfig(), nil, &fakeRest{}, clk)

	a.StateChanged(stream.StateDisconnected, stream.StateConnecting)
	a.StateChanged(stream.StateConnecting, stream.StateConnected)
	assert.True(t, a.Connected())
	a.StateChanged(stream.StateConnected, stream.StateDisconnected)
	assert.False(t, a.Connected())

	assert.Equal(t, EventConnected, (<-a.Events()).Type)
	assert.Equal(t, EventDisconnected, (<-a.Events()).Type)
	assert.Empty(t, a.Events())
}

func TestAdapter_ConsumesSource(t *testing.T) {
	clk := newFakeClock()
	src := &fakeSource{ch: make(chan stream.Message, 4)}
	a := newTestAdapter(testAdapterConfig(), src, &fakeRest{}, clk)

	require.NoError(t, a.Start(context.Background()))
	src.ch <- ticker("BTCUSDT", "43000")
	src.ch <- &stream.KlineMessage{Kline: kline(0, "100", true)}

	require.Eventually(t, func() bool { return a.Status().Applied == 2 }, time.Second, time.Millisecond)
	st := a.Status()
	assert.Equal(t, 1, st.Tickers)
	assert.Equal(t, 1, st.KlineSeries)
	assert.Equal(t, t0, st.LastMessageAt.UTC())

	close(src.ch)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
}

func TestWarmup_SeedsKlines(t *testing.T) {
	clk := newFakeClock()
	rest := &fakeRest{}
	cfg := testAdapterConfig()
	cfg.WarmupKlines = 20
	a := newTestAdapter(cfg, nil, rest, clk)

	a.Warmup(context.Background())
	assert.Equal(t, int32(4), rest.klineCalls.Load(), "one query per symbol and timeframe")

	ks, err := a.GetKlines(context.Background(), "ETHUSDT", "5m", 10)
	require.NoError(t, err)
	assert.Len(t, ks, 10)
	assert.Equal(t, int32(4), rest.klineCalls.Load(), "served from the seeded series")
	assert.Equal(t, 4, a.Status().KlineSeries)
}
