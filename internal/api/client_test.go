package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TungTran2095/studio-sub004/internal/auth"
	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/ratelimit"
)

type fixedClock struct {
	safe, trading int64
}

func (f fixedClock) SafeTimestamp() int64    { return f.safe }
func (f fixedClock) TradingTimestamp() int64 { return f.trading }

func newGovernor(windows ...ratelimit.Window) *ratelimit.Governor {
	logger := zerolog.Nop()
	if len(windows) == 0 {
		windows = ratelimit.DefaultWindows()
	}
	return ratelimit.New(windows, &logger)
}

func usage(g *ratelimit.Governor, window string) int {
	for _, st := range g.Status() {
		if st.Window == window {
			return st.Used
		}
	}
	return -1
}

func newTestClient(url string, opts ...ClientOption) *Client {
	logger := zerolog.Nop()
	base := []ClientOption{WithLogger(&logger), WithRetries(2, time.Millisecond)}
	return NewClient(url, append(base, opts...)...)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com")

		assert.Equal(t, "https://api.example.com", c.BaseURL())
		assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
		assert.Equal(t, 2, c.maxRetries)
		assert.Equal(t, 5*time.Second, c.recvWindow)
		assert.Nil(t, c.limiter)
		assert.Nil(t, c.creds)
	})

	t.Run("with options", func(t *testing.T) {
		g := newGovernor()
		hc := &http.Client{}
		c := NewClient("https://api.example.com",
			WithHTTPClient(hc),
			WithTimeout(3*time.Second),
			WithRetries(5, 2*time.Second),
			WithLimiter(g),
			WithRecvWindow(10*time.Second),
		)

		assert.Same(t, hc, c.httpClient)
		assert.Equal(t, 3*time.Second, c.httpClient.Timeout)
		assert.Equal(t, 5, c.maxRetries)
		assert.Equal(t, 2*time.Second, c.retryBackoff)
		assert.Equal(t, 10*time.Second, c.recvWindow)
		assert.NotNil(t, c.limiter)
	})
}

func TestServerTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/time", r.URL.Path)
		w.Write([]byte(`{"serverTime":1700000000123}`))
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), got.UnixMilli())
}

func TestGetPrice_RecordsUsageHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "250")
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"43250.12000000"}`))
	}))
	defer server.Close()

	g := newGovernor()
	p, err := newTestClient(server.URL, WithLimiter(g)).GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.True(t, p.Price.Equal(d("43250.12")))
	assert.Equal(t, model.SourceREST, p.Source)

	assert.Equal(t, 250, usage(g, "weight/1m0s"), "header overrides local weight")
	assert.Equal(t, 2, usage(g, "weight/24h0m0s"))
	assert.Equal(t, 1, usage(g, "requests/1m0s"))
	assert.Equal(t, 0, usage(g, "orders/10s"))
}

func TestDoRequest_QuotaDeniedBeforeSend(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"1"}`))
	}))
	defer server.Close()

	g := newGovernor(ratelimit.Window{Counter: ratelimit.CounterWeight, Interval: time.Minute, Capacity: 3})
	c := newTestClient(server.URL, WithLimiter(g))

	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	_, err = c.GetPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	var quotaErr *QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "weight/1m0s", quotaErr.Decision.Window)
	assert.Equal(t, int32(1), hits.Load(), "denied request must not be sent")
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"serverTime":1700000000000}`))
	}))
	defer server.Close()

	g := newGovernor()
	_, err := newTestClient(server.URL, WithLimiter(g)).ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 3, usage(g, "requests/1m0s"), "every attempt is recorded")
}

func TestDoRequest_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ServerTime(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestDoRequest_DoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"bad request", http.StatusBadRequest},
		{"too many requests", http.StatusTooManyRequests},
		{"banned", http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.Header().Set("X-MBX-USED-WEIGHT-1M", "5999")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"code":-1003,"msg":"Too much request weight used."}`))
			}))
			defer server.Close()

			g := newGovernor()
			_, err := newTestClient(server.URL, WithLimiter(g)).GetPrice(context.Background(), "BTCUSDT")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, -1003, apiErr.Code)
			assert.Equal(t, "Too much request weight used.", apiErr.Message)
			assert.Equal(t, int32(1), hits.Load())
			assert.Equal(t, 5999, usage(g, "weight/1m0s"), "error responses still feed headers")
		})
	}
}

func TestDoRequest_TimeoutIsRecorded(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	g := newGovernor()
	c := newTestClient(server.URL, WithLimiter(g), WithTimeout(20*time.Millisecond), WithRetries(0, time.Millisecond))

	_, err := c.ServerTime(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, usage(g, "requests/1m0s"))
	assert.Equal(t, 1, usage(g, "weight/1m0s"))
}

func TestSignedRequests(t *testing.T) {
	creds, err := auth.LoadCredentials("test-key", "test-secret")
	require.NoError(t, err)
	clk := fixedClock{safe: 1_700_000_000_000, trading: 1_699_999_998_000}

	var gotQuery, gotKey, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get(auth.APIKeyHeader)
		gotMethod = r.Method
		switch r.URL.Path {
		case "/api/v3/account":
			w.Write([]byte(`{"canTrade":true,"balances":[{"asset":"BTC","free":"0.5","locked":"0"},{"asset":"USDT","free":"1000.25","locked":"10"}]}`))
		case "/api/v3/order":
			w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"abc","transactTime":1700000000000,"status":"FILLED","executedQty":"0.01","cummulativeQuoteQty":"432.5"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	g := newGovernor()
	c := newTestClient(server.URL, WithCredentials(creds), WithClock(clk), WithLimiter(g))

	t.Run("account uses safe timestamp", func(t *testing.T) {
		free, err := c.FreeBalance(context.Background(), "USDT")
		require.NoError(t, err)
		assert.True(t, free.Equal(d("1000.25")))

		assert.Equal(t, "test-key", gotKey)
		assert.Equal(t, http.MethodGet, gotMethod)
		assertSigned(t, creds, gotQuery, "1700000000000")
	})

	t.Run("missing asset is zero", func(t *testing.T) {
		free, err := c.FreeBalance(context.Background(), "ETH")
		require.NoError(t, err)
		assert.True(t, free.IsZero())
	})

	t.Run("order uses trading timestamp", func(t *testing.T) {
		res, err := c.PlaceOrder(context.Background(), model.OrderRequest{
			Symbol:        "BTCUSDT",
			Side:          model.SideBuy,
			Type:          model.OrderTypeMarket,
			Quantity:      d("0.01"),
			ClientOrderID: "abc",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), res.OrderID)
		assert.Equal(t, "FILLED", res.Status)
		assert.True(t, res.QuoteQty.Equal(d("432.5")))

		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Contains(t, gotQuery, "side=BUY")
		assert.Contains(t, gotQuery, "newClientOrderId=abc")
		assert.NotContains(t, gotQuery, "timeInForce")
		assertSigned(t, creds, gotQuery, "1699999998000")
		assert.Equal(t, 1, usage(g, "orders/10s"))
	})
}

func assertSigned(t *testing.T, creds *auth.Credentials, rawQuery, timestamp string) {
	t.Helper()
	idx := strings.LastIndex(rawQuery, "&signature=")
	require.Positive(t, idx, "query %q is not signed", rawQuery)
	payload, sig := rawQuery[:idx], rawQuery[idx+len("&signature="):]
	assert.Equal(t, creds.Sign(payload), sig)
	assert.Contains(t, payload, "timestamp="+timestamp)
	assert.Contains(t, payload, "recvWindow=5000")
}

func TestPlaceOrder_NotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	creds, err := auth.LoadCredentials("k", "s")
	require.NoError(t, err)
	g := newGovernor()
	c := newTestClient(server.URL, WithCredentials(creds), WithLimiter(g))

	_, err = c.PlaceOrder(context.Background(), model.OrderRequest{
		Symbol: "BTCUSDT", Side: model.SideSell, Type: model.OrderTypeMarket, Quantity: d("1"),
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, usage(g, "orders/10s"), "failed order still consumes order count")
}

func TestSignedRequest_NoCredentials(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Account(context.Background())
	assert.True(t, errors.Is(err, ErrNoCredentials))
	assert.Equal(t, int32(0), hits.Load())
}

func TestGetKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			[1700000000000,"100.0","110.0","95.0","105.0","12.5",1700000059999,"1300.0",42,"6.0","630.0","0"],
			[1700000060000,"105.0","106.0","104.0","105.5","3.0",1700000119999,"315.0",7,"1.0","105.0","0"]
		]`))
	}))
	defer server.Close()

	// Between the two close times: the first candle is closed, the second is not.
	now := time.UnixMilli(1_700_000_090_000)
	c := newTestClient(server.URL, WithNow(func() time.Time { return now }))

	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)

	assert.True(t, klines[0].Closed)
	assert.False(t, klines[1].Closed)
	assert.True(t, klines[0].Close.Equal(d("105")))
	assert.Equal(t, int64(42), klines[0].TradeCount)
	assert.Equal(t, int64(1700000060000), klines[1].OpenTime.UnixMilli())
	assert.Equal(t, "1m", klines[1].Interval)
	assert.Equal(t, model.SourceREST, klines[1].Source)
}

func TestGet24hSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"symbol":"ETHUSDT","priceChange":"-12.5","priceChangePercent":"-0.6","weightedAvgPrice":"2010","lastPrice":"2000.5",` +
			`"bidPrice":"2000.4","askPrice":"2000.6","openPrice":"2013","highPrice":"2050","lowPrice":"1980",` +
			`"volume":"1000","quoteVolume":"2010000","openTime":1699913600000,"closeTime":1700000000000,"count":5000}`
		if r.URL.Query().Get("symbol") == "" {
			body = "[" + body + "]"
		}
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	s, err := c.Get24hSummary(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, s.LastPrice.Equal(d("2000.5")))
	assert.True(t, s.PriceChange.Equal(d("-12.5")))
	assert.Equal(t, int64(5000), s.TradeCount)
	assert.Equal(t, int64(1700000000000), s.CloseTime.UnixMilli())

	all, err := c.All24hSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ETHUSDT", all[0].Symbol)
}

func TestGetOrderBook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"lastUpdateId":99,"bids":[["100.0","1"],["99.5","2"],["99.0","3"]],"asks":[["100.5","1"],["101.0","2"],["101.5","3"]]}`))
	}))
	defer server.Close()

	book, err := newTestClient(server.URL).GetOrderBook(context.Background(), "BTCUSDT", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(99), book.LastUpdateID)
	assert.Len(t, book.Bids, 2)
	assert.Len(t, book.Asks, 2)
	bid, _ := book.BestBid()
	assert.True(t, bid.Price.Equal(d("100")))
}

func TestDepthLimit(t *testing.T) {
	tests := []struct {
		depth, want int
	}{
		{0, 100}, {1, 5}, {5, 5}, {6, 10}, {20, 20}, {21, 50}, {101, 500}, {9999, 5000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DepthLimit(tt.depth), "depth %d", tt.depth)
	}
}

func TestExchangeInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `["BTCUSDT"]`, r.URL.Query().Get("symbols"))
		w.Write([]byte(`{"timezone":"UTC","serverTime":1700000000000,"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT",
			"filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"},{"filterType":"LOT_SIZE","minQty":"0.00001","stepSize":"0.00001"},{"filterType":"NOTIONAL","minNotional":"5.0"}]}]}`))
	}))
	defer server.Close()

	infos, err := newTestClient(server.URL).ExchangeInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	inst := infos[0]
	assert.True(t, inst.Trading())
	assert.Equal(t, "BTC", inst.BaseAsset)
	assert.True(t, inst.StepSize.Equal(d("0.00001")))
	assert.True(t, inst.TickSize.Equal(d("0.01")))
	assert.True(t, inst.MinNotional.Equal(d("5")))
}
