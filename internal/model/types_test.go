package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOrderBook(t *testing.T) {
	book := OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []Level{{d("100"), d("1")}, {d("99"), d("2")}, {d("98"), d("3")}},
		Asks:   []Level{{d("101"), d("1")}, {d("102"), d("2")}},
	}

	t.Run("Top", func(t *testing.T) {
		top := book.Top(2)
		assert.Len(t, top.Bids, 2)
		assert.Len(t, top.Asks, 2)
		assert.Equal(t, "BTCUSDT", top.Symbol)

		top.Bids[0].Price = d("1")
		assert.True(t, book.Bids[0].Price.Equal(d("100")), "Top must copy levels")
	})

	t.Run("TopZeroKeepsAll", func(t *testing.T) {
		assert.Len(t, book.Top(0).Bids, 3)
	})

	t.Run("Best", func(t *testing.T) {
		bid, ok := book.BestBid()
		assert.True(t, ok)
		assert.True(t, bid.Price.Equal(d("100")))

		ask, ok := book.BestAsk()
		assert.True(t, ok)
		assert.True(t, ask.Price.Equal(d("101")))
	})

	t.Run("Empty", func(t *testing.T) {
		var empty OrderBook
		assert.True(t, empty.Empty())
		assert.False(t, book.Empty())
		_, ok := empty.BestBid()
		assert.False(t, ok)
	})
}

func TestSummaryAsPrice(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000).UTC()
	s := Summary24h{Symbol: "ETHUSDT", LastPrice: d("2000.5"), CloseTime: at, Source: SourceREST}

	p := s.AsPrice()
	assert.Equal(t, "ETHUSDT", p.Symbol)
	assert.True(t, p.Price.Equal(d("2000.5")))
	assert.Equal(t, at, p.Time)
	assert.Equal(t, SourceREST, p.Source)
}

func TestInstrumentRoundQuantity(t *testing.T) {
	tests := []struct {
		name string
		step string
		qty  string
		want string
	}{
		{"truncates to step", "0.001", "1.23456", "1.234"},
		{"exact multiple", "0.01", "0.5", "0.5"},
		{"below step", "0.1", "0.05", "0"},
		{"zero step passes through", "0", "1.23456", "1.23456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := Instrument{StepSize: d(tt.step)}
			got := inst.RoundQuantity(d(tt.qty))
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestInstrumentTrading(t *testing.T) {
	assert.True(t, Instrument{Status: "TRADING"}.Trading())
	assert.False(t, Instrument{Status: "BREAK"}.Trading())
}
