package strategy

import (
	"fmt"
	"math"
	"strconv"

	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/signal"
)

const PriceChangeName = "price_change"

// PriceChange proposes a buy when the close-to-close change over the last
// lookback closed candles reaches +threshold and a sell at -threshold.
// Confidence grows linearly with the change and reaches 1 at twice the
// threshold.
type PriceChange struct {
	lookback  int
	threshold float64
}

// NewPriceChange creates the strategy. threshold is a fraction (0.01 = 1%).
func NewPriceChange(lookback int, threshold float64) *PriceChange {
	if lookback < 1 {
		lookback = 5
	}
	if threshold <= 0 {
		threshold = 0.005
	}
	return &PriceChange{lookback: lookback, threshold: threshold}
}

func (p *PriceChange) Name() string { return PriceChangeName }

// Klines leaves room for the in-progress candle.
func (p *PriceChange) Klines() int { return p.lookback + 2 }

func (p *PriceChange) Evaluate(snap Snapshot) (Proposal, error) {
	closed := make([]model.Kline, 0, len(snap.Klines))
	for _, k := range snap.Klines {
		if k.Closed {
			closed = append(closed, k)
		}
	}
	if len(closed) < p.lookback+1 {
		return Proposal{}, fmt.Errorf("%w: %d closed candles, need %d", ErrInsufficientData, len(closed), p.lookback+1)
	}

	first := closed[len(closed)-1-p.lookback].Close
	last := closed[len(closed)-1].Close
	if first.IsZero() {
		return Proposal{}, fmt.Errorf("%w: zero reference close", ErrInsufficientData)
	}
	change := last.Sub(first).Div(first).InexactFloat64()

	meta := map[string]string{
		"strategy": PriceChangeName,
		"change":   strconv.FormatFloat(change, 'f', 6, 64),
		"lookback": strconv.Itoa(p.lookback),
	}

	magnitude := math.Abs(change)
	if magnitude < p.threshold {
		return Proposal{Direction: signal.Hold, Metadata: meta}, nil
	}

	dir := signal.Buy
	if change < 0 {
		dir = signal.Sell
	}
	return Proposal{
		Direction:  dir,
		Confidence: math.Min(1, magnitude/(2*p.threshold)),
		Metadata:   meta,
	}, nil
}
