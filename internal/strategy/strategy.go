// Package strategy defines the pluggable signal logic run by analysis workers.
package strategy

import (
	"errors"
	"fmt"

	"github.com/TungTran2095/studio-sub004/internal/model"
	"github.com/TungTran2095/studio-sub004/internal/signal"
)

// ErrInsufficientData is returned when a snapshot is too short to evaluate.
var ErrInsufficientData = errors.New("insufficient data")

// Snapshot is the market view handed to a strategy.
type Snapshot struct {
	Symbol    string
	Timeframe string
	Price     model.Price
	Klines    []model.Kline // oldest first; the last entry may be in progress
}

// Proposal is a strategy's verdict for one cycle.
type Proposal struct {
	Direction  signal.Direction
	Confidence float64
	Metadata   map[string]string
}

// Strategy computes a proposal from a snapshot. Implementations must be safe
// for use by one worker at a time.
type Strategy interface {
	Name() string
	// Klines is the number of candles the strategy wants in its snapshot.
	Klines() int
	Evaluate(snap Snapshot) (Proposal, error)
}

// New builds a built-in strategy by name.
func New(name string, lookback int, threshold float64) (Strategy, error) {
	switch name {
	case "", PriceChangeName:
		return NewPriceChange(lookback, threshold), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}
