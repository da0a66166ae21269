// Package signal holds trading signals and the shared, age-bounded queue
// analysis workers publish into and execution workers poll.
package signal

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

// Direction is the action a signal proposes.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
	Hold Direction = "hold"
)

// Side maps the direction to an order side. Hold has no side.
func (d Direction) Side() (model.Side, bool) {
	switch d {
	case Buy:
		return model.SideBuy, true
	case Sell:
		return model.SideSell, true
	}
	return "", false
}

// Signal is immutable once published.
type Signal struct {
	ID             uuid.UUID         `json:"id"`
	Producer       string            `json:"producer" validate:"required"`
	Symbol         string            `json:"symbol" validate:"required"`
	Direction      Direction         `json:"direction" validate:"oneof=buy sell hold"`
	Confidence     float64           `json:"confidence" validate:"gte=0,lte=1"`
	ReferencePrice decimal.Decimal   `json:"reference_price"`
	GeneratedAt    time.Time         `json:"generated_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

var validate = validator.New()

// New creates a signal with a fresh id.
func New(producer, symbol string, dir Direction, confidence float64, price decimal.Decimal, at time.Time) Signal {
	return Signal{
		ID:             uuid.New(),
		Producer:       producer,
		Symbol:         symbol,
		Direction:      dir,
		Confidence:     confidence,
		ReferencePrice: price,
		GeneratedAt:    at,
	}
}

// Actionable reports whether the signal proposes a trade.
func (s Signal) Actionable() bool {
	return s.Direction == Buy || s.Direction == Sell
}

// Validate checks field ranges.
func (s Signal) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}
	if s.ReferencePrice.IsNegative() {
		return fmt.Errorf("invalid signal: negative reference price %s", s.ReferencePrice)
	}
	return nil
}

// ValidAt reports whether the signal is still usable at now. A signal
// generated at T is valid strictly before T+horizon.
func (s Signal) ValidAt(now time.Time, horizon time.Duration) bool {
	return now.Sub(s.GeneratedAt) < horizon
}
