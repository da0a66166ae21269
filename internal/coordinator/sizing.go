package coordinator

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

var hundred = decimal.NewFromInt(100)

// SizingPolicy sizes an order as a percentage of the free balance on the
// spending side, optionally scaled by signal confidence.
type SizingPolicy struct {
	EquityPercent     decimal.Decimal
	ScaleByConfidence bool
}

// Validate checks that the percentage is in (0, 100].
func (p SizingPolicy) Validate() error {
	if !p.EquityPercent.IsPositive() || p.EquityPercent.GreaterThan(hundred) {
		return errors.New("equity percent must be in (0, 100]")
	}
	return nil
}

// Size returns the base-asset quantity to trade, rounded down to the
// instrument's step size. balance is the quote balance for buys and the base
// balance for sells. A zero quantity comes with the skip reason.
func (p SizingPolicy) Size(side model.Side, balance, price decimal.Decimal, confidence float64, inst model.Instrument) (decimal.Decimal, string) {
	if !balance.IsPositive() {
		return decimal.Zero, SkipNoBalance
	}

	budget := balance.Mul(p.EquityPercent).Div(hundred)
	if p.ScaleByConfidence {
		budget = budget.Mul(decimal.NewFromFloat(confidence))
	}

	qty := budget
	if side == model.SideBuy {
		if !price.IsPositive() {
			return decimal.Zero, SkipError
		}
		qty = budget.Div(price)
	}

	qty = inst.RoundQuantity(qty)
	if !qty.IsPositive() || qty.LessThan(inst.MinQty) {
		return decimal.Zero, SkipBelowMinQty
	}
	if inst.MinNotional.IsPositive() && qty.Mul(price).LessThan(inst.MinNotional) {
		return decimal.Zero, SkipBelowNotional
	}
	return qty, ""
}
