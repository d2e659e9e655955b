package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxAllowedLeverage is the hard cap applied regardless of what the venues
// or the config permit.
const MaxAllowedLeverage = 20

var (
	// safetyFactor shaves the base capital before leverage is applied.
	safetyFactor = decimal.NewFromFloat(0.98)
	// availableCap bounds notional at 95% of the thinner venue's margin
	// times leverage.
	availableCap = decimal.NewFromFloat(0.95)
)

var (
	ErrInsufficientBalance = errors.New("sizing: available balance below minimum")
	ErrBelowMinNotional    = errors.New("sizing: notional below venue minimum")
	ErrZeroQuantity        = errors.New("sizing: quantity truncates to zero")
)

// FinalLeverage is the leverage actually used: the configured value clamped
// by both venues' maximums and the hard cap.
func FinalLeverage(configured, maxA, maxB int) int {
	lev := configured
	if maxA > 0 && maxA < lev {
		lev = maxA
	}
	if maxB > 0 && maxB < lev {
		lev = maxB
	}
	if lev > MaxAllowedLeverage {
		lev = MaxAllowedLeverage
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

// SizingInputs collects everything BuildPlan needs. Steps are the venues'
// quantity increments; availables are free margin per venue.
type SizingInputs struct {
	BaseCapitalUSD  decimal.Decimal
	Leverage        int
	AvailableA      decimal.Decimal
	AvailableB      decimal.Decimal
	MarkPrice       decimal.Decimal
	StepA           decimal.Decimal
	StepB           decimal.Decimal
	MinNotionalUSD  decimal.Decimal
	MinAvailableUSD decimal.Decimal
}

// Plan is a sized order pair: the same quantity on both venues.
type Plan struct {
	Leverage    int
	Quantity    decimal.Decimal
	NotionalUSD decimal.Decimal
	Step        decimal.Decimal
}

func BuildPlan(in SizingInputs) (Plan, error) {
	if in.Leverage < 1 {
		return Plan{}, fmt.Errorf("sizing: leverage %d is invalid", in.Leverage)
	}
	if in.MarkPrice.Sign() <= 0 {
		return Plan{}, fmt.Errorf("sizing: mark price %s is invalid", in.MarkPrice)
	}
	minAvail := in.AvailableA
	if in.AvailableB.LessThan(minAvail) {
		minAvail = in.AvailableB
	}
	if minAvail.LessThan(in.MinAvailableUSD) {
		return Plan{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, minAvail, in.MinAvailableUSD)
	}
	lev := decimal.NewFromInt(int64(in.Leverage))
	notional := in.BaseCapitalUSD.Mul(safetyFactor).Mul(lev)
	cap := minAvail.Mul(lev).Mul(availableCap)
	if notional.GreaterThan(cap) {
		notional = cap
	}
	if notional.LessThan(in.MinNotionalUSD) {
		return Plan{}, fmt.Errorf("%w: %s < %s", ErrBelowMinNotional, notional, in.MinNotionalUSD)
	}
	step := in.StepA
	if in.StepB.GreaterThan(step) {
		step = in.StepB
	}
	if step.Sign() <= 0 {
		return Plan{}, fmt.Errorf("sizing: quantity step %s is invalid", step)
	}
	// Truncate down to a whole number of steps so both venues accept the
	// same quantity. Dividing by price*step in one exact step avoids the
	// intermediate rounding a plain Div would introduce.
	steps, _ := notional.QuoRem(in.MarkPrice.Mul(step), 0)
	qty := steps.Mul(step)
	if qty.Sign() <= 0 {
		return Plan{}, fmt.Errorf("%w: notional %s at price %s, step %s", ErrZeroQuantity, notional, in.MarkPrice, step)
	}
	return Plan{
		Leverage:    in.Leverage,
		Quantity:    qty,
		NotionalUSD: qty.Mul(in.MarkPrice),
		Step:        step,
	}, nil
}
