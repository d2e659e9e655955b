package strategy

import "github.com/shopspring/decimal"

// stopLossByLeverage maps low leverage tiers to their stop-loss percent.
// Above 5x the percent is max(2, 60/leverage).
var stopLossByLeverage = map[int]int64{
	1: 50,
	2: 30,
	3: 20,
	4: 15,
	5: 12,
}

var (
	stopLossFloor    = decimal.NewFromInt(2)
	stopLossDividend = decimal.NewFromInt(60)
)

// StopLossPercent returns the loss threshold, as a percent of position
// notional, for a position opened at the given leverage. Higher leverage
// gets a tighter stop: at leverage L a move of 60/L percent of notional is
// 60 percent of the margin, leaving an equity buffer before liquidation.
func StopLossPercent(leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	if pct, ok := stopLossByLeverage[leverage]; ok {
		return decimal.NewFromInt(pct)
	}
	pct := stopLossDividend.Div(decimal.NewFromInt(int64(leverage)))
	if pct.LessThan(stopLossFloor) {
		return stopLossFloor
	}
	return pct
}

// LegPnL is one leg's unrealized pnl.
type LegPnL struct {
	Venue         string
	UnrealizedPnL decimal.Decimal
}

// WorstLeg returns the leg with the lowest unrealized pnl. The stop-loss
// watches the worst leg rather than the sum: the hedge nets price moves,
// but a single leg drifting toward liquidation takes the whole position
// with it.
func WorstLeg(legs []LegPnL) (LegPnL, bool) {
	if len(legs) == 0 {
		return LegPnL{}, false
	}
	worst := legs[0]
	for _, leg := range legs[1:] {
		if leg.UnrealizedPnL.LessThan(worst.UnrealizedPnL) {
			worst = leg
		}
	}
	return worst, true
}

// StopLossTriggered reports whether the worst leg's loss has reached stop%
// of the position notional. The boundary counts: a loss of exactly stop%
// triggers.
func StopLossTriggered(worstPnL, notionalUSD, stopPct decimal.Decimal) bool {
	if notionalUSD.Sign() <= 0 {
		return false
	}
	threshold := notionalUSD.Mul(stopPct).Div(hundred).Neg()
	return worstPnL.LessThanOrEqual(threshold)
}
