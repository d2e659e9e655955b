// Package strategy holds the pure decision logic: opportunity ranking,
// position sizing, stop-loss rules and position reconciliation. Nothing in
// here talks to an exchange.
package strategy

import (
	"github.com/shopspring/decimal"
)

var (
	daysPerYear = decimal.NewFromInt(365)
	hundred     = decimal.NewFromInt(100)
)

// Annualize converts a per-period funding rate into an annualized
// percentage: rate x periods/day x 365 x 100.
func Annualize(rate decimal.Decimal, periodsPerDay int) decimal.Decimal {
	periods := decimal.NewFromInt(int64(periodsPerDay))
	return rate.Mul(periods).Mul(daysPerYear).Mul(hundred)
}

// RatePair is one symbol's funding rate on both venues.
type RatePair struct {
	Symbol string
	VenueA string
	VenueB string
	RateA  decimal.Decimal
	RateB  decimal.Decimal
}

// Opportunity is a ranked arbitrage candidate. The venue with the lower
// annualized rate takes the long leg: longs pay (or earn less) funding, so
// the spread accrues to the pair.
type Opportunity struct {
	Symbol     string
	LongVenue  string
	ShortVenue string
	APR        map[string]decimal.Decimal
	NetAPR     decimal.Decimal
}

func BuildOpportunity(pair RatePair, periodsPerDay int) Opportunity {
	aprA := Annualize(pair.RateA, periodsPerDay)
	aprB := Annualize(pair.RateB, periodsPerDay)
	opp := Opportunity{
		Symbol: pair.Symbol,
		APR: map[string]decimal.Decimal{
			pair.VenueA: aprA,
			pair.VenueB: aprB,
		},
		NetAPR: aprA.Sub(aprB).Abs(),
	}
	if aprA.LessThan(aprB) {
		opp.LongVenue = pair.VenueA
		opp.ShortVenue = pair.VenueB
	} else {
		opp.LongVenue = pair.VenueB
		opp.ShortVenue = pair.VenueA
	}
	return opp
}

// Best picks the highest net APR at or above the threshold. It reports
// false when no candidate qualifies.
func Best(opps []Opportunity, minNetAPR decimal.Decimal) (Opportunity, bool) {
	var (
		best  Opportunity
		found bool
	)
	for _, opp := range opps {
		if opp.NetAPR.LessThan(minNetAPR) {
			continue
		}
		if !found || opp.NetAPR.GreaterThan(best.NetAPR) {
			best = opp
			found = true
		}
	}
	return best, found
}
