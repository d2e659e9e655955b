package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VenueLeg is a nonzero position found on one venue during reconciliation.
// Quantity is signed.
type VenueLeg struct {
	Venue    string
	Quantity decimal.Decimal
}

// SymbolPositions groups the legs found for one symbol across venues.
type SymbolPositions struct {
	Symbol string
	Legs   []VenueLeg
}

type OutcomeKind int

const (
	// OutcomeFlat means no position exists anywhere.
	OutcomeFlat OutcomeKind = iota
	// OutcomeRecovered means a balanced hedge was found and can be resumed.
	OutcomeRecovered
	// OutcomeOrphan means exactly one leg exists and should be closed.
	OutcomeOrphan
	// OutcomeInconsistent means the book cannot be explained as one hedge;
	// the operator loop stays in its error state and retries later.
	OutcomeInconsistent
)

type Outcome struct {
	Kind   OutcomeKind
	Symbol string
	Long   VenueLeg
	Short  VenueLeg
	Orphan VenueLeg
	Reason string
}

// Reconcile classifies the positions found on both venues. tolerancePct is
// the allowed net imbalance between the two legs as a percent of the larger
// leg.
func Reconcile(found []SymbolPositions, tolerancePct decimal.Decimal) Outcome {
	var active []SymbolPositions
	for _, sp := range found {
		var legs []VenueLeg
		for _, leg := range sp.Legs {
			if !leg.Quantity.IsZero() {
				legs = append(legs, leg)
			}
		}
		if len(legs) > 0 {
			active = append(active, SymbolPositions{Symbol: sp.Symbol, Legs: legs})
		}
	}
	if len(active) == 0 {
		return Outcome{Kind: OutcomeFlat}
	}
	if len(active) > 1 {
		symbols := make([]string, 0, len(active))
		for _, sp := range active {
			symbols = append(symbols, sp.Symbol)
		}
		return Outcome{
			Kind:   OutcomeInconsistent,
			Reason: fmt.Sprintf("positions on multiple symbols: %v", symbols),
		}
	}

	sp := active[0]
	switch len(sp.Legs) {
	case 1:
		return Outcome{Kind: OutcomeOrphan, Symbol: sp.Symbol, Orphan: sp.Legs[0]}
	case 2:
		a, b := sp.Legs[0], sp.Legs[1]
		if a.Quantity.Sign() == b.Quantity.Sign() {
			return Outcome{
				Kind:   OutcomeInconsistent,
				Symbol: sp.Symbol,
				Reason: fmt.Sprintf("same-side legs %s=%s %s=%s", a.Venue, a.Quantity, b.Venue, b.Quantity),
			}
		}
		net := a.Quantity.Add(b.Quantity).Abs()
		larger := a.Quantity.Abs()
		if b.Quantity.Abs().GreaterThan(larger) {
			larger = b.Quantity.Abs()
		}
		if net.GreaterThan(larger.Mul(tolerancePct).Div(hundred)) {
			return Outcome{
				Kind:   OutcomeInconsistent,
				Symbol: sp.Symbol,
				Reason: fmt.Sprintf("legs not delta-neutral: %s=%s %s=%s", a.Venue, a.Quantity, b.Venue, b.Quantity),
			}
		}
		long, short := a, b
		if long.Quantity.Sign() < 0 {
			long, short = short, long
		}
		return Outcome{Kind: OutcomeRecovered, Symbol: sp.Symbol, Long: long, Short: short}
	default:
		return Outcome{
			Kind:   OutcomeInconsistent,
			Symbol: sp.Symbol,
			Reason: fmt.Sprintf("%d legs found for one symbol", len(sp.Legs)),
		}
	}
}
