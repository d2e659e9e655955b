package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hp-hedge-bot/internal/exec"
	"hp-hedge-bot/internal/state"
	"hp-hedge-bot/internal/strategy"
	"hp-hedge-bot/internal/venue"
)

// recoverStep runs one reconciliation attempt from the ERROR phase. It scans
// both venues for live positions, classifies what it finds, and either
// resumes a balanced hedge, closes an orphan leg, or stays in ERROR for the
// next attempt. Read failures are transient and never escalate further.
func (a *App) recoverStep(ctx context.Context) error {
	if err := a.sleep(ctx, a.cfg.Recovery.RetryInterval); err != nil {
		return err
	}
	found, err := a.scanPositions(ctx)
	if err != nil {
		a.log.Warn("reconciliation scan failed, retrying", zap.Error(err))
		return nil
	}
	return a.applyOutcome(ctx, strategy.Reconcile(found, a.cfg.Risk.MaxLegImbalancePct.Decimal))
}

// applyOutcome moves the bot to wherever reconciliation says the book is.
// It runs from the ERROR phase, both on the recovery loop and at startup.
func (a *App) applyOutcome(ctx context.Context, outcome strategy.Outcome) error {
	switch outcome.Kind {
	case strategy.OutcomeFlat:
		a.log.Info("reconciliation found no positions, resuming")
		return a.store.Update(func(doc *state.Document) error {
			doc.Phase = state.PhaseIdle
			doc.Position = nil
			return nil
		})
	case strategy.OutcomeRecovered:
		return a.resumePosition(ctx, outcome)
	case strategy.OutcomeOrphan:
		return a.handleOrphan(ctx, outcome)
	default:
		a.metrics.ReconcileFailures.Inc()
		a.log.Error("reconciliation found inconsistent book, manual review needed",
			zap.String("symbol", outcome.Symbol),
			zap.String("reason", outcome.Reason))
		a.alerts.Notify(ctx, "⚠️ reconciliation blocked: %s", outcome.Reason)
		return nil
	}
}

// scanPositions collects the live position on every tradeable symbol from
// both venues. Quantities are signed as the venues report them.
func (a *App) scanPositions(ctx context.Context) ([]strategy.SymbolPositions, error) {
	var found []strategy.SymbolPositions
	for _, symbol := range a.symbols {
		var posA, posB *venue.Position
		err := inParallel(
			func() error {
				return exec.Retry(ctx, readAttempts, func() error {
					var err error
					posA, err = a.venueA.Position(ctx, symbol)
					return err
				})
			},
			func() error {
				return exec.Retry(ctx, readAttempts, func() error {
					var err error
					posB, err = a.venueB.Position(ctx, symbol)
					return err
				})
			},
		)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", symbol, err)
		}
		sp := strategy.SymbolPositions{Symbol: symbol}
		if posA != nil {
			sp.Legs = append(sp.Legs, strategy.VenueLeg{Venue: a.venueA.Name(), Quantity: posA.Quantity})
		}
		if posB != nil {
			sp.Legs = append(sp.Legs, strategy.VenueLeg{Venue: a.venueB.Name(), Quantity: posB.Quantity})
		}
		if len(sp.Legs) > 0 {
			found = append(found, sp)
		}
	}
	return found, nil
}

// resumePosition rebuilds the position record from what the exchanges report
// and returns to HOLDING. Entry equities are re-snapshotted at the current
// balances, so realized pnl for the resumed cycle measures from recovery
// rather than the original entry.
func (a *App) resumePosition(ctx context.Context, outcome strategy.Outcome) error {
	var posLong, posShort *venue.Position
	longVenue := a.venueByName(outcome.Long.Venue)
	shortVenue := a.venueByName(outcome.Short.Venue)
	err := inParallel(
		func() error {
			return exec.Retry(ctx, readAttempts, func() error {
				var err error
				posLong, err = longVenue.Position(ctx, outcome.Symbol)
				return err
			})
		},
		func() error {
			return exec.Retry(ctx, readAttempts, func() error {
				var err error
				posShort, err = shortVenue.Position(ctx, outcome.Symbol)
				return err
			})
		},
	)
	if err != nil || posLong == nil || posShort == nil {
		a.log.Warn("resume aborted, position details unavailable", zap.Error(err))
		return nil
	}
	balA, balB, err := a.balances(ctx)
	if err != nil {
		a.log.Warn("resume aborted, balances unavailable", zap.Error(err))
		return nil
	}

	leverage := posLong.Leverage
	if leverage < 1 {
		leverage = a.cfg.Strategy.Leverage
	}
	qty := posLong.Quantity.Abs()
	notional := qty.Mul(posLong.EntryPrice)
	now := time.Now().UTC()
	record := &state.PositionRecord{
		Symbol:      outcome.Symbol,
		LongVenue:   outcome.Long.Venue,
		ShortVenue:  outcome.Short.Venue,
		Quantity:    qty,
		Leverage:    leverage,
		NotionalUSD: notional,
		StopLossPct: strategy.StopLossPercent(leverage),
		EntryPrices: map[string]decimal.Decimal{
			outcome.Long.Venue:  posLong.EntryPrice,
			outcome.Short.Venue: posShort.EntryPrice,
		},
		EntryEquities: map[string]decimal.Decimal{
			a.venueA.Name(): balA.Equity,
			a.venueB.Name(): balB.Equity,
		},
		OpenedAt:      now,
		TargetCloseAt: now.Add(a.cfg.Strategy.HoldDuration),
	}
	err = a.store.Update(func(doc *state.Document) error {
		doc.Phase = state.PhaseHolding
		doc.Position = record
		return nil
	})
	if err != nil {
		return err
	}
	a.log.Info("position recovered, resuming hold",
		zap.String("symbol", outcome.Symbol),
		zap.String("quantity", qty.String()),
		zap.Int("leverage", leverage))
	a.alerts.Notify(ctx, "♻️ recovered hedge on %s (%s long / %s short), resuming",
		outcome.Symbol, outcome.Long.Venue, outcome.Short.Venue)
	return nil
}

// handleOrphan closes a lone leg with a reduce-only order when configured
// to, then resumes from IDLE. A failed close keeps the ERROR phase.
func (a *App) handleOrphan(ctx context.Context, outcome strategy.Outcome) error {
	if a.cfg.Recovery.CloseOrphanLegs != nil && !*a.cfg.Recovery.CloseOrphanLegs {
		a.metrics.ReconcileFailures.Inc()
		a.log.Error("orphan leg found, automatic close disabled",
			zap.String("symbol", outcome.Symbol),
			zap.String("venue", outcome.Orphan.Venue),
			zap.String("quantity", outcome.Orphan.Quantity.String()))
		a.alerts.Notify(ctx, "⚠️ orphan leg on %s (%s), automatic close disabled",
			outcome.Symbol, outcome.Orphan.Venue)
		return nil
	}
	v := a.venueByName(outcome.Orphan.Venue)
	side := venue.Short
	if outcome.Orphan.Quantity.Sign() < 0 {
		side = venue.Long
	}
	_, err := a.executor.Place(ctx, v, venue.OrderRequest{
		Symbol:     outcome.Symbol,
		Side:       side,
		Quantity:   outcome.Orphan.Quantity.Abs(),
		ReduceOnly: true,
		ClientID:   fmt.Sprintf("recover-orphan-%s-%s-%d", v.Name(), outcome.Symbol, time.Now().UnixMilli()),
	})
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		a.log.Error("orphan close failed", zap.String("symbol", outcome.Symbol), zap.Error(err))
		return nil
	}
	a.metrics.OrdersPlaced.Inc()
	a.log.Info("orphan leg closed",
		zap.String("symbol", outcome.Symbol),
		zap.String("venue", outcome.Orphan.Venue))
	a.alerts.Notify(ctx, "🧹 closed orphan leg on %s (%s)", outcome.Symbol, outcome.Orphan.Venue)
	return a.store.Update(func(doc *state.Document) error {
		doc.Phase = state.PhaseIdle
		doc.Position = nil
		return nil
	})
}
