package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hp-hedge-bot/internal/exec"
	"hp-hedge-bot/internal/state"
	"hp-hedge-bot/internal/state/sqlite"
	"hp-hedge-bot/internal/strategy"
	"hp-hedge-bot/internal/timescale"
	"hp-hedge-bot/internal/venue"
)

// monitor watches one HOLDING position until either the hold duration
// elapses or the worst leg breaches the stop-loss. One call handles one
// check interval; the phase loop drives repetition.
func (a *App) monitor(ctx context.Context) error {
	doc := a.store.Document()
	rec := doc.Position
	if rec == nil {
		return a.enterError(fmt.Errorf("holding phase with no position on record"))
	}
	if !time.Now().UTC().Before(rec.TargetCloseAt) {
		return a.closePosition(ctx, "hold duration elapsed")
	}

	var posA, posB *venue.Position
	err := inParallel(
		func() error {
			return exec.Retry(ctx, readAttempts, func() error {
				var err error
				posA, err = a.venueA.Position(ctx, rec.Symbol)
				return err
			})
		},
		func() error {
			return exec.Retry(ctx, readAttempts, func() error {
				var err error
				posB, err = a.venueB.Position(ctx, rec.Symbol)
				return err
			})
		},
	)
	if err != nil {
		return a.enterError(fmt.Errorf("position check for %s: %w", rec.Symbol, err))
	}
	if posA == nil || posB == nil {
		return a.enterError(fmt.Errorf("leg missing on exchange for %s", rec.Symbol))
	}

	legs := []strategy.LegPnL{
		{Venue: a.venueA.Name(), UnrealizedPnL: posA.UnrealizedPnL},
		{Venue: a.venueB.Name(), UnrealizedPnL: posB.UnrealizedPnL},
	}
	worst, _ := strategy.WorstLeg(legs)
	longPnL, shortPnL := legPnLByRole(rec, legs)
	a.history.EnqueueMonitor(timescale.MonitorSample{
		Time:        time.Now().UTC(),
		Symbol:      rec.Symbol,
		Phase:       string(doc.Phase),
		LongVenue:   rec.LongVenue,
		ShortVenue:  rec.ShortVenue,
		LongPnL:     longPnL,
		ShortPnL:    shortPnL,
		WorstPnL:    worst.UnrealizedPnL,
		NotionalUSD: rec.NotionalUSD,
		StopLossPct: rec.StopLossPct,
	})
	a.log.Debug("position check",
		zap.String("symbol", rec.Symbol),
		zap.String("worst_venue", worst.Venue),
		zap.String("worst_pnl", worst.UnrealizedPnL.StringFixed(4)),
		zap.String("stop_loss_pct", rec.StopLossPct.String()),
		zap.Time("target_close_at", rec.TargetCloseAt))

	if strategy.StopLossTriggered(worst.UnrealizedPnL, rec.NotionalUSD, rec.StopLossPct) {
		a.metrics.StopLossTriggers.Inc()
		a.log.Warn("stop loss triggered",
			zap.String("symbol", rec.Symbol),
			zap.String("worst_venue", worst.Venue),
			zap.String("worst_pnl", worst.UnrealizedPnL.StringFixed(4)),
			zap.String("notional_usd", rec.NotionalUSD.StringFixed(2)))
		a.alerts.Notify(ctx, "🛑 stop loss on %s: worst leg %s at %s", rec.Symbol, worst.Venue, worst.UnrealizedPnL.StringFixed(2))
		return a.closePosition(ctx, "stop loss")
	}
	return a.sleep(ctx, a.cfg.Strategy.CheckInterval)
}

// closePosition unwinds both legs with reduce-only orders, books realized
// pnl from the equity delta and lands in WAITING. Close orders are never
// resubmitted; a failed leg leaves the bot in ERROR for reconciliation.
func (a *App) closePosition(ctx context.Context, reason string) error {
	doc := a.store.Document()
	rec := doc.Position
	if rec == nil {
		return a.enterError(fmt.Errorf("close requested with no position on record"))
	}
	if err := a.store.Transition(state.PhaseClosing); err != nil {
		return err
	}
	a.log.Info("closing position",
		zap.Int("cycle", doc.CycleNumber),
		zap.String("symbol", rec.Symbol),
		zap.String("reason", reason))

	longVenue := a.venueByName(rec.LongVenue)
	shortVenue := a.venueByName(rec.ShortVenue)
	err := inParallel(
		func() error {
			_, err := a.executor.Place(ctx, longVenue, venue.OrderRequest{
				Symbol:     rec.Symbol,
				Side:       venue.Short,
				Quantity:   rec.Quantity,
				ReduceOnly: true,
				ClientID:   fmt.Sprintf("cycle-%d-close-%s", doc.CycleNumber, longVenue.Name()),
			})
			return err
		},
		func() error {
			_, err := a.executor.Place(ctx, shortVenue, venue.OrderRequest{
				Symbol:     rec.Symbol,
				Side:       venue.Long,
				Quantity:   rec.Quantity,
				ReduceOnly: true,
				ClientID:   fmt.Sprintf("cycle-%d-close-%s", doc.CycleNumber, shortVenue.Name()),
			})
			return err
		},
	)
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		return a.enterError(fmt.Errorf("close legs for %s: %w", rec.Symbol, err))
	}
	a.metrics.OrdersPlaced.Inc()
	a.metrics.OrdersPlaced.Inc()

	balA, balB, err := a.balances(ctx)
	if err != nil {
		return a.enterError(fmt.Errorf("balance fetch after close: %w", err))
	}
	entryTotal := decimal.Zero
	for _, eq := range rec.EntryEquities {
		entryTotal = entryTotal.Add(eq)
	}
	realized := balA.Equity.Add(balB.Equity).Sub(entryTotal)

	closedAt := time.Now().UTC()
	err = a.store.Update(func(d *state.Document) error {
		d.Phase = state.PhaseWaiting
		d.Position = nil
		d.CompletedCycles++
		d.CumulativePnL = d.CumulativePnL.Add(realized)
		return nil
	})
	if err != nil {
		return a.enterError(fmt.Errorf("persist closed cycle: %w", err))
	}
	if err := a.kv.AppendCycle(ctx, sqlite.CycleRecord{
		CycleNumber: doc.CycleNumber,
		Symbol:      rec.Symbol,
		LongVenue:   rec.LongVenue,
		ShortVenue:  rec.ShortVenue,
		Quantity:    rec.Quantity,
		NotionalUSD: rec.NotionalUSD,
		Leverage:    rec.Leverage,
		RealizedPnL: realized,
		CloseReason: reason,
		OpenedAt:    rec.OpenedAt,
		ClosedAt:    closedAt,
	}); err != nil {
		a.log.Warn("cycle audit write failed", zap.Error(err))
	}
	a.metrics.CyclesCompleted.Inc()
	a.log.Info("cycle complete",
		zap.Int("cycle", doc.CycleNumber),
		zap.String("symbol", rec.Symbol),
		zap.String("realized_pnl", realized.StringFixed(4)),
		zap.String("reason", reason))
	a.alerts.Notify(ctx, "✅ cycle %d closed %s (%s): realized %s USD",
		doc.CycleNumber, rec.Symbol, reason, realized.StringFixed(2))
	return nil
}

func legPnLByRole(rec *state.PositionRecord, legs []strategy.LegPnL) (long, short decimal.Decimal) {
	for _, leg := range legs {
		if leg.Venue == rec.LongVenue {
			long = leg.UnrealizedPnL
		} else {
			short = leg.UnrealizedPnL
		}
	}
	return long, short
}
