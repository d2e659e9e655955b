package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/exec"
	"hp-hedge-bot/internal/state"
	"hp-hedge-bot/internal/strategy"
	"hp-hedge-bot/internal/timescale"
	"hp-hedge-bot/internal/venue"
)

// analyzeAndOpen runs one IDLE -> ANALYZING pass and, when an opportunity
// qualifies, opens the hedge and lands in HOLDING. Without an opportunity it
// returns to IDLE; with insufficient balance it parks in WAITING.
func (a *App) analyzeAndOpen(ctx context.Context) error {
	if err := a.store.Transition(state.PhaseAnalyzing); err != nil {
		return err
	}
	a.reloadConfig()

	balA, balB, err := a.balances(ctx)
	if err != nil {
		return a.enterError(fmt.Errorf("balance fetch: %w", err))
	}
	minAvail := balA.Available
	if balB.Available.LessThan(minAvail) {
		minAvail = balB.Available
	}
	if minAvail.LessThan(a.cfg.Strategy.MinAvailableUSD.Decimal) {
		a.log.Warn("available balance below minimum",
			zap.String(a.venueA.Name(), balA.Available.String()),
			zap.String(a.venueB.Name(), balB.Available.String()),
			zap.String("minimum", a.cfg.Strategy.MinAvailableUSD.String()))
		return a.store.Transition(state.PhaseWaiting)
	}

	opps, err := a.scanOpportunities(ctx)
	if err != nil {
		return a.enterError(fmt.Errorf("funding scan: %w", err))
	}
	best, ok := strategy.Best(opps, a.cfg.Strategy.MinNetAPR.Decimal)
	if !ok {
		a.log.Info("no opportunity above threshold",
			zap.String("min_net_apr", a.cfg.Strategy.MinNetAPR.String()),
			zap.Int("candidates", len(opps)))
		return a.store.Transition(state.PhaseIdle)
	}
	a.log.Info("opportunity selected",
		zap.String("symbol", best.Symbol),
		zap.String("long_venue", best.LongVenue),
		zap.String("short_venue", best.ShortVenue),
		zap.String("net_apr", best.NetAPR.StringFixed(2)))

	infoA := a.infos[a.venueA.Name()][best.Symbol]
	infoB := a.infos[a.venueB.Name()][best.Symbol]
	leverage := strategy.FinalLeverage(a.cfg.Strategy.Leverage, infoA.MaxLeverage, infoB.MaxLeverage)
	if leverage != a.cfg.Strategy.Leverage {
		a.log.Info("leverage clamped",
			zap.Int("configured", a.cfg.Strategy.Leverage),
			zap.Int("final", leverage))
	}
	err = inParallel(
		func() error { return a.venueA.SetLeverage(ctx, best.Symbol, leverage) },
		func() error { return a.venueB.SetLeverage(ctx, best.Symbol, leverage) },
	)
	if err != nil {
		a.log.Warn("leverage update failed, aborting attempt", zap.Error(err))
		return a.store.Transition(state.PhaseWaiting)
	}

	var mark decimal.Decimal
	err = exec.Retry(ctx, readAttempts, func() error {
		var err error
		mark, err = a.venueB.MarkPrice(ctx, best.Symbol)
		return err
	})
	if err != nil {
		return a.enterError(fmt.Errorf("mark price for %s: %w", best.Symbol, err))
	}

	plan, err := strategy.BuildPlan(strategy.SizingInputs{
		BaseCapitalUSD:  a.cfg.Strategy.BaseCapitalUSD.Decimal,
		Leverage:        leverage,
		AvailableA:      balA.Available,
		AvailableB:      balB.Available,
		MarkPrice:       mark,
		StepA:           infoA.QtyStep,
		StepB:           infoB.QtyStep,
		MinNotionalUSD:  a.cfg.Strategy.MinNotionalUSD.Decimal,
		MinAvailableUSD: a.cfg.Strategy.MinAvailableUSD.Decimal,
	})
	if err != nil {
		a.log.Warn("sizing rejected the opportunity", zap.Error(err))
		return a.store.Transition(state.PhaseWaiting)
	}

	return a.open(ctx, best, plan, balA, balB)
}

// open places both legs concurrently. Either failure lands in ERROR; the
// reconciliation path then discovers whether zero, one or two legs exist.
func (a *App) open(ctx context.Context, opp strategy.Opportunity, plan strategy.Plan, balA, balB venue.Balance) error {
	if err := a.store.Transition(state.PhaseOpening); err != nil {
		return err
	}
	cycle := a.store.Document().CycleNumber + 1
	longVenue := a.venueByName(opp.LongVenue)
	shortVenue := a.venueByName(opp.ShortVenue)
	var longFill, shortFill *venue.Fill
	err := inParallel(
		func() error {
			var err error
			longFill, err = a.executor.Place(ctx, longVenue, venue.OrderRequest{
				Symbol:   opp.Symbol,
				Side:     venue.Long,
				Quantity: plan.Quantity,
				ClientID: fmt.Sprintf("cycle-%d-open-%s", cycle, longVenue.Name()),
			})
			return err
		},
		func() error {
			var err error
			shortFill, err = a.executor.Place(ctx, shortVenue, venue.OrderRequest{
				Symbol:   opp.Symbol,
				Side:     venue.Short,
				Quantity: plan.Quantity,
				ClientID: fmt.Sprintf("cycle-%d-open-%s", cycle, shortVenue.Name()),
			})
			return err
		},
	)
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		return a.enterError(fmt.Errorf("open legs for %s: %w", opp.Symbol, err))
	}
	a.metrics.OrdersPlaced.Inc()
	a.metrics.OrdersPlaced.Inc()

	now := time.Now().UTC()
	record := &state.PositionRecord{
		Symbol:      opp.Symbol,
		LongVenue:   opp.LongVenue,
		ShortVenue:  opp.ShortVenue,
		Quantity:    plan.Quantity,
		Leverage:    plan.Leverage,
		NotionalUSD: plan.NotionalUSD,
		StopLossPct: strategy.StopLossPercent(plan.Leverage),
		EntryPrices: map[string]decimal.Decimal{
			opp.LongVenue:  longFill.Price,
			opp.ShortVenue: shortFill.Price,
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
		doc.CycleNumber = cycle
		doc.Position = record
		return nil
	})
	if err != nil {
		return a.enterError(fmt.Errorf("persist opened position: %w", err))
	}
	a.log.Info("position opened",
		zap.Int("cycle", cycle),
		zap.String("symbol", opp.Symbol),
		zap.String("quantity", plan.Quantity.String()),
		zap.String("notional_usd", plan.NotionalUSD.StringFixed(2)),
		zap.Int("leverage", plan.Leverage),
		zap.String("stop_loss_pct", record.StopLossPct.String()))
	a.alerts.Notify(ctx, "📈 cycle %d opened %s: long %s / short %s, qty %s, %dx, stop %s%%",
		cycle, opp.Symbol, opp.LongVenue, opp.ShortVenue,
		plan.Quantity, plan.Leverage, record.StopLossPct)
	return nil
}

// scanOpportunities fetches both venues' funding rates for every tradeable
// symbol and ranks the spreads. Symbols that fail on either venue are
// skipped rather than failing the scan.
func (a *App) scanOpportunities(ctx context.Context) ([]strategy.Opportunity, error) {
	periods := a.cfg.Strategy.FundingPeriodsPerDay
	now := time.Now().UTC()
	var opps []strategy.Opportunity
	var lastErr error
	for _, symbol := range a.symbols {
		var rateA, rateB decimal.Decimal
		err := inParallel(
			func() error {
				return exec.Retry(ctx, readAttempts, func() error {
					var err error
					rateA, err = a.venueA.FundingRate(ctx, symbol)
					return err
				})
			},
			func() error {
				return exec.Retry(ctx, readAttempts, func() error {
					var err error
					rateB, err = a.venueB.FundingRate(ctx, symbol)
					return err
				})
			},
		)
		if err != nil {
			a.log.Warn("funding rate fetch failed", zap.String("symbol", symbol), zap.Error(err))
			lastErr = err
			continue
		}
		opp := strategy.BuildOpportunity(strategy.RatePair{
			Symbol: symbol,
			VenueA: a.venueA.Name(),
			VenueB: a.venueB.Name(),
			RateA:  rateA,
			RateB:  rateB,
		}, periods)
		opps = append(opps, opp)
		a.history.EnqueueFunding(timescale.FundingSample{
			Time: now, Symbol: symbol, Venue: a.venueA.Name(),
			Rate: rateA, APR: opp.APR[a.venueA.Name()],
		})
		a.history.EnqueueFunding(timescale.FundingSample{
			Time: now, Symbol: symbol, Venue: a.venueB.Name(),
			Rate: rateB, APR: opp.APR[a.venueB.Name()],
		})
	}
	if len(opps) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return opps, nil
}

// reloadConfig re-reads strategy settings between cycles so thresholds and
// capital can be tuned without a restart. Structural settings (venues,
// state paths, metrics) keep their boot values.
func (a *App) reloadConfig() {
	if a.cfgPath == "" {
		return
	}
	fresh, err := config.Load(a.cfgPath)
	if err != nil {
		a.log.Warn("config reload failed, keeping current settings", zap.Error(err))
		return
	}
	a.cfg.Strategy = fresh.Strategy
	a.cfg.Risk = fresh.Risk
	a.cfg.Recovery = fresh.Recovery
}

func (a *App) venueByName(name string) venue.Venue {
	if a.venueB.Name() == name {
		return a.venueB
	}
	return a.venueA
}
