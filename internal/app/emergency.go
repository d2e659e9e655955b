package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/exec"
	"hp-hedge-bot/internal/venue"
)

// EmergencyClose force-closes the position on symbol across both venues with
// reduce-only market orders, bypassing the state machine entirely. The state
// file is left untouched; the next bot start reconciles against the now-flat
// book and resumes. With dryRun only the legs that would be closed are
// reported.
func EmergencyClose(ctx context.Context, cfg *config.Config, log *zap.Logger, symbol string, dryRun bool) error {
	hl, pa, err := DialVenues(cfg, log, !dryRun)
	if err != nil {
		return err
	}
	venues := []venue.Venue{hl, pa}
	closed := 0
	for _, v := range venues {
		var pos *venue.Position
		err := exec.Retry(ctx, readAttempts, func() error {
			var err error
			pos, err = v.Position(ctx, symbol)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s position: %w", v.Name(), err)
		}
		if pos == nil || pos.Quantity.IsZero() {
			log.Info("no position", zap.String("venue", v.Name()), zap.String("symbol", symbol))
			continue
		}
		log.Info("open leg found",
			zap.String("venue", v.Name()),
			zap.String("symbol", symbol),
			zap.String("quantity", pos.Quantity.String()),
			zap.String("entry_price", pos.EntryPrice.String()),
			zap.String("unrealized_pnl", pos.UnrealizedPnL.String()))
		if dryRun {
			closed++
			continue
		}
		fill, err := v.PlaceMarketOrder(ctx, venue.OrderRequest{
			Symbol:     symbol,
			Side:       pos.Side().Opposite(),
			Quantity:   pos.Quantity.Abs(),
			ReduceOnly: true,
			ClientID:   fmt.Sprintf("emergency-%s-%s-%d", v.Name(), symbol, time.Now().UnixMilli()),
		})
		if err != nil {
			return fmt.Errorf("%s close: %w", v.Name(), err)
		}
		log.Info("leg closed",
			zap.String("venue", v.Name()),
			zap.String("symbol", symbol),
			zap.String("fill_price", fill.Price.String()))
		closed++
	}
	if closed == 0 {
		log.Info("already flat on both venues", zap.String("symbol", symbol))
	} else if dryRun {
		log.Info("dry run complete, no orders sent", zap.Int("legs", closed))
	}
	return nil
}
