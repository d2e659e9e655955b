package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/exec"
	"hp-hedge-bot/internal/state"
	"hp-hedge-bot/internal/venue"
)

// Status is a point-in-time view for operator tooling: the persisted
// document plus live per-leg pnl from both venues when a position is open.
type Status struct {
	Phase           state.Phase
	CycleNumber     int
	CompletedCycles int
	InitialCapital  decimal.Decimal
	CumulativePnL   decimal.Decimal
	Position        *state.PositionRecord
	Legs            []LegStatus
	UnrealizedPnL   decimal.Decimal
}

// LegStatus is one venue's live side of the open position.
type LegStatus struct {
	Venue         string
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// BuildStatus merges the persisted document with the live positions the
// venues report for the recorded symbol. With no position on record the
// document alone is returned.
func BuildStatus(ctx context.Context, doc state.Document, venues []venue.Venue) (Status, error) {
	st := Status{
		Phase:           doc.Phase,
		CycleNumber:     doc.CycleNumber,
		CompletedCycles: doc.CompletedCycles,
		InitialCapital:  doc.InitialCapital,
		CumulativePnL:   doc.CumulativePnL,
		Position:        doc.Position,
	}
	if doc.Position == nil {
		return st, nil
	}
	for _, v := range venues {
		var pos *venue.Position
		err := exec.Retry(ctx, readAttempts, func() error {
			var err error
			pos, err = v.Position(ctx, doc.Position.Symbol)
			return err
		})
		if err != nil {
			return st, fmt.Errorf("%s position: %w", v.Name(), err)
		}
		if pos == nil {
			continue
		}
		st.Legs = append(st.Legs, LegStatus{
			Venue:         v.Name(),
			Quantity:      pos.Quantity,
			EntryPrice:    pos.EntryPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
		})
		st.UnrealizedPnL = st.UnrealizedPnL.Add(pos.UnrealizedPnL)
	}
	return st, nil
}

// CollectStatus loads the state document and queries both venues read-only.
// An existing state file is only read, so this can run alongside a live bot.
func CollectStatus(ctx context.Context, cfg *config.Config, log *zap.Logger) (Status, error) {
	store, err := state.Open(cfg.State.FilePath)
	if err != nil {
		return Status{}, err
	}
	hl, pa, err := DialVenues(cfg, log, false)
	if err != nil {
		return Status{}, err
	}
	return BuildStatus(ctx, store.Document(), []venue.Venue{hl, pa})
}
