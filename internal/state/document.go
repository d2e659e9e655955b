package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document is the full persisted bot state. JSON keys match the layout of
// documents written by earlier deployments so existing state files load.
type Document struct {
	Phase           Phase           `json:"state"`
	CycleNumber     int             `json:"cycle_number"`
	InitialCapital  decimal.Decimal `json:"initial_capital"`
	Position        *PositionRecord `json:"current_position,omitempty"`
	CompletedCycles int             `json:"completed_cycles"`
	CumulativePnL   decimal.Decimal `json:"cumulative_pnl"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PositionRecord describes one open hedged position. Entry prices and entry
// equities are keyed by venue name; the equity snapshot is what realized
// pnl is measured against at close.
type PositionRecord struct {
	Symbol        string                     `json:"symbol"`
	LongVenue     string                     `json:"long_venue"`
	ShortVenue    string                     `json:"short_venue"`
	Quantity      decimal.Decimal            `json:"quantity"`
	Leverage      int                        `json:"leverage"`
	NotionalUSD   decimal.Decimal            `json:"notional_usd"`
	StopLossPct   decimal.Decimal            `json:"stop_loss_pct"`
	EntryPrices   map[string]decimal.Decimal `json:"entry_prices"`
	EntryEquities map[string]decimal.Decimal `json:"entry_equities"`
	OpenedAt      time.Time                  `json:"opened_at"`
	TargetCloseAt time.Time                  `json:"target_close_at"`
}

func (p *PositionRecord) clone() *PositionRecord {
	if p == nil {
		return nil
	}
	cp := *p
	cp.EntryPrices = cloneDecimalMap(p.EntryPrices)
	cp.EntryEquities = cloneDecimalMap(p.EntryEquities)
	return &cp
}

func cloneDecimalMap(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	if m == nil {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
