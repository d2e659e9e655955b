// Package venue defines the capability surface the strategy needs from a
// derivatives exchange. Connectors implement Venue; everything above them is
// exchange-agnostic.
package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrSymbolNotFound is returned by market-data calls for symbols the venue
// does not list.
var ErrSymbolNotFound = errors.New("venue: symbol not found")

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// SymbolInfo describes a perpetual contract as listed on one venue.
type SymbolInfo struct {
	Symbol      string
	QtyStep     decimal.Decimal
	MaxLeverage int
}

// Balance is the account-level margin summary.
type Balance struct {
	Equity    decimal.Decimal
	Available decimal.Decimal
}

// Position is one open perpetual position. Quantity is signed: positive for
// long, negative for short.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
}

func (p Position) Side() Side {
	if p.Quantity.Sign() < 0 {
		return Short
	}
	return Long
}

// Notional is the absolute position value at entry.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.EntryPrice)
}

// OrderRequest describes a market order. Quantity is always positive; Side
// carries the direction. ClientID deduplicates retried submissions.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	ReduceOnly bool
	ClientID   string
}

func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("venue: order symbol is required")
	}
	if r.Side != Long && r.Side != Short {
		return fmt.Errorf("venue: invalid order side %q", r.Side)
	}
	if r.Quantity.Sign() <= 0 {
		return fmt.Errorf("venue: order quantity must be > 0, got %s", r.Quantity)
	}
	return nil
}

// Fill is the immediate result of a market order.
type Fill struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Venue is the full capability set one exchange connector provides. All
// methods honor context cancellation. Position returns nil when the account
// is flat in the symbol.
type Venue interface {
	Name() string
	Symbols(ctx context.Context) (map[string]SymbolInfo, error)
	Balance(ctx context.Context) (Balance, error)
	Position(ctx context.Context, symbol string) (*Position, error)
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	DayVolumeUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*Fill, error)
}
