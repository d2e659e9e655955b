package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hp-hedge-bot/internal/alerts"
	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/exec"
	"hp-hedge-bot/internal/metrics"
	"hp-hedge-bot/internal/state"
	"hp-hedge-bot/internal/state/sqlite"
	"hp-hedge-bot/internal/venue"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeVenue serves canned balances and positions and records the orders it
// receives.
type fakeVenue struct {
	name     string
	balance  venue.Balance
	position *venue.Position
	placed   []venue.OrderRequest
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) Symbols(ctx context.Context) (map[string]venue.SymbolInfo, error) {
	return map[string]venue.SymbolInfo{
		"BTC": {Symbol: "BTC", QtyStep: dec("0.00001"), MaxLeverage: 40},
	}, nil
}

func (f *fakeVenue) Balance(ctx context.Context) (venue.Balance, error) {
	return f.balance, nil
}

func (f *fakeVenue) Position(ctx context.Context, symbol string) (*venue.Position, error) {
	return f.position, nil
}

func (f *fakeVenue) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Decimal{}, nil
}

func (f *fakeVenue) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return dec("50000"), nil
}

func (f *fakeVenue) DayVolumeUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Decimal{}, nil
}

func (f *fakeVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.Fill, error) {
	f.placed = append(f.placed, req)
	f.position = nil
	return &venue.Fill{Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity, Price: dec("50000")}, nil
}

func newTestApp(t *testing.T, hl, pa *fakeVenue) *App {
	t.Helper()
	dir := t.TempDir()
	store, err := state.Open(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	kv, err := sqlite.New(filepath.Join(dir, "bot.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	cfg := &config.Config{}
	cfg.Strategy.Leverage = 3
	cfg.Strategy.HoldDuration = 8 * time.Hour
	cfg.Risk.MaxLegImbalancePct = config.NewDecimal(decimal.NewFromInt(5))
	closeOrphans := true
	cfg.Recovery.CloseOrphanLegs = &closeOrphans

	log := zap.NewNop()
	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		kv:       kv,
		venueA:   hl,
		venueB:   pa,
		executor: exec.New(kv, log),
		metrics:  metrics.NewNoop(),
		alerts:   alerts.NewTelegram(config.TelegramConfig{}, log),
		symbols:  []string{"BTC"},
	}
}

// A hedge live on both venues with no state file behind it must be adopted
// at startup, not traded over.
func TestStartupRecoversUntrackedHedge(t *testing.T) {
	hl := &fakeVenue{
		name:    "hyperliquid",
		balance: venue.Balance{Equity: dec("1000"), Available: dec("800")},
		position: &venue.Position{
			Symbol: "BTC", Quantity: dec("0.5"), EntryPrice: dec("50000"), Leverage: 3,
		},
	}
	pa := &fakeVenue{
		name:    "pacifica",
		balance: venue.Balance{Equity: dec("1000"), Available: dec("800")},
		position: &venue.Position{
			Symbol: "BTC", Quantity: dec("-0.5"), EntryPrice: dec("50000"), Leverage: 3,
		},
	}
	a := newTestApp(t, hl, pa)

	if err := a.normalizeStartup(context.Background()); err != nil {
		t.Fatalf("normalizeStartup: %v", err)
	}
	doc := a.store.Document()
	if doc.Phase != state.PhaseHolding {
		t.Fatalf("phase = %s, want HOLDING", doc.Phase)
	}
	if doc.Position == nil {
		t.Fatal("expected a rebuilt position record")
	}
	if doc.Position.Symbol != "BTC" || doc.Position.LongVenue != "hyperliquid" {
		t.Fatalf("rebuilt record = %s long %s", doc.Position.Symbol, doc.Position.LongVenue)
	}
	if !doc.Position.Quantity.Equal(dec("0.5")) {
		t.Fatalf("quantity = %s, want 0.5", doc.Position.Quantity)
	}
	if len(hl.placed)+len(pa.placed) != 0 {
		t.Fatal("startup reconciliation must not place orders for a balanced hedge")
	}
}

// A document claiming HOLDING while both venues are flat must be cleared
// back to IDLE before the loop starts.
func TestStartupClearsVanishedPosition(t *testing.T) {
	hl := &fakeVenue{name: "hyperliquid", balance: venue.Balance{Equity: dec("1000")}}
	pa := &fakeVenue{name: "pacifica", balance: venue.Balance{Equity: dec("1000")}}
	a := newTestApp(t, hl, pa)

	for _, p := range []state.Phase{state.PhaseAnalyzing, state.PhaseOpening} {
		if err := a.store.Transition(p); err != nil {
			t.Fatalf("transition to %s: %v", p, err)
		}
	}
	err := a.store.Update(func(d *state.Document) error {
		d.Phase = state.PhaseHolding
		d.Position = &state.PositionRecord{
			Symbol: "BTC", LongVenue: "hyperliquid", ShortVenue: "pacifica",
			Quantity: dec("0.5"), Leverage: 3, NotionalUSD: dec("25000"),
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed holding document: %v", err)
	}

	if err := a.normalizeStartup(context.Background()); err != nil {
		t.Fatalf("normalizeStartup: %v", err)
	}
	doc := a.store.Document()
	if doc.Phase != state.PhaseIdle {
		t.Fatalf("phase = %s, want IDLE", doc.Phase)
	}
	if doc.Position != nil {
		t.Fatal("vanished position should be cleared from the document")
	}
}

// A lone leg found at startup is closed reduce-only, same as the recovery
// loop would.
func TestStartupClosesOrphanLeg(t *testing.T) {
	hl := &fakeVenue{name: "hyperliquid", balance: venue.Balance{Equity: dec("1000")}}
	pa := &fakeVenue{
		name:    "pacifica",
		balance: venue.Balance{Equity: dec("1000")},
		position: &venue.Position{
			Symbol: "BTC", Quantity: dec("-0.5"), EntryPrice: dec("50000"), Leverage: 3,
		},
	}
	a := newTestApp(t, hl, pa)

	if err := a.normalizeStartup(context.Background()); err != nil {
		t.Fatalf("normalizeStartup: %v", err)
	}
	if len(pa.placed) != 1 {
		t.Fatalf("placed %d orders on pacifica, want 1", len(pa.placed))
	}
	order := pa.placed[0]
	if order.Side != venue.Long || !order.ReduceOnly {
		t.Fatalf("orphan close order = side %s reduceOnly %v", order.Side, order.ReduceOnly)
	}
	if !order.Quantity.Equal(dec("0.5")) {
		t.Fatalf("orphan close quantity = %s, want 0.5", order.Quantity)
	}
	doc := a.store.Document()
	if doc.Phase != state.PhaseIdle {
		t.Fatalf("phase = %s, want IDLE", doc.Phase)
	}
}

func TestBuildStatusMergesLiveLegs(t *testing.T) {
	hl := &fakeVenue{
		name: "hyperliquid",
		position: &venue.Position{
			Symbol: "BTC", Quantity: dec("0.5"), EntryPrice: dec("50000"), UnrealizedPnL: dec("-12.5"),
		},
	}
	pa := &fakeVenue{
		name: "pacifica",
		position: &venue.Position{
			Symbol: "BTC", Quantity: dec("-0.5"), EntryPrice: dec("50010"), UnrealizedPnL: dec("17.5"),
		},
	}
	doc := state.Document{
		Phase:       state.PhaseHolding,
		CycleNumber: 7,
		Position: &state.PositionRecord{
			Symbol: "BTC", LongVenue: "hyperliquid", ShortVenue: "pacifica",
			Quantity: dec("0.5"), Leverage: 3, NotionalUSD: dec("25000"),
		},
	}
	st, err := BuildStatus(context.Background(), doc, []venue.Venue{hl, pa})
	if err != nil {
		t.Fatalf("BuildStatus: %v", err)
	}
	if st.Phase != state.PhaseHolding || st.CycleNumber != 7 {
		t.Fatalf("status header = %s cycle %d", st.Phase, st.CycleNumber)
	}
	if len(st.Legs) != 2 {
		t.Fatalf("legs = %d, want 2", len(st.Legs))
	}
	if !st.UnrealizedPnL.Equal(dec("5")) {
		t.Fatalf("total unrealized = %s, want 5", st.UnrealizedPnL)
	}
	if st.Legs[0].Venue != "hyperliquid" || !st.Legs[0].UnrealizedPnL.Equal(dec("-12.5")) {
		t.Fatalf("first leg = %s pnl %s", st.Legs[0].Venue, st.Legs[0].UnrealizedPnL)
	}
}

func TestBuildStatusWithoutPosition(t *testing.T) {
	doc := state.Document{Phase: state.PhaseIdle, CompletedCycles: 3, CumulativePnL: dec("42.5")}
	st, err := BuildStatus(context.Background(), doc, nil)
	if err != nil {
		t.Fatalf("BuildStatus: %v", err)
	}
	if st.Position != nil || len(st.Legs) != 0 {
		t.Fatal("flat document should carry no legs")
	}
	if st.CompletedCycles != 3 || !st.CumulativePnL.Equal(dec("42.5")) {
		t.Fatalf("stats = %d cycles, %s pnl", st.CompletedCycles, st.CumulativePnL)
	}
}
