package strategy

import "testing"

func TestReconcileFlat(t *testing.T) {
	out := Reconcile(nil, dec("5"))
	if out.Kind != OutcomeFlat {
		t.Fatalf("kind = %d, want flat", out.Kind)
	}
	// Zero-quantity legs count as flat.
	out = Reconcile([]SymbolPositions{
		{Symbol: "BTC", Legs: []VenueLeg{{Venue: "hyperliquid", Quantity: dec("0")}}},
	}, dec("5"))
	if out.Kind != OutcomeFlat {
		t.Fatalf("kind = %d, want flat for zero legs", out.Kind)
	}
}

func TestReconcileRecovered(t *testing.T) {
	out := Reconcile([]SymbolPositions{
		{Symbol: "BTC", Legs: []VenueLeg{
			{Venue: "hyperliquid", Quantity: dec("1.5")},
			{Venue: "pacifica", Quantity: dec("-1.5")},
		}},
	}, dec("5"))
	if out.Kind != OutcomeRecovered {
		t.Fatalf("kind = %d, want recovered", out.Kind)
	}
	if out.Long.Venue != "hyperliquid" || out.Short.Venue != "pacifica" {
		t.Fatalf("long=%s short=%s", out.Long.Venue, out.Short.Venue)
	}
}

func TestReconcileImbalanceTolerance(t *testing.T) {
	// 5% of the larger leg is the cutoff: 1.0 vs -0.95 is exactly on it.
	out := Reconcile([]SymbolPositions{
		{Symbol: "BTC", Legs: []VenueLeg{
			{Venue: "hyperliquid", Quantity: dec("1.0")},
			{Venue: "pacifica", Quantity: dec("-0.95")},
		}},
	}, dec("5"))
	if out.Kind != OutcomeRecovered {
		t.Fatalf("kind = %d, want recovered at the tolerance boundary", out.Kind)
	}

	out = Reconcile([]SymbolPositions{
		{Symbol: "BTC", Legs: []VenueLeg{
			{Venue: "hyperliquid", Quantity: dec("1.0")},
			{Venue: "pacifica", Quantity: dec("-0.94")},
		}},
	}, dec("5"))
	if out.Kind != OutcomeInconsistent {
		t.Fatalf("kind = %d, want inconsistent past the tolerance", out.Kind)
	}
}

func TestReconcileOrphan(t *testing.T) {
	out := Reconcile([]SymbolPositions{
		{Symbol: "ETH", Legs: []VenueLeg{{Venue: "pacifica", Quantity: dec("-2")}}},
	}, dec("5"))
	if out.Kind != OutcomeOrphan {
		t.Fatalf("kind = %d, want orphan", out.Kind)
	}
	if out.Orphan.Venue != "pacifica" || !out.Orphan.Quantity.Equal(dec("-2")) {
		t.Fatalf("orphan = %+v", out.Orphan)
	}
}

func TestReconcileSameSideLegs(t *testing.T) {
	out := Reconcile([]SymbolPositions{
		{Symbol: "BTC", Legs: []VenueLeg{
			{Venue: "hyperliquid", Quantity: dec("1")},
			{Venue: "pacifica", Quantity: dec("1")},
		}},
	}, dec("5"))
	if out.Kind != OutcomeInconsistent {
		t.Fatalf("kind = %d, want inconsistent for same-side legs", out.Kind)
	}
}

func TestReconcileMultipleSymbols(t *testing.T) {
	out := Reconcile([]SymbolPositions{
		{Symbol: "BTC", Legs: []VenueLeg{{Venue: "hyperliquid", Quantity: dec("1")}}},
		{Symbol: "ETH", Legs: []VenueLeg{{Venue: "pacifica", Quantity: dec("-1")}}},
	}, dec("5"))
	if out.Kind != OutcomeInconsistent {
		t.Fatalf("kind = %d, want inconsistent for multiple symbols", out.Kind)
	}
}
