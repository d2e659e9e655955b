package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func openStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot-state.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestOpenCreatesFreshDocument(t *testing.T) {
	s, path := openStore(t)
	doc := s.Document()
	if doc.Phase != PhaseIdle {
		t.Fatalf("phase = %s, want IDLE", doc.Phase)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file not written: %v", err)
	}
}

func TestOpenRejectsUnknownPhase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot-state.json")
	if err := os.WriteFile(path, []byte(`{"state":"LIMBO"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected an error for an unknown phase")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	s, path := openStore(t)
	qty := decimal.RequireFromString("1.25")
	err := s.Update(func(doc *Document) error {
		doc.Phase = PhaseAnalyzing
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	err = s.Update(func(doc *Document) error {
		doc.Phase = PhaseOpening
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	err = s.Update(func(doc *Document) error {
		doc.Phase = PhaseHolding
		doc.CycleNumber = 7
		doc.Position = &PositionRecord{
			Symbol:     "BTC",
			LongVenue:  "hyperliquid",
			ShortVenue: "pacifica",
			Quantity:   qty,
			Leverage:   3,
			EntryPrices: map[string]decimal.Decimal{
				"hyperliquid": decimal.RequireFromString("50000"),
				"pacifica":    decimal.RequireFromString("50010"),
			},
			OpenedAt: time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	doc := reopened.Document()
	if doc.Phase != PhaseHolding || doc.CycleNumber != 7 {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.Position == nil || !doc.Position.Quantity.Equal(qty) {
		t.Fatalf("position = %+v", doc.Position)
	}
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	s, _ := openStore(t)
	err := s.Update(func(doc *Document) error {
		doc.Phase = PhaseHolding
		return nil
	})
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
	if s.Document().Phase != PhaseIdle {
		t.Fatal("in-memory document changed after a rejected update")
	}
}

func TestDocumentReturnsCopy(t *testing.T) {
	s, _ := openStore(t)
	if err := s.Transition(PhaseAnalyzing); err != nil {
		t.Fatal(err)
	}
	doc := s.Document()
	doc.Phase = PhaseShutdown
	doc.CycleNumber = 99
	if got := s.Document(); got.Phase != PhaseAnalyzing || got.CycleNumber != 0 {
		t.Fatalf("store mutated through a returned copy: %+v", got)
	}
}

func TestLegacyJSONKeys(t *testing.T) {
	s, path := openStore(t)
	if err := s.Transition(PhaseAnalyzing); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"state", "cycle_number", "initial_capital", "completed_cycles", "cumulative_pnl", "updated_at"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("key %q missing from state file: %s", key, data)
		}
	}
	if !strings.Contains(string(data), `"state": "ANALYZING"`) {
		t.Fatalf("phase not stored under the legacy key: %s", data)
	}
}

func TestSaveFailureRollsBack(t *testing.T) {
	s, path := openStore(t)
	// Replace the state file with a directory of the same temp name so the
	// rename fails.
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	err := s.Transition(PhaseAnalyzing)
	if err == nil {
		t.Fatal("expected the save to fail")
	}
	if s.Document().Phase != PhaseIdle {
		t.Fatal("in-memory document changed after a failed save")
	}
}
