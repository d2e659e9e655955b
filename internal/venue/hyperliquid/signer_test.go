package hyperliquid

import (
	"strings"
	"testing"
)

// A throwaway key; never funded anywhere.
const testPrivateKey = "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func testAction() OrderAction {
	return OrderAction{
		Type:     "order",
		Grouping: "na",
		Orders: []OrderWire{{
			Asset: 4,
			IsBuy: true,
			Price: "50000",
			Size:  "0.1",
			OrderType: OrderTypeWire{
				Limit: &LimitOrderType{Tif: TifIoc},
			},
		}},
	}
}

func TestNewSignerParsesKey(t *testing.T) {
	s, err := NewSigner(testPrivateKey, true)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	addr := s.Address().Hex()
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		t.Fatalf("address = %q", addr)
	}
	// The 0x prefix on the key must be accepted either way.
	s2, err := NewSigner(strings.TrimPrefix(testPrivateKey, "0x"), true)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Address() != s.Address() {
		t.Fatal("prefix handling changed the derived address")
	}
}

func TestSignOrderActionShape(t *testing.T) {
	s, err := NewSigner(testPrivateKey, true)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := s.SignOrderAction(testAction(), 1700000000000, nil)
	if err != nil {
		t.Fatalf("SignOrderAction: %v", err)
	}
	if !strings.HasPrefix(sig.R, "0x") || len(sig.R) != 66 {
		t.Fatalf("r = %q", sig.R)
	}
	if !strings.HasPrefix(sig.S, "0x") || len(sig.S) != 66 {
		t.Fatalf("s = %q", sig.S)
	}
	if sig.V != 27 && sig.V != 28 {
		t.Fatalf("v = %d, want 27 or 28", sig.V)
	}
}

func TestSignOrderActionDeterministic(t *testing.T) {
	s, err := NewSigner(testPrivateKey, true)
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.SignOrderAction(testAction(), 1700000000000, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.SignOrderAction(testAction(), 1700000000000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("same action and nonce must produce the same signature")
	}
	c, err := s.SignOrderAction(testAction(), 1700000000001, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Fatal("a different nonce must change the signature")
	}
}

func TestMainnetAndTestnetDiffer(t *testing.T) {
	main, err := NewSigner(testPrivateKey, true)
	if err != nil {
		t.Fatal(err)
	}
	test, err := NewSigner(testPrivateKey, false)
	if err != nil {
		t.Fatal(err)
	}
	a, err := main.SignOrderAction(testAction(), 1700000000000, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := test.SignOrderAction(testAction(), 1700000000000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("mainnet and testnet signatures must differ")
	}
}

func TestCloidFromClientID(t *testing.T) {
	cloid := cloidFromClientID("cycle-1-open-hyperliquid")
	if !strings.HasPrefix(cloid, "0x") || len(cloid) != 34 {
		t.Fatalf("cloid = %q, want 0x-prefixed 128-bit hex", cloid)
	}
	if cloid != cloidFromClientID("cycle-1-open-hyperliquid") {
		t.Fatal("cloid must be deterministic")
	}
	if cloid == cloidFromClientID("cycle-2-open-hyperliquid") {
		t.Fatal("different client ids must map to different cloids")
	}
	if cloidFromClientID("") != "" {
		t.Fatal("empty client id maps to no cloid")
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner("", true); err == nil {
		t.Fatal("empty key should be rejected")
	}
	if _, err := NewSigner("not-hex", true); err == nil {
		t.Fatal("malformed key should be rejected")
	}
}
