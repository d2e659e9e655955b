package pacifica

import (
	"crypto/ed25519"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/mr-tron/base58"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	s, err := NewSigner(base58.Encode(seed))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestNewSignerAcceptsSeedAndExpandedKey(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	fromSeed, err := NewSigner(base58.Encode(seed))
	if err != nil {
		t.Fatal(err)
	}
	expanded := ed25519.NewKeyFromSeed(seed)
	fromExpanded, err := NewSigner(base58.Encode(expanded))
	if err != nil {
		t.Fatal(err)
	}
	if fromSeed.PublicKey() != fromExpanded.PublicKey() {
		t.Fatal("seed and expanded key must derive the same public key")
	}
}

func TestNewSignerRejectsBadKeys(t *testing.T) {
	if _, err := NewSigner(""); err == nil {
		t.Fatal("empty key should be rejected")
	}
	if _, err := NewSigner("0OIl"); err == nil {
		t.Fatal("non-base58 key should be rejected")
	}
	if _, err := NewSigner(base58.Encode(make([]byte, 16))); err == nil {
		t.Fatal("wrong-length key should be rejected")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := testSigner(t)
	data := map[string]any{
		"symbol":           "BTC",
		"amount":           "0.1",
		"side":             "bid",
		"reduce_only":      false,
		"slippage_percent": "0.5",
	}
	sig, timestamp, err := s.Sign("create_market_order", data, 5000)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if timestamp <= 0 {
		t.Fatalf("timestamp = %d", timestamp)
	}

	// Rebuild the canonical message the way the server does: compact JSON
	// with recursively sorted keys.
	message, err := json.Marshal(map[string]any{
		"type":          "create_market_order",
		"timestamp":     timestamp,
		"expiry_window": int64(5000),
		"data":          data,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !Verify(s.PublicKey(), sig, message) {
		t.Fatal("signature does not verify against the canonical message")
	}

	tampered, _ := json.Marshal(map[string]any{
		"type":          "create_market_order",
		"timestamp":     timestamp + 1,
		"expiry_window": int64(5000),
		"data":          data,
	})
	if Verify(s.PublicKey(), sig, tampered) {
		t.Fatal("signature verified against a tampered message")
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"nested_z": 1, "nested_a": 2},
		"mid":   3,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"alpha":{"nested_a":2,"nested_z":1},"mid":3,"zeta":1}`
	if string(payload) != want {
		t.Fatalf("canonical form = %s, want %s", payload, want)
	}
}

func TestClientOrderID(t *testing.T) {
	id := clientOrderID("cycle-1-open-pacifica")
	uuidShape := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	if !uuidShape.MatchString(id) {
		t.Fatalf("id = %q, want uuid shape", id)
	}
	if id != clientOrderID("cycle-1-open-pacifica") {
		t.Fatal("id must be deterministic")
	}
	if id == clientOrderID("cycle-2-open-pacifica") {
		t.Fatal("different client ids must map to different order ids")
	}
	if clientOrderID("") != "" {
		t.Fatal("empty client id maps to no order id")
	}
}
