package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// infoServer answers /info requests by request type.
type infoServer struct {
	responses map[string]string
}

func (s *infoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/info" {
		http.NotFound(w, r)
		return
	}
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, _ := req["type"].(string)
	body, ok := s.responses[kind]
	if !ok {
		http.Error(w, "unexpected request type "+kind, http.StatusBadRequest)
		return
	}
	_, _ = w.Write([]byte(body))
}

const metaJSON = `{
	"universe": [
		{"name": "BTC", "szDecimals": 5, "maxLeverage": 40},
		{"name": "ETH", "szDecimals": 4, "maxLeverage": 25},
		{"name": "OLD", "szDecimals": 2, "maxLeverage": 10, "isDelisted": true}
	]
}`

const metaAndCtxsJSON = `[
	{"universe": [{"name": "BTC"}, {"name": "ETH"}, {"name": "OLD"}]},
	[
		{"funding": "0.0000125", "markPx": "50000", "dayNtlVlm": "1250000000"},
		{"funding": "-0.0000042", "markPx": "3000", "dayNtlVlm": "640000000"},
		{"funding": "0", "markPx": "1", "dayNtlVlm": "0"}
	]
]`

const clearinghouseJSON = `{
	"marginSummary": {"accountValue": "10000.5"},
	"withdrawable": "8200.25",
	"assetPositions": [
		{"position": {"coin": "BTC", "szi": "-0.5", "entryPx": "50000",
			"unrealizedPnl": "-12.5", "leverage": {"type": "cross", "value": 3}}}
	]
}`

func newInfoClient(t *testing.T, responses map[string]string) *Client {
	t.Helper()
	srv := httptest.NewServer(&infoServer{responses: responses})
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		BaseURL:       srv.URL,
		WalletAddress: "0x1111111111111111111111111111111111111111",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSymbols(t *testing.T) {
	c := newInfoClient(t, map[string]string{"meta": metaJSON})
	infos, err := c.Symbols(context.Background())
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	btc, ok := infos["BTC"]
	if !ok {
		t.Fatal("BTC missing")
	}
	if !btc.QtyStep.Equal(dec("0.00001")) {
		t.Fatalf("qty step = %s, want 0.00001 for szDecimals 5", btc.QtyStep)
	}
	if btc.MaxLeverage != 40 {
		t.Fatalf("max leverage = %d", btc.MaxLeverage)
	}
	if _, ok := infos["OLD"]; ok {
		t.Fatal("delisted assets must be excluded")
	}
}

func TestFundingRateMarkPriceVolume(t *testing.T) {
	c := newInfoClient(t, map[string]string{"metaAndAssetCtxs": metaAndCtxsJSON})

	rate, err := c.FundingRate(context.Background(), "ETH")
	if err != nil {
		t.Fatal(err)
	}
	if !rate.Equal(dec("-0.0000042")) {
		t.Fatalf("rate = %s", rate)
	}
	mark, err := c.MarkPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if !mark.Equal(dec("50000")) {
		t.Fatalf("mark = %s", mark)
	}
	vol, err := c.DayVolumeUSD(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if !vol.Equal(dec("1250000000")) {
		t.Fatalf("volume = %s", vol)
	}
	if _, err := c.FundingRate(context.Background(), "DOGE"); err == nil {
		t.Fatal("unknown symbol should fail")
	}
}

func TestBalanceAndPosition(t *testing.T) {
	c := newInfoClient(t, map[string]string{"clearinghouseState": clearinghouseJSON})

	bal, err := c.Balance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Equity.Equal(dec("10000.5")) || !bal.Available.Equal(dec("8200.25")) {
		t.Fatalf("balance = %+v", bal)
	}

	pos, err := c.Position(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if pos == nil {
		t.Fatal("expected a position")
	}
	if !pos.Quantity.Equal(dec("-0.5")) || pos.Leverage != 3 {
		t.Fatalf("position = %+v", pos)
	}
	if !pos.UnrealizedPnL.Equal(dec("-12.5")) {
		t.Fatalf("pnl = %s", pos.UnrealizedPnL)
	}

	flat, err := c.Position(context.Background(), "ETH")
	if err != nil {
		t.Fatal(err)
	}
	if flat != nil {
		t.Fatal("flat symbol must return nil")
	}
}

func TestOrderCallsRequireSigner(t *testing.T) {
	c := newInfoClient(t, map[string]string{"meta": metaJSON})
	if err := c.SetLeverage(context.Background(), "BTC", 3); err == nil {
		t.Fatal("leverage update without a signer must fail")
	}
}

func TestCrossingPrice(t *testing.T) {
	mark := dec("50000")
	buy := crossingPrice(mark, true)
	sell := crossingPrice(mark, false)
	if !buy.Equal(dec("52500")) {
		t.Fatalf("buy = %s, want mark +5%%", buy)
	}
	if !sell.Equal(dec("47500")) {
		t.Fatalf("sell = %s, want mark -5%%", sell)
	}
}

type fakeNonceStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeNonceStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeNonceStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func TestNonceIsMonotonicAndPersisted(t *testing.T) {
	c, err := NewClient(Config{PrivateKey: testPrivateKey}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	store := &fakeNonceStore{data: make(map[string]string)}
	if err := c.InitNonceStore(context.Background(), store); err != nil {
		t.Fatalf("InitNonceStore: %v", err)
	}

	var prev uint64
	for i := 0; i < 100; i++ {
		n := c.nextNonce()
		if n <= prev {
			t.Fatalf("nonce %d did not advance past %d", n, prev)
		}
		prev = n
	}
	if len(store.data) != 1 {
		t.Fatalf("store has %d keys", len(store.data))
	}

	// A restart seeded from the store must continue past what was issued.
	c2, err := NewClient(Config{PrivateKey: testPrivateKey}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := c2.InitNonceStore(context.Background(), store); err != nil {
		t.Fatal(err)
	}
	if n := c2.nextNonce(); n <= prev {
		t.Fatalf("post-restart nonce %d did not advance past %d", n, prev)
	}
}

func TestSetLeverageUsesIsolatedMargin(t *testing.T) {
	var captured map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metaJSON))
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status": "ok", "response": {}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, PrivateKey: testPrivateKey}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.SetLeverage(context.Background(), "BTC", 5); err != nil {
		t.Fatalf("SetLeverage: %v", err)
	}
	action, ok := captured["action"].(map[string]any)
	if !ok {
		t.Fatalf("no action in exchange payload: %v", captured)
	}
	if action["type"] != "updateLeverage" {
		t.Fatalf("action type = %v", action["type"])
	}
	if cross, ok := action["isCross"].(bool); !ok || cross {
		t.Fatal("leverage must be set with isolated margin")
	}
	if lev, _ := action["leverage"].(float64); lev != 5 {
		t.Fatalf("leverage = %v, want 5", action["leverage"])
	}
}
