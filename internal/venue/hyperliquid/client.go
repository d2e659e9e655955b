// Package hyperliquid implements the Hyperliquid perpetuals connector.
// Market data and account state come from the /info endpoint; orders and
// leverage updates are EIP-712 signed actions posted to /exchange.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hp-hedge-bot/internal/venue"
)

const defaultBaseURL = "https://api.hyperliquid.xyz"

// slippageBps pads the limit price of an IOC order so it crosses the book
// and behaves like a market order.
const slippageBps = 500

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	WalletAddress string
	PrivateKey    string
}

type Client struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	user    common.Address
	log     *zap.Logger

	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	persistMu     sync.Mutex

	metaMu sync.RWMutex
	meta   map[string]assetMeta

	mids *MidStream
}

// NonceStore persists the last issued nonce so a restart never reuses one.
type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type assetMeta struct {
	index       int
	szDecimals  int
	maxLeverage int
}

// NewClient builds a connector. PrivateKey may be empty for read-only use
// (rates and volume tooling); order and leverage calls then fail.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
	isMainnet := !strings.Contains(baseURL, "testnet")
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		signer, err := NewSigner(cfg.PrivateKey, isMainnet)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid signer: %w", err)
		}
		c.signer = signer
		c.user = signer.Address()
	}
	if addr := strings.TrimSpace(cfg.WalletAddress); addr != "" {
		c.user = common.HexToAddress(addr)
	}
	return c, nil
}

// UseMidStream makes MarkPrice prefer fresh websocket mids over REST.
func (c *Client) UseMidStream(s *MidStream) {
	c.mids = s
}

// InitNonceStore seeds the nonce sequence from persisted state. The stored
// value wins over wall clock when it is ahead.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	if c.signer == nil {
		return errors.New("signer is required for nonce store")
	}
	key := "hyperliquid:nonce:" + strings.ToLower(c.signer.Address().Hex())
	seed := uint64(time.Now().UnixMilli())
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) Name() string { return "hyperliquid" }

func (c *Client) Symbols(ctx context.Context) (map[string]venue.SymbolInfo, error) {
	var meta struct {
		Universe []struct {
			Name        string `json:"name"`
			SzDecimals  int    `json:"szDecimals"`
			MaxLeverage int    `json:"maxLeverage"`
			IsDelisted  bool   `json:"isDelisted"`
		} `json:"universe"`
	}
	if err := c.postInfo(ctx, map[string]any{"type": "meta"}, &meta); err != nil {
		return nil, err
	}
	infos := make(map[string]venue.SymbolInfo, len(meta.Universe))
	assets := make(map[string]assetMeta, len(meta.Universe))
	for i, u := range meta.Universe {
		if u.IsDelisted {
			continue
		}
		infos[u.Name] = venue.SymbolInfo{
			Symbol:      u.Name,
			QtyStep:     decimal.New(1, -int32(u.SzDecimals)),
			MaxLeverage: u.MaxLeverage,
		}
		assets[u.Name] = assetMeta{index: i, szDecimals: u.SzDecimals, maxLeverage: u.MaxLeverage}
	}
	c.metaMu.Lock()
	c.meta = assets
	c.metaMu.Unlock()
	return infos, nil
}

func (c *Client) Balance(ctx context.Context) (venue.Balance, error) {
	state, err := c.clearinghouseState(ctx)
	if err != nil {
		return venue.Balance{}, err
	}
	return venue.Balance{
		Equity:    state.MarginSummary.AccountValue,
		Available: state.Withdrawable,
	}, nil
}

func (c *Client) Position(ctx context.Context, symbol string) (*venue.Position, error) {
	state, err := c.clearinghouseState(ctx)
	if err != nil {
		return nil, err
	}
	for _, ap := range state.AssetPositions {
		p := ap.Position
		if p.Coin != symbol || p.Szi.IsZero() {
			continue
		}
		return &venue.Position{
			Symbol:        symbol,
			Quantity:      p.Szi,
			EntryPrice:    p.EntryPx,
			UnrealizedPnL: p.UnrealizedPnl,
			Leverage:      p.Leverage.Value,
		}, nil
	}
	return nil, nil
}

func (c *Client) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctxs, err := c.assetCtxs(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	ac, ok := ctxs[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
	}
	return ac.Funding, nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.mids != nil {
		if mid, ok := c.mids.Mid(symbol); ok {
			return mid, nil
		}
	}
	ctxs, err := c.assetCtxs(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	ac, ok := ctxs[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
	}
	return ac.MarkPx, nil
}

func (c *Client) DayVolumeUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctxs, err := c.assetCtxs(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	ac, ok := ctxs[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
	}
	return ac.DayNtlVlm, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if c.signer == nil {
		return errors.New("hyperliquid: no signer configured")
	}
	meta, err := c.assetMeta(ctx, symbol)
	if err != nil {
		return err
	}
	// Isolated margin keeps each leg's collateral segregated, so one leg
	// can approach liquidation without draining the other.
	action := UpdateLeverageAction{
		Type:     "updateLeverage",
		Asset:    meta.index,
		IsCross:  false,
		Leverage: leverage,
	}
	nonce := c.nextNonce()
	sig, err := c.signer.SignUpdateLeverageAction(action, nonce, nil)
	if err != nil {
		return err
	}
	resp, err := c.postAction(ctx, action, sig, nonce)
	if err != nil {
		return err
	}
	return checkActionResponse(resp)
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.Fill, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.signer == nil {
		return nil, errors.New("hyperliquid: no signer configured")
	}
	meta, err := c.assetMeta(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	mark, err := c.MarkPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	isBuy := req.Side == venue.Long
	limit := crossingPrice(mark, isBuy)
	priceWire, err := priceToWire(limit, meta.szDecimals)
	if err != nil {
		return nil, err
	}
	sizeWire, err := sizeToWire(req.Quantity, meta.szDecimals)
	if err != nil {
		return nil, err
	}
	order := OrderWire{
		Asset:      meta.index,
		IsBuy:      isBuy,
		Price:      priceWire,
		Size:       sizeWire,
		ReduceOnly: req.ReduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: TifIoc}},
		Cloid:      cloidFromClientID(req.ClientID),
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	nonce := c.nextNonce()
	sig, err := c.signer.SignOrderAction(action, nonce, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.postAction(ctx, action, sig, nonce)
	if err != nil {
		return nil, err
	}
	fill, err := parseOrderResponse(resp)
	if err != nil {
		return nil, err
	}
	qty := fill.Size
	if !isBuy {
		qty = qty.Neg()
	}
	if c.log != nil {
		c.log.Info("hyperliquid order filled",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.String("size", fill.Size.String()),
			zap.String("avg_px", fill.Price.String()))
	}
	return &venue.Fill{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty.Abs(),
		Price:    fill.Price,
	}, nil
}

// crossingPrice pads the mark so an IOC limit fills like a market order.
func crossingPrice(mark decimal.Decimal, isBuy bool) decimal.Decimal {
	pad := mark.Mul(decimal.New(slippageBps, -4))
	if isBuy {
		return mark.Add(pad)
	}
	return mark.Sub(pad)
}

type clearinghouseStateResp struct {
	MarginSummary struct {
		AccountValue decimal.Decimal `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable   decimal.Decimal `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string          `json:"coin"`
			Szi           decimal.Decimal `json:"szi"`
			EntryPx       decimal.Decimal `json:"entryPx"`
			UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
			Leverage      struct {
				Value int `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (c *Client) clearinghouseState(ctx context.Context) (*clearinghouseStateResp, error) {
	if (c.user == common.Address{}) {
		return nil, errors.New("hyperliquid: no wallet address configured")
	}
	var state clearinghouseStateResp
	req := map[string]any{"type": "clearinghouseState", "user": c.user.Hex()}
	if err := c.postInfo(ctx, req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

type assetCtx struct {
	Funding   decimal.Decimal `json:"funding"`
	MarkPx    decimal.Decimal `json:"markPx"`
	DayNtlVlm decimal.Decimal `json:"dayNtlVlm"`
}

// assetCtxs fetches metaAndAssetCtxs, which returns a two-element array of
// the universe meta and the per-asset contexts in universe order.
func (c *Client) assetCtxs(ctx context.Context) (map[string]assetCtx, error) {
	var raw []json.RawMessage
	if err := c.postInfo(ctx, map[string]any{"type": "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, err
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("metaAndAssetCtxs: expected 2 elements, got %d", len(raw))
	}
	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, err
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, err
	}
	if len(ctxs) != len(meta.Universe) {
		return nil, fmt.Errorf("metaAndAssetCtxs: %d assets vs %d contexts", len(meta.Universe), len(ctxs))
	}
	out := make(map[string]assetCtx, len(ctxs))
	for i, u := range meta.Universe {
		out[u.Name] = ctxs[i]
	}
	return out, nil
}

func (c *Client) assetMeta(ctx context.Context, symbol string) (assetMeta, error) {
	c.metaMu.RLock()
	meta, ok := c.meta[symbol]
	c.metaMu.RUnlock()
	if ok {
		return meta, nil
	}
	if _, err := c.Symbols(ctx); err != nil {
		return assetMeta{}, err
	}
	c.metaMu.RLock()
	meta, ok = c.meta[symbol]
	c.metaMu.RUnlock()
	if !ok {
		return assetMeta{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
	}
	return meta, nil
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		if c.log != nil {
			c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
		}
		return
	}
	c.lastPersisted.Store(nonce)
}

func (c *Client) postAction(ctx context.Context, action any, sig Signature, nonce uint64) (map[string]any, error) {
	payload := SignedAction{
		Action:    action,
		Nonce:     nonce,
		Signature: sig,
	}
	var resp map[string]any
	if err := c.post(ctx, "/exchange", payload, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) postInfo(ctx context.Context, req any, out any) error {
	return c.post(ctx, "/info", req, out)
}

func (c *Client) post(ctx context.Context, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("hyperliquid http %d: %s", resp.StatusCode, string(payload))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
