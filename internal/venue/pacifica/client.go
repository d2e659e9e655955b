// Package pacifica implements the Pacifica perpetuals connector. Public
// market data is plain REST; account and trading endpoints carry an ed25519
// signature over the canonical request payload.
package pacifica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hp-hedge-bot/internal/venue"
)

const (
	defaultBaseURL = "https://api.pacifica.fi/api/v1"
	// Signed requests expire this many milliseconds after their timestamp.
	signatureExpiryMs = 5000
	// Slippage tolerance passed with market orders, in percent.
	marketSlippagePct = "0.5"
)

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Account        string
	AgentPublicKey string
	PrivateKey     string
}

type Client struct {
	http    *resty.Client
	signer  *Signer
	account string
	agent   string
	log     *zap.Logger
}

// NewClient builds a connector. PrivateKey and Account may be empty for
// read-only use; signed endpoints then fail.
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
		http:    resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		account: strings.TrimSpace(cfg.Account),
		agent:   strings.TrimSpace(cfg.AgentPublicKey),
		log:     log,
	}
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		signer, err := NewSigner(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("pacifica signer: %w", err)
		}
		c.signer = signer
		if c.account == "" {
			c.account = signer.PublicKey()
		}
	}
	return c, nil
}

func (c *Client) Name() string { return "pacifica" }

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type marketEntry struct {
	Symbol          string          `json:"symbol"`
	LotSize         decimal.Decimal `json:"lot_size"`
	TickSize        decimal.Decimal `json:"tick_size"`
	MaxLeverage     int             `json:"max_leverage"`
	FundingRate     decimal.Decimal `json:"funding_rate"`
	NextFundingRate decimal.Decimal `json:"next_funding_rate"`
}

func (c *Client) Symbols(ctx context.Context) (map[string]venue.SymbolInfo, error) {
	markets, err := c.markets(ctx)
	if err != nil {
		return nil, err
	}
	infos := make(map[string]venue.SymbolInfo, len(markets))
	for symbol, m := range markets {
		infos[symbol] = venue.SymbolInfo{
			Symbol:      symbol,
			QtyStep:     m.LotSize,
			MaxLeverage: m.MaxLeverage,
		}
	}
	return infos, nil
}

// FundingRate returns the predicted next funding rate, not the last settled
// one, so opportunity ranking looks forward.
func (c *Client) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	markets, err := c.markets(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	m, ok := markets[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
	}
	return m.NextFundingRate, nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var prices []struct {
		Symbol string          `json:"symbol"`
		Mark   decimal.Decimal `json:"mark"`
	}
	if err := c.get(ctx, "/info/prices", nil, &prices); err != nil {
		return decimal.Decimal{}, err
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return p.Mark, nil
		}
	}
	return decimal.Decimal{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
}

// DayVolumeUSD sums the last 24h of hourly candles. The venue reports candle
// volume in base units, so each candle is converted at its mid price.
func (c *Client) DayVolumeUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	start := time.Now().Add(-24 * time.Hour).UnixMilli()
	params := map[string]string{
		"symbol":     symbol,
		"interval":   "1h",
		"start_time": strconv.FormatInt(start, 10),
	}
	var candles []struct {
		Open   decimal.Decimal `json:"o"`
		Close  decimal.Decimal `json:"c"`
		Volume decimal.Decimal `json:"v"`
	}
	if err := c.get(ctx, "/kline", params, &candles); err != nil {
		return decimal.Decimal{}, err
	}
	two := decimal.NewFromInt(2)
	total := decimal.Zero
	for _, k := range candles {
		avg := k.Open.Add(k.Close).Div(two)
		total = total.Add(k.Volume.Mul(avg))
	}
	return total, nil
}

func (c *Client) Balance(ctx context.Context) (venue.Balance, error) {
	if c.account == "" {
		return venue.Balance{}, errors.New("pacifica: no account configured")
	}
	var acct struct {
		AccountEquity    decimal.Decimal `json:"account_equity"`
		AvailableToSpend decimal.Decimal `json:"available_to_spend"`
	}
	params := map[string]string{"account": c.account}
	if err := c.get(ctx, "/account", params, &acct); err != nil {
		return venue.Balance{}, err
	}
	return venue.Balance{
		Equity:    acct.AccountEquity,
		Available: acct.AvailableToSpend,
	}, nil
}

func (c *Client) Position(ctx context.Context, symbol string) (*venue.Position, error) {
	if c.account == "" {
		return nil, errors.New("pacifica: no account configured")
	}
	var positions []struct {
		Symbol     string          `json:"symbol"`
		Side       string          `json:"side"`
		Amount     decimal.Decimal `json:"amount"`
		EntryPrice decimal.Decimal `json:"entry_price"`
	}
	params := map[string]string{"account": c.account}
	if err := c.get(ctx, "/positions", params, &positions); err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol != symbol || p.Amount.IsZero() {
			continue
		}
		qty := p.Amount
		if p.Side == "ask" {
			qty = qty.Neg()
		}
		pos := &venue.Position{
			Symbol:     symbol,
			Quantity:   qty,
			EntryPrice: p.EntryPrice,
		}
		// The positions endpoint does not report pnl, so derive it from
		// the current mark.
		if mark, err := c.MarkPrice(ctx, symbol); err == nil {
			pos.UnrealizedPnL = mark.Sub(p.EntryPrice).Mul(qty)
		}
		return pos, nil
	}
	return nil, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	data := map[string]any{
		"symbol":   symbol,
		"leverage": leverage,
	}
	var out json.RawMessage
	return c.postSigned(ctx, "/account/leverage", "update_leverage", data, &out)
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req venue.OrderRequest) (*venue.Fill, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	side := "bid"
	if req.Side == venue.Short {
		side = "ask"
	}
	// Market orders ack without fill details; record the submission mark as
	// the fill price.
	mark, err := c.MarkPrice(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"symbol":           req.Symbol,
		"amount":           req.Quantity.String(),
		"side":             side,
		"slippage_percent": marketSlippagePct,
		"reduce_only":      req.ReduceOnly,
	}
	if id := clientOrderID(req.ClientID); id != "" {
		data["client_order_id"] = id
	}
	var out struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := c.postSigned(ctx, "/orders/create_market", "create_market_order", data, &out); err != nil {
		return nil, err
	}
	if c.log != nil {
		c.log.Info("pacifica order accepted",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.String("amount", req.Quantity.String()),
			zap.String("order_id", out.OrderID.String()))
	}
	return &venue.Fill{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    mark,
	}, nil
}

func (c *Client) markets(ctx context.Context) (map[string]marketEntry, error) {
	var entries []marketEntry
	if err := c.get(ctx, "/info", nil, &entries); err != nil {
		return nil, err
	}
	out := make(map[string]marketEntry, len(entries))
	for _, m := range entries {
		out[m.Symbol] = m
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return err
	}
	return decodeAPIResponse(resp, out)
}

func (c *Client) postSigned(ctx context.Context, path, opType string, data map[string]any, out any) error {
	if c.signer == nil {
		return errors.New("pacifica: no signer configured")
	}
	if c.account == "" {
		return errors.New("pacifica: no account configured")
	}
	sig, timestamp, err := c.signer.Sign(opType, data, signatureExpiryMs)
	if err != nil {
		return err
	}
	body := map[string]any{
		"account":       c.account,
		"signature":     sig,
		"timestamp":     timestamp,
		"expiry_window": int64(signatureExpiryMs),
	}
	// Agent keys sign on behalf of the main account.
	if c.agent != "" && c.agent != c.account {
		body["agent_wallet"] = c.agent
	}
	for k, v := range data {
		body[k] = v
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return err
	}
	return decodeAPIResponse(resp, out)
}

func decodeAPIResponse(resp *resty.Response, out any) error {
	if resp.IsError() {
		return fmt.Errorf("pacifica http %d: %s", resp.StatusCode(), truncate(resp.String(), 2048))
	}
	var api apiResponse
	if err := json.Unmarshal(resp.Body(), &api); err != nil {
		return fmt.Errorf("pacifica: decode response: %w", err)
	}
	if !api.Success {
		msg := api.Error
		if msg == "" {
			msg = "request was not successful"
		}
		return fmt.Errorf("pacifica: %s", msg)
	}
	if out == nil || len(api.Data) == 0 {
		return nil
	}
	return json.Unmarshal(api.Data, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
