package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"binance-bot-fleet/config"
	"binance-bot-fleet/internal/metrics"
)

// ErrMinNotional is returned when an order would fall below the exchange's
// minimum notional for the symbol.
var ErrMinNotional = errors.New("order below exchange minimum notional")

// ErrDust is returned when a sell is too small for the exchange to accept:
// the quantity quantizes to zero at the lot step, or its notional falls
// below the symbol's minimum.
var ErrDust = errors.New("sell quantity is dust")

const requestTimeout = 10 * time.Second

// Client adapts the Binance spot REST API to the fleet's needs: typed
// results, lot-step quantization, min-notional enforcement and shared
// read caches. Safe for concurrent use by many workers.
type Client struct {
	api     *binance.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics // Optional; nil disables counting
	candles *candleCache
	symbols *symbolCache

	dryRun bool
	simMu  sync.Mutex
	sim    map[string]float64 // Simulated free balances in dry-run mode
}

// NewClient builds a Client from configuration. In dry-run mode market
// orders are simulated at the live ticker price against a paper wallet,
// while all market-data calls still hit the public endpoints.
func NewClient(cfg config.ExchangeConfig, m *metrics.Metrics, logger zerolog.Logger) *Client {
	binance.UseTestnet = cfg.Testnet
	c := &Client{
		api:     binance.NewClient(cfg.APIKey, cfg.APISecret),
		logger:  logger.With().Str("component", "exchange").Logger(),
		metrics: m,
		candles: newCandleCache(15 * time.Minute),
		symbols: newSymbolCache(24 * time.Hour),
		dryRun:  cfg.DryRun,
	}
	if c.dryRun {
		c.sim = map[string]float64{"USDT": 10000}
	}
	return c
}

// countReq tallies one outbound REST call on /metrics.
func (c *Client) countReq(op string) {
	if c.metrics != nil {
		c.metrics.ExchangeRequests.WithLabelValues(op).Inc()
	}
}

// GetBalances returns all non-zero spot balances.
func (c *Client) GetBalances(ctx context.Context) ([]Balance, error) {
	if c.dryRun {
		return c.simBalances(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	c.countReq("account")
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	out := make([]Balance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// GetKlines returns recent candles, served from the shared 15-minute cache
// when fresh.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if ks, ok := c.candles.get(symbol, interval, limit); ok {
		return ks, nil
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	c.countReq("klines")
	raw, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
	}
	ks := make([]Kline, len(raw))
	for i, k := range raw {
		ks[i] = Kline{
			OpenTime:  k.OpenTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: k.CloseTime,
		}
	}
	c.candles.put(symbol, interval, ks)
	return ks, nil
}

// GetTickerPrice returns the latest trade price for a symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	c.countReq("price")
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	return parseFloat(prices[0].Price), nil
}

// MarketBuy spends quoteAmount USDT on a market buy. The amount is checked
// against the symbol's minimum notional before submission.
func (c *Client) MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error) {
	info, err := c.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !info.Tradeable {
		return nil, fmt.Errorf("symbol %s is not tradeable", symbol)
	}
	if quoteAmount < info.MinNotional {
		return nil, fmt.Errorf("%w: %s needs >= %.2f USDT, got %.2f",
			ErrMinNotional, symbol, info.MinNotional, quoteAmount)
	}

	if c.dryRun {
		return c.simBuy(ctx, symbol, quoteAmount)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	c.countReq("buy")
	resp, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(formatAmount(quoteAmount, 2)).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market buy %s: %w", symbol, err)
	}
	return orderResult(resp), nil
}

// MarketSell sells qty of the base asset at market. The quantity is
// quantized down to the symbol's lot step and checked against the minimum
// notional before submission; Binance rejects below-notional sells, so a
// sub-notional remainder surfaces as ErrDust instead of an endless retry.
func (c *Client) MarketSell(ctx context.Context, symbol string, qty float64) (*OrderResult, error) {
	info, err := c.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	quantized := QuantizeQty(qty, info.LotStep)
	price, err := c.GetTickerPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("price check before sell %s: %w", symbol, err)
	}
	if err := checkSellable(quantized, price, info); err != nil {
		return nil, err
	}

	if c.dryRun {
		return c.simSell(ctx, symbol, quantized, info)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	c.countReq("sell")
	resp, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(formatQty(quantized, info.LotStep)).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market sell %s: %w", symbol, err)
	}
	return orderResult(resp), nil
}

// GetSymbolInfo returns trading metadata for a symbol, served from the
// shared 24-hour cache when fresh. An unknown symbol is reported as
// non-tradeable rather than an error.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	if info, ok := c.symbols.get(symbol); ok {
		return info, nil
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	c.countReq("exchange_info")
	ex, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		// Binance rejects exchangeInfo requests for unknown symbols.
		if strings.Contains(strings.ToLower(err.Error()), "invalid symbol") {
			info := &SymbolInfo{Symbol: symbol, Tradeable: false, CachedAt: time.Now()}
			c.symbols.put(info)
			return info, nil
		}
		return nil, fmt.Errorf("fetch exchange info %s: %w", symbol, err)
	}
	if len(ex.Symbols) == 0 {
		info := &SymbolInfo{Symbol: symbol, Tradeable: false, CachedAt: time.Now()}
		c.symbols.put(info)
		return info, nil
	}

	s := ex.Symbols[0]
	info := &SymbolInfo{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
		Tradeable:  s.Status == "TRADING" && s.IsSpotTradingAllowed,
		CachedAt:   time.Now(),
	}
	for _, f := range s.Filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			info.LotStep = parseFilterFloat(f, "stepSize")
		case "NOTIONAL", "MIN_NOTIONAL":
			if v := parseFilterFloat(f, "minNotional"); v > 0 {
				info.MinNotional = v
			}
		}
	}
	c.symbols.put(info)
	return info, nil
}

// checkSellable rejects sells the exchange would refuse: a quantity that
// quantized to zero, or a notional below the symbol minimum.
func checkSellable(qty, price float64, info *SymbolInfo) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %s qty quantizes to zero at step %.10f", ErrDust, info.Symbol, info.LotStep)
	}
	if info.MinNotional > 0 && qty*price < info.MinNotional {
		return fmt.Errorf("%w: %s notional %.4f below minimum %.2f",
			ErrDust, info.Symbol, qty*price, info.MinNotional)
	}
	return nil
}

// QuantizeQty rounds qty down to a multiple of the lot step.
func QuantizeQty(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	out, _ := q.Div(s).Floor().Mul(s).Float64()
	return out
}

// formatQty renders a quantity with exactly the precision the lot step
// allows; Binance rejects quantities with excess decimals.
func formatQty(qty, step float64) string {
	places := int32(0)
	if step > 0 && step < 1 {
		places = int32(decimal.NewFromFloat(step).Exponent() * -1)
	}
	return decimal.NewFromFloat(qty).Truncate(places).String()
}

func formatAmount(v float64, places int32) string {
	return decimal.NewFromFloat(v).Truncate(places).String()
}

func newClientOrderID() string {
	return "fleet-" + uuid.NewString()[:18]
}

func orderResult(resp *binance.CreateOrderResponse) *OrderResult {
	executed := parseFloat(resp.ExecutedQuantity)
	cumQuote := parseFloat(resp.CummulativeQuoteQuantity)
	avg := 0.0
	if executed > 0 {
		avg = cumQuote / executed
	}
	return &OrderResult{
		Symbol:             resp.Symbol,
		Side:               string(resp.Side),
		ExecutedQty:        executed,
		AvgFillPrice:       avg,
		CumulativeQuoteQty: cumQuote,
		Status:             string(resp.Status),
		ClientOrderID:      resp.ClientOrderID,
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseFilterFloat(f map[string]interface{}, key string) float64 {
	switch v := f[key].(type) {
	case string:
		return parseFloat(v)
	case float64:
		return v
	}
	return 0
}

// ==================== DRY-RUN SIMULATION ====================

func (c *Client) simBalances() []Balance {
	c.simMu.Lock()
	defer c.simMu.Unlock()
	out := make([]Balance, 0, len(c.sim))
	for asset, free := range c.sim {
		if free > 0 {
			out = append(out, Balance{Asset: asset, Free: free})
		}
	}
	return out
}

func (c *Client) simBuy(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error) {
	price, err := c.GetTickerPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	info, err := c.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty := QuantizeQty(quoteAmount/price, info.LotStep)
	if qty <= 0 {
		return nil, ErrDust
	}
	spent := qty * price

	c.simMu.Lock()
	defer c.simMu.Unlock()
	if c.sim["USDT"] < spent {
		return nil, fmt.Errorf("simulated balance too low: have %.2f USDT, need %.2f", c.sim["USDT"], spent)
	}
	c.sim["USDT"] -= spent
	c.sim[info.BaseAsset] += qty
	c.logger.Info().Str("symbol", symbol).Float64("qty", qty).Float64("price", price).Msg("dry-run buy filled")
	return &OrderResult{
		Symbol: symbol, Side: "BUY", ExecutedQty: qty, AvgFillPrice: price,
		CumulativeQuoteQty: spent, Status: "FILLED", ClientOrderID: newClientOrderID(),
	}, nil
}

func (c *Client) simSell(ctx context.Context, symbol string, qty float64, info *SymbolInfo) (*OrderResult, error) {
	price, err := c.GetTickerPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	proceeds := qty * price

	c.simMu.Lock()
	defer c.simMu.Unlock()
	if c.sim[info.BaseAsset] < qty {
		qty = c.sim[info.BaseAsset]
		proceeds = qty * price
	}
	if qty <= 0 {
		return nil, ErrDust
	}
	c.sim[info.BaseAsset] -= qty
	c.sim["USDT"] += proceeds
	c.logger.Info().Str("symbol", symbol).Float64("qty", qty).Float64("price", price).Msg("dry-run sell filled")
	return &OrderResult{
		Symbol: symbol, Side: "SELL", ExecutedQty: qty, AvgFillPrice: price,
		CumulativeQuoteQty: proceeds, Status: "FILLED", ClientOrderID: newClientOrderID(),
	}, nil
}
