package exchange

import (
	"context"
	"time"
)

// Balance is one asset balance in the spot wallet.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// SymbolInfo is the trading metadata the workers need before placing orders.
type SymbolInfo struct {
	Symbol      string    `json:"symbol"`
	BaseAsset   string    `json:"base_asset"`
	QuoteAsset  string    `json:"quote_asset"`
	Tradeable   bool      `json:"tradeable"`
	LotStep     float64   `json:"lot_step"`
	MinNotional float64   `json:"min_notional"`
	CachedAt    time.Time `json:"cached_at"`
}

// OrderResult is the typed outcome of a filled market order.
type OrderResult struct {
	Symbol             string  `json:"symbol"`
	Side               string  `json:"side"` // BUY or SELL
	ExecutedQty        float64 `json:"executed_qty"`
	AvgFillPrice       float64 `json:"avg_fill_price"`
	CumulativeQuoteQty float64 `json:"cumulative_quote_qty"`
	Status             string  `json:"status"`
	ClientOrderID      string  `json:"client_order_id"`
}

// API is the exchange surface the rest of the daemon depends on.
type API interface {
	GetBalances(ctx context.Context) ([]Balance, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	MarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error)
	MarketSell(ctx context.Context, symbol string, qty float64) (*OrderResult, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
}
