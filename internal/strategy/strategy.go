// Package strategy contains the per-tick decision logic for every bot kind.
// A strategy looks at candles, an optional open position and (for the news
// kinds) an AI assessment, and emits a single BUY/SELL/HOLD signal.
package strategy

import (
	"context"
	"fmt"

	"binance-bot-fleet/internal/ai"
	"binance-bot-fleet/internal/exchange"
	"binance-bot-fleet/internal/news"
	"binance-bot-fleet/internal/store"
)

// Action is what a strategy wants the worker to do this tick.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is a strategy's full answer for one tick.
type Signal struct {
	Action     Action
	Confidence int    // 0-100
	Reason     string // Short human-readable explanation, logged and shown on the dashboard

	// AllowScaleIn permits a BUY while a position is already open.
	AllowScaleIn bool

	// RecommendedSymbol is set only by the auto-rotating news strategy when
	// it wants the bot to move to a different trading pair.
	RecommendedSymbol string
}

func hold(reason string) *Signal {
	return &Signal{Action: ActionHold, Reason: reason}
}

// Context is everything a strategy may look at for one tick.
type Context struct {
	Symbol   string
	Candles  []exchange.Kline
	Position *store.Position // nil when flat
}

// NewsProvider is the slice of the news cache that strategies consume.
type NewsProvider interface {
	GetForTicker(ctx context.Context, ticker string) (*news.Result, error)
	GetGlobal(ctx context.Context) (*news.Result, error)
}

// Assessor turns articles into an AI assessment.
type Assessor interface {
	Analyze(ctx context.Context, articles []news.Article, ticker string) *ai.Assessment
}

// SymbolValidator reports whether a trading pair exists and is tradeable.
type SymbolValidator interface {
	GetSymbolInfo(ctx context.Context, symbol string) (*exchange.SymbolInfo, error)
}

// Strategy is implemented by every bot kind.
type Strategy interface {
	// Kind returns the strategy identifier stored on the bot record.
	Kind() store.StrategyKind
	// Interval is the candle interval the strategy wants to see.
	Interval() string
	// Analyze produces this tick's signal. It must not place orders.
	Analyze(ctx context.Context, tc *Context) (*Signal, error)
}

// Deps carries the shared services news strategies need. Technical
// strategies ignore it.
type Deps struct {
	News      NewsProvider
	Assessor  Assessor
	Validator SymbolValidator
}

// New builds the strategy for a kind. Unknown kinds are an error so a
// corrupted registry entry surfaces at start rather than mid-loop.
func New(kind store.StrategyKind, deps Deps) (Strategy, error) {
	switch kind {
	case store.StrategyVolatile, store.StrategyMeanReversion, store.StrategyBreakout,
		store.StrategyConservative, store.StrategySimpleProfitable,
		store.StrategyEnhanced, store.StrategyMomentum:
		return newTechnical(kind), nil
	case store.StrategyTickerNews:
		return &tickerNews{deps: deps}, nil
	case store.StrategyNewsAuto:
		return &newsAuto{deps: deps}, nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
}
