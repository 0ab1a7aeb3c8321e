package store

import (
	"time"
)

// BotStatus is the lifecycle state of a bot in the registry.
type BotStatus string

const (
	StatusStopped BotStatus = "stopped"
	StatusRunning BotStatus = "running"
)

// StrategyKind names a strategy variant a bot can run.
type StrategyKind string

const (
	StrategyVolatile         StrategyKind = "volatile"
	StrategyMeanReversion    StrategyKind = "mean_reversion"
	StrategyBreakout         StrategyKind = "breakout"
	StrategyConservative     StrategyKind = "conservative"
	StrategySimpleProfitable StrategyKind = "simple_profitable"
	StrategyEnhanced         StrategyKind = "enhanced"
	StrategyMomentum         StrategyKind = "momentum"
	StrategyTickerNews       StrategyKind = "ticker_news"
	StrategyNewsAuto         StrategyKind = "news_auto"
)

// ValidStrategyKind reports whether kind names a known strategy variant.
func ValidStrategyKind(kind StrategyKind) bool {
	switch kind {
	case StrategyVolatile, StrategyMeanReversion, StrategyBreakout,
		StrategyConservative, StrategySimpleProfitable, StrategyEnhanced,
		StrategyMomentum, StrategyTickerNews, StrategyNewsAuto:
		return true
	}
	return false
}

// BotRecord is a registry entry for one trading bot. The supervisor is the
// single writer of the registry; workers read cached copies.
type BotRecord struct {
	ID               int          `json:"id"`
	Name             string       `json:"name"`
	Symbol           string       `json:"symbol"`
	StrategyKind     StrategyKind `json:"strategy_kind"`
	AllocatedCapital float64      `json:"allocated_capital_usdt"`
	TradeAmount      float64      `json:"trade_amount_usdt"`
	Status           BotStatus    `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	RealizedPnL      float64      `json:"realized_pnl_usdt"`
	// LastError surfaces the most recent config-class failure that stopped
	// the bot; cleared on a successful start.
	LastError string `json:"last_error,omitempty"`
}

// Registry is the durable bot registry (active_bots.json).
type Registry struct {
	NextID int         `json:"next_id"`
	Bots   []BotRecord `json:"bots"`
}

// Find returns the record with the given id, or nil.
func (r *Registry) Find(id int) *BotRecord {
	for i := range r.Bots {
		if r.Bots[i].ID == id {
			return &r.Bots[i]
		}
	}
	return nil
}

// Position is the single open long held by one bot. The owning worker is the
// exclusive writer of its position file.
type Position struct {
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"` // Always "long"
	Qty             float64   `json:"qty"`
	AvgEntryPrice   float64   `json:"avg_entry_price"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	OpenedAt        time.Time `json:"opened_at"`
	LastBuyAt       time.Time `json:"last_buy_at"`
	AIReasoning     string    `json:"ai_reasoning,omitempty"`
	// RealizedPnL mirrors the bot's cumulative realized PnL as of the buy
	// that opened this position.
	RealizedPnL float64 `json:"realized_pnl_usdt_cumulative"`
}

// ApplyBuy folds an additional fill into the position, recomputing the
// weighted-average entry price.
func (p *Position) ApplyBuy(qty, price float64, at time.Time) {
	total := p.Qty + qty
	if total <= 0 {
		return
	}
	p.AvgEntryPrice = (p.Qty*p.AvgEntryPrice + qty*price) / total
	p.Qty = total
	p.LastBuyAt = at
}

// ResetBrackets recomputes SL/TP around the current average entry.
func (p *Position) ResetBrackets(slPct, tpPct float64) {
	p.StopLossPrice = p.AvgEntryPrice * (1 - slPct)
	p.TakeProfitPrice = p.AvgEntryPrice * (1 + tpPct)
}
