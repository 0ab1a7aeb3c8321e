package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-bot-fleet/internal/botlog"
	"binance-bot-fleet/internal/events"
	"binance-bot-fleet/internal/exchange"
	"binance-bot-fleet/internal/store"
	"binance-bot-fleet/internal/strategy"
)

// dustValueUSDT is the fallback dust threshold for symbols that report no
// minimum notional.
const dustValueUSDT = 1.0

// dustThreshold returns the notional below which holdings count as dust.
// The exchange refuses sells under the symbol's minimum notional, so that
// is the real boundary of a closeable position.
func dustThreshold(info *exchange.SymbolInfo) float64 {
	if info != nil && info.MinNotional > 0 {
		return info.MinNotional
	}
	return dustValueUSDT
}

const candleLimit = 100

// Worker runs one bot's trading loop. It is the exclusive writer of the
// bot's position file and activity log; registry fields go through the
// supervisor.
type Worker struct {
	id   int
	name string
	kind store.StrategyKind

	mu     sync.Mutex
	symbol string // news_auto rotates this while flat

	strat  strategy.Strategy
	sup    *Supervisor
	blog   *botlog.Logger
	logger zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newWorker(rec *store.BotRecord, strat strategy.Strategy, sup *Supervisor) *Worker {
	return &Worker{
		id:     rec.ID,
		name:   rec.Name,
		kind:   rec.StrategyKind,
		symbol: rec.Symbol,
		strat:  strat,
		sup:    sup,
		blog:   botlog.New(sup.st.Dir(), rec.ID),
		logger: sup.logger.With().Int("bot_id", rec.ID).Str("bot", rec.Name).Logger(),
		done:   make(chan struct{}),
	}
}

// Symbol returns the bot's current trading pair.
func (w *Worker) Symbol() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.symbol
}

func (w *Worker) setSymbol(symbol string) {
	w.mu.Lock()
	w.symbol = symbol
	w.mu.Unlock()
}

// run is the worker goroutine: one tick immediately, then one per interval
// until the context is cancelled.
func (w *Worker) run(ctx context.Context, interval time.Duration) {
	defer close(w.done)
	w.logger.Info().Str("symbol", w.Symbol()).Str("strategy", string(w.kind)).Msg("worker started")
	w.blog.Info(botlog.CategoryStrategy, "bot started on %s (%s)", w.Symbol(), w.kind)

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			w.blog.Info(botlog.CategoryStrategy, "bot stopped")
			return
		case <-time.After(interval):
		}
	}
}

// tick executes one full decision cycle. Errors are logged and absorbed;
// only config-class failures stop the bot.
func (w *Worker) tick(ctx context.Context) {
	symbol := w.Symbol()
	w.sup.metrics.TicksTotal.WithLabelValues(string(w.kind)).Inc()

	pos, err := w.sup.st.LoadPosition(w.id)
	if err != nil {
		w.logger.Error().Err(err).Msg("cannot read position file")
		w.blog.Error("cannot read position file: %v", err)
		return
	}

	if pos == nil {
		pos = w.adoptHoldings(ctx, symbol)
	} else {
		pos = w.verifyHoldings(ctx, pos)
	}

	candles, err := w.sup.ex.GetKlines(ctx, symbol, w.strat.Interval(), candleLimit)
	if err != nil {
		w.logger.Warn().Err(err).Str("symbol", symbol).Msg("kline fetch failed, skipping tick")
		w.blog.Error("market data unavailable for %s: %v", symbol, err)
		return
	}
	if len(candles) == 0 {
		return
	}
	price := candles[len(candles)-1].Close

	// Emergency exits run before the strategy so a crash through the stop
	// cannot be overridden by a bullish headline.
	if pos != nil {
		if reason, hit := w.checkEmergencyExit(pos, price); hit {
			w.closePosition(ctx, pos, reason)
			return
		}
	}

	sig, err := w.strat.Analyze(ctx, &strategy.Context{Symbol: symbol, Candles: candles, Position: pos})
	if err != nil {
		w.logger.Error().Err(err).Msg("strategy error")
		w.blog.Error("strategy error: %v", err)
		return
	}

	w.blog.Info(botlog.CategoryStrategy, "%s (confidence %d): %s", sig.Action, sig.Confidence, sig.Reason)
	w.sup.bus.Publish(events.EventSignal, w.id, map[string]interface{}{
		"action": string(sig.Action), "confidence": sig.Confidence, "symbol": symbol,
	})

	// Symbol rotation happens only for the auto news strategy and only while
	// flat. Holding a position locks the symbol.
	if sig.RecommendedSymbol != "" && w.kind == store.StrategyNewsAuto {
		if pos != nil {
			w.blog.Info(botlog.CategoryNews, "staying focused on %s while position is open", symbol)
		} else if !strings.EqualFold(sig.RecommendedSymbol, symbol) {
			w.switchSymbol(sig.RecommendedSymbol)
			symbol = sig.RecommendedSymbol
			// Re-read candles for the new pair before acting on the signal.
			candles, err = w.sup.ex.GetKlines(ctx, symbol, w.strat.Interval(), candleLimit)
			if err != nil || len(candles) == 0 {
				w.blog.Error("market data unavailable for %s after switch", symbol)
				return
			}
			price = candles[len(candles)-1].Close
		}
	}

	switch sig.Action {
	case strategy.ActionBuy:
		if pos != nil && !sig.AllowScaleIn {
			w.blog.Info(botlog.CategoryPosition, "already holding %s, ignoring BUY", symbol)
			return
		}
		w.executeBuy(ctx, symbol, pos, sig)
	case strategy.ActionSell:
		if pos == nil {
			w.blog.Info(botlog.CategoryPosition, "no position to sell")
			return
		}
		w.closePosition(ctx, pos, "strategy sell: "+sig.Reason)
	}
}

// adoptHoldings synthesizes a position when the bot starts over an existing
// non-dust balance in its base asset, typically after orphan reconciliation.
func (w *Worker) adoptHoldings(ctx context.Context, symbol string) *store.Position {
	info, err := w.sup.ex.GetSymbolInfo(ctx, symbol)
	if err != nil || info == nil || info.BaseAsset == "" {
		return nil
	}
	balances, err := w.sup.ex.GetBalances(ctx)
	if err != nil {
		return nil
	}
	var free float64
	for _, b := range balances {
		if b.Asset == info.BaseAsset {
			free = b.Free
			break
		}
	}
	if free <= 0 {
		return nil
	}
	price, err := w.sup.ex.GetTickerPrice(ctx, symbol)
	if err != nil || price <= 0 || free*price < dustThreshold(info) {
		return nil
	}

	now := time.Now().UTC()
	pos := &store.Position{
		Symbol:        symbol,
		Side:          "long",
		Qty:           free,
		AvgEntryPrice: price,
		OpenedAt:      now,
		LastBuyAt:     now,
		AIReasoning:   "adopted existing holdings at market price",
	}
	if rec := w.sup.botRecord(w.id); rec != nil {
		pos.RealizedPnL = rec.RealizedPnL
	}
	pos.ResetBrackets(w.sup.cfg.Trading.StopLossPct, w.sup.cfg.Trading.TakeProfitPct)
	if err := w.sup.st.SavePosition(w.id, pos); err != nil {
		w.logger.Error().Err(err).Msg("cannot persist adopted position")
		return nil
	}
	w.blog.Info(botlog.CategoryPosition, "adopted %.8f %s @ %.4f (existing holdings)", free, info.BaseAsset, price)
	w.sup.bus.Publish(events.EventOrphanAdopted, w.id, map[string]interface{}{"symbol": symbol, "qty": free})
	return pos
}

// verifyHoldings reconciles the position file against the real balance. A
// position sold outside the bot is closed locally instead of double-sold.
func (w *Worker) verifyHoldings(ctx context.Context, pos *store.Position) *store.Position {
	info, err := w.sup.ex.GetSymbolInfo(ctx, pos.Symbol)
	if err != nil || info == nil || info.BaseAsset == "" {
		return pos
	}
	balances, err := w.sup.ex.GetBalances(ctx)
	if err != nil {
		return pos
	}
	var held float64
	for _, b := range balances {
		if b.Asset == info.BaseAsset {
			held = b.Free + b.Locked
			break
		}
	}
	// Allow for fee-driven rounding; anything materially short means an
	// external sale.
	if held >= pos.Qty*0.999 {
		return pos
	}
	if held*pos.AvgEntryPrice < dustThreshold(info) {
		w.blog.Info(botlog.CategoryPosition,
			"position sold externally (%.8f %s remaining), closing locally", held, info.BaseAsset)
		w.sup.st.DeletePosition(w.id)
		w.sup.bus.Publish(events.EventPositionUpdate, w.id, map[string]interface{}{"closed_externally": true})
		return nil
	}
	w.blog.Info(botlog.CategoryPosition,
		"holdings reduced externally: %.8f -> %.8f %s, tracking remainder", pos.Qty, held, info.BaseAsset)
	pos.Qty = held
	w.sup.st.SavePosition(w.id, pos)
	return pos
}

// checkEmergencyExit reports whether a hard exit condition has triggered.
// Stop loss and max hold use >=/<= so an exact touch fires.
func (w *Worker) checkEmergencyExit(pos *store.Position, price float64) (string, bool) {
	if price <= pos.StopLossPrice {
		return fmt.Sprintf("stop loss hit: price %.4f <= %.4f", price, pos.StopLossPrice), true
	}
	if price >= pos.TakeProfitPrice {
		return fmt.Sprintf("take profit hit: price %.4f >= %.4f", price, pos.TakeProfitPrice), true
	}
	if held := time.Since(pos.OpenedAt); held >= w.sup.cfg.Trading.MaxHold {
		return fmt.Sprintf("max hold exceeded: held %.1fh", held.Hours()), true
	}
	return "", false
}

// executeBuy places a market buy. A first buy spends the bot's trade
// amount; a scale-in deploys the whole remaining spare allocation. Either
// way the order is capped by the unspent allocation and the wallet's free
// USDT.
func (w *Worker) executeBuy(ctx context.Context, symbol string, pos *store.Position, sig *strategy.Signal) {
	rec := w.sup.botRecord(w.id)
	if rec == nil {
		return
	}
	committed := 0.0
	if pos != nil {
		committed = pos.Qty * pos.AvgEntryPrice
	}
	available := rec.AllocatedCapital - committed
	amount := rec.TradeAmount
	if pos != nil {
		amount = available
	}
	if amount > available {
		amount = available
	}
	free, err := w.sup.freeUSDT(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("balance check before buy failed")
		w.blog.Error("cannot check free balance: %v", err)
		return
	}
	if amount > free {
		amount = free
	}
	if amount <= 0 {
		w.blog.Info(botlog.CategoryTrade, "allocated capital exhausted (%.2f committed of %.2f, %.2f USDT free)",
			committed, rec.AllocatedCapital, free)
		return
	}

	res, err := w.sup.ex.MarketBuy(ctx, symbol, amount)
	if err != nil {
		w.sup.metrics.TradeErrors.Inc()
		if errors.Is(err, exchange.ErrMinNotional) {
			w.blog.Info(botlog.CategoryTrade, "buy skipped: %v", err)
			return
		}
		w.logger.Error().Err(err).Str("symbol", symbol).Msg("market buy failed")
		w.blog.Error("buy failed: %v", err)
		return
	}

	now := time.Now().UTC()
	if pos == nil {
		pos = &store.Position{
			Symbol:        symbol,
			Side:          "long",
			Qty:           res.ExecutedQty,
			AvgEntryPrice: res.AvgFillPrice,
			OpenedAt:      now,
			LastBuyAt:     now,
			AIReasoning:   sig.Reason,
			RealizedPnL:   rec.RealizedPnL,
		}
	} else {
		pos.ApplyBuy(res.ExecutedQty, res.AvgFillPrice, now)
		pos.AIReasoning = sig.Reason
	}
	// Brackets always track the current average entry, including after a
	// scale-in.
	pos.ResetBrackets(w.sup.cfg.Trading.StopLossPct, w.sup.cfg.Trading.TakeProfitPct)

	if err := w.sup.st.SavePosition(w.id, pos); err != nil {
		w.logger.Error().Err(err).Msg("cannot persist position after buy")
	}

	w.sup.metrics.TradesTotal.WithLabelValues("BUY").Inc()
	w.blog.Info(botlog.CategoryTrade, "BUY %.8f %s @ %.4f (%.2f USDT): %s",
		res.ExecutedQty, symbol, res.AvgFillPrice, res.CumulativeQuoteQty, sig.Reason)
	w.sup.bus.Publish(events.EventTradeExecuted, w.id, map[string]interface{}{
		"side": "BUY", "symbol": symbol, "qty": res.ExecutedQty, "price": res.AvgFillPrice,
	})
	w.sup.notifier.NotifyTrade(ctx, w.name, "BUY", symbol, res.ExecutedQty, res.AvgFillPrice, 0, sig.Reason)
}

// closePosition sells the whole position at market and records PnL. A dust
// remainder that cannot be sold closes the position anyway.
func (w *Worker) closePosition(ctx context.Context, pos *store.Position, reason string) {
	res, err := w.sup.ex.MarketSell(ctx, pos.Symbol, pos.Qty)
	if err != nil {
		if errors.Is(err, exchange.ErrDust) {
			w.blog.Info(botlog.CategoryPosition, "remaining %.8f %s is dust, closing position (%s)",
				pos.Qty, pos.Symbol, reason)
			w.sup.st.DeletePosition(w.id)
			return
		}
		w.sup.metrics.TradeErrors.Inc()
		w.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("market sell failed")
		w.blog.Error("sell failed (%s): %v", reason, err)
		return
	}

	pnl := res.CumulativeQuoteQty - res.ExecutedQty*pos.AvgEntryPrice
	w.sup.addRealizedPnL(w.id, pnl)
	w.sup.st.DeletePosition(w.id)

	w.sup.metrics.TradesTotal.WithLabelValues("SELL").Inc()
	w.blog.Info(botlog.CategoryTrade, "SELL %.8f %s @ %.4f, PnL %+.2f USDT (%s)",
		res.ExecutedQty, pos.Symbol, res.AvgFillPrice, pnl, reason)
	w.sup.bus.Publish(events.EventTradeExecuted, w.id, map[string]interface{}{
		"side": "SELL", "symbol": pos.Symbol, "qty": res.ExecutedQty,
		"price": res.AvgFillPrice, "pnl": pnl, "reason": reason,
	})
	w.sup.notifier.NotifyTrade(ctx, w.name, "SELL", pos.Symbol, res.ExecutedQty, res.AvgFillPrice, pnl, reason)
}

// switchSymbol rotates a flat news_auto bot onto a new pair.
func (w *Worker) switchSymbol(symbol string) {
	old := w.Symbol()
	w.setSymbol(symbol)
	if err := w.sup.updateBotSymbol(w.id, symbol); err != nil {
		w.logger.Error().Err(err).Msg("cannot persist symbol switch")
	}
	w.logger.Info().Str("from", old).Str("to", symbol).Msg("switching symbol")
	w.blog.Info(botlog.CategoryNews, "switching symbol %s -> %s", old, symbol)
	w.sup.bus.Publish(events.EventSymbolSwitch, w.id, map[string]interface{}{"from": old, "to": symbol})
}
