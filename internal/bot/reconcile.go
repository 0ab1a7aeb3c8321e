package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"binance-bot-fleet/internal/events"
	"binance-bot-fleet/internal/store"
)

// autoManagerTradeAmount is the default per-order size for bots created by
// reconciliation.
const autoManagerTradeAmount = 100

// stablecoins and quote assets never get an auto-manager bot.
var reconcileSkipAssets = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "FDUSD": true,
	"DAI": true, "TUSD": true,
}

// ReconcileResult reports what an orphan pass did.
type ReconcileResult struct {
	Created []store.BotRecord `json:"created"`
	Skipped []string          `json:"skipped"`
}

// ReconcileOrphans scans exchange holdings for assets no bot manages and
// creates a stopped auto-manager bot for each. The operator reviews and
// starts them explicitly.
func (s *Supervisor) ReconcileOrphans(ctx context.Context) (*ReconcileResult, error) {
	balances, err := s.ex.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	managed := s.managedAssets()
	result := &ReconcileResult{}

	for _, bal := range balances {
		asset := strings.ToUpper(bal.Asset)
		total := bal.Free + bal.Locked
		if total <= 0 || reconcileSkipAssets[asset] || managed[asset] {
			continue
		}

		symbol := asset + "USDT"
		info, err := s.ex.GetSymbolInfo(ctx, symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("reconcile: symbol lookup failed")
			result.Skipped = append(result.Skipped, asset)
			continue
		}
		if info == nil || !info.Tradeable {
			result.Skipped = append(result.Skipped, asset)
			continue
		}
		price, err := s.ex.GetTickerPrice(ctx, symbol)
		if err != nil || total*price < dustThreshold(info) {
			result.Skipped = append(result.Skipped, asset)
			continue
		}

		rec, err := s.createAutoManager(asset, symbol, total*price)
		if err != nil {
			s.logger.Error().Err(err).Str("asset", asset).Msg("reconcile: cannot create auto-manager bot")
			continue
		}
		result.Created = append(result.Created, *rec)
		s.logger.Info().Str("asset", asset).Int("bot_id", rec.ID).
			Float64("value_usdt", total*price).Msg("orphan holdings adopted")
		s.bus.Publish(events.EventOrphanAdopted, rec.ID, map[string]interface{}{
			"asset": asset, "value_usdt": total * price,
		})
	}
	return result, nil
}

// managedAssets returns the base assets already covered by a bot.
func (s *Supervisor) managedAssets() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.reg.Bots))
	for i := range s.reg.Bots {
		out[strings.ToUpper(strings.TrimSuffix(s.reg.Bots[i].Symbol, "USDT"))] = true
	}
	return out
}

// createAutoManager appends a stopped news_auto bot for the orphaned asset.
// Allocation covers the current holding value so the bot can manage the
// exit; it bypasses the free-USDT reservation because the capital is
// already deployed.
func (s *Supervisor) createAutoManager(asset, symbol string, valueUSDT float64) (*store.BotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allocated := valueUSDT
	if allocated < autoManagerTradeAmount {
		allocated = autoManagerTradeAmount
	}
	rec := store.BotRecord{
		ID:               s.reg.NextID,
		Name:             "Auto-Manager: " + asset,
		Symbol:           symbol,
		StrategyKind:     store.StrategyNewsAuto,
		AllocatedCapital: allocated,
		TradeAmount:      autoManagerTradeAmount,
		Status:           store.StatusStopped,
		CreatedAt:        time.Now().UTC(),
	}
	s.reg.NextID++
	s.reg.Bots = append(s.reg.Bots, rec)
	if err := s.st.SaveRegistry(s.reg); err != nil {
		s.reg.Bots = s.reg.Bots[:len(s.reg.Bots)-1]
		s.reg.NextID--
		return nil, err
	}
	out := rec
	return &out, nil
}
