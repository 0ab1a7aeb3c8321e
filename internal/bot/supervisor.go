// Package bot contains the fleet supervisor and the per-bot trading worker.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-bot-fleet/config"
	"binance-bot-fleet/internal/botlog"
	"binance-bot-fleet/internal/events"
	"binance-bot-fleet/internal/exchange"
	"binance-bot-fleet/internal/metrics"
	"binance-bot-fleet/internal/notify"
	"binance-bot-fleet/internal/store"
	"binance-bot-fleet/internal/strategy"
)

// Lifecycle errors surfaced to the API layer.
var (
	ErrBotNotFound       = errors.New("bot not found")
	ErrSymbolLocked      = errors.New("symbol_locked_while_position_open")
	ErrSymbolInUse       = errors.New("symbol already traded by a running bot")
	ErrPositionOpen      = errors.New("bot holds an open position")
	ErrInsufficientFunds = errors.New("insufficient unallocated capital")
)

// Supervisor owns the bot registry and the worker lifecycle. All registry
// mutations go through it; workers read their own records via callbacks.
type Supervisor struct {
	cfg      *config.Config
	st       *store.Store
	ex       exchange.API
	deps     strategy.Deps
	notifier *notify.SMSNotifier
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex
	reg     *store.Registry
	workers map[int]*Worker
}

// NewSupervisor loads the registry and returns a supervisor. All bots come
// up in stopped state regardless of how the process went down.
func NewSupervisor(cfg *config.Config, st *store.Store, ex exchange.API, deps strategy.Deps,
	notifier *notify.SMSNotifier, bus *events.Bus, m *metrics.Metrics, logger zerolog.Logger) (*Supervisor, error) {

	reg, err := st.LoadRegistry()
	if err != nil {
		return nil, fmt.Errorf("load bot registry: %w", err)
	}
	// A crash mid-run may leave records marked running; nothing is actually
	// running until Start is called again.
	changed := false
	for i := range reg.Bots {
		if reg.Bots[i].Status != store.StatusStopped {
			reg.Bots[i].Status = store.StatusStopped
			changed = true
		}
	}
	if changed {
		if err := st.SaveRegistry(reg); err != nil {
			return nil, fmt.Errorf("normalize bot registry: %w", err)
		}
	}

	return &Supervisor{
		cfg:      cfg,
		st:       st,
		ex:       ex,
		deps:     deps,
		notifier: notifier,
		bus:      bus,
		metrics:  m,
		logger:   logger.With().Str("component", "supervisor").Logger(),
		reg:      reg,
		workers:  make(map[int]*Worker),
	}, nil
}

// CreateRequest is the input for creating a bot.
type CreateRequest struct {
	Name             string             `json:"name"`
	Symbol           string             `json:"symbol"`
	StrategyKind     store.StrategyKind `json:"strategy_kind"`
	AllocatedCapital float64            `json:"allocated_capital_usdt"`
	TradeAmount      float64            `json:"trade_amount_usdt"`
	// Force overrides the advisory check that rejects a symbol already
	// traded by a running bot.
	Force bool `json:"force,omitempty"`
}

// CreateBot validates the request, reserves capital against the fleet's
// free USDT and appends the bot to the registry in stopped state.
func (s *Supervisor) CreateBot(ctx context.Context, req CreateRequest) (*store.BotRecord, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("bot name is required")
	}
	if !store.ValidStrategyKind(req.StrategyKind) {
		return nil, fmt.Errorf("unknown strategy kind %q", req.StrategyKind)
	}
	if req.AllocatedCapital <= 0 {
		return nil, fmt.Errorf("allocated capital must be positive")
	}
	if req.TradeAmount <= 0 || req.TradeAmount > req.AllocatedCapital {
		return nil, fmt.Errorf("trade amount must be positive and within allocated capital")
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	info, err := s.ex.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("validate symbol %s: %w", symbol, err)
	}
	if !info.Tradeable {
		return nil, fmt.Errorf("symbol %s is not tradeable", symbol)
	}

	free, err := s.freeUSDT(ctx)
	if err != nil {
		return nil, fmt.Errorf("check exchange balance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !req.Force {
		for i := range s.reg.Bots {
			if s.reg.Bots[i].Symbol == symbol && s.reg.Bots[i].Status == store.StatusRunning {
				return nil, fmt.Errorf("%w: %s is traded by bot %d", ErrSymbolInUse, symbol, s.reg.Bots[i].ID)
			}
		}
	}

	if s.allocatedLocked()+req.AllocatedCapital > free {
		return nil, fmt.Errorf("%w: %.2f allocated, %.2f free, %.2f requested",
			ErrInsufficientFunds, s.allocatedLocked(), free, req.AllocatedCapital)
	}

	rec := store.BotRecord{
		ID:               s.reg.NextID,
		Name:             req.Name,
		Symbol:           symbol,
		StrategyKind:     req.StrategyKind,
		AllocatedCapital: req.AllocatedCapital,
		TradeAmount:      req.TradeAmount,
		Status:           store.StatusStopped,
		CreatedAt:        time.Now().UTC(),
	}
	s.reg.NextID++
	s.reg.Bots = append(s.reg.Bots, rec)

	if err := s.st.SaveRegistry(s.reg); err != nil {
		// Roll the in-memory reservation back so a disk hiccup does not leak
		// a phantom allocation.
		s.reg.Bots = s.reg.Bots[:len(s.reg.Bots)-1]
		s.reg.NextID--
		return nil, fmt.Errorf("persist bot registry: %w", err)
	}

	s.logger.Info().Int("bot_id", rec.ID).Str("name", rec.Name).Str("symbol", symbol).Msg("bot created")
	s.bus.Publish(events.EventBotCreated, rec.ID, map[string]interface{}{"name": rec.Name, "symbol": symbol})
	out := rec
	return &out, nil
}

// StartBot launches the bot's worker. Starting a running bot is a no-op.
func (s *Supervisor) StartBot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.reg.Find(id)
	if rec == nil {
		return ErrBotNotFound
	}
	if _, running := s.workers[id]; running {
		return nil
	}

	strat, err := strategy.New(rec.StrategyKind, s.deps)
	if err != nil {
		rec.LastError = err.Error()
		s.st.SaveRegistry(s.reg)
		return err
	}

	rec.Status = store.StatusRunning
	rec.LastError = ""
	if err := s.st.SaveRegistry(s.reg); err != nil {
		rec.Status = store.StatusStopped
		return fmt.Errorf("persist bot registry: %w", err)
	}

	w := newWorker(rec, strat, s)
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	s.workers[id] = w
	go w.run(ctx, s.cfg.Trading.TickInterval)

	s.metrics.BotsRunning.Set(float64(len(s.workers)))
	s.logger.Info().Int("bot_id", id).Msg("bot started")
	s.bus.Publish(events.EventBotStarted, id, nil)
	return nil
}

// StopBot cancels the worker and waits for its tick to finish. Stopping a
// stopped bot is a no-op. Any open position stays on disk untouched.
func (s *Supervisor) StopBot(id int) error {
	s.mu.Lock()
	rec := s.reg.Find(id)
	if rec == nil {
		s.mu.Unlock()
		return ErrBotNotFound
	}
	w, running := s.workers[id]
	if running {
		delete(s.workers, id)
	}
	rec.Status = store.StatusStopped
	err := s.st.SaveRegistry(s.reg)
	s.metrics.BotsRunning.Set(float64(len(s.workers)))
	s.mu.Unlock()

	if running {
		w.cancel()
		<-w.done
	}
	if err != nil {
		return fmt.Errorf("persist bot registry: %w", err)
	}
	s.logger.Info().Int("bot_id", id).Msg("bot stopped")
	s.bus.Publish(events.EventBotStopped, id, nil)
	return nil
}

// DeleteBot removes a stopped, flat bot and its files. A bot holding a
// position must be closed out first.
func (s *Supervisor) DeleteBot(id int) error {
	if err := s.StopBot(id); err != nil {
		return err
	}

	pos, err := s.st.LoadPosition(id)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if pos != nil {
		return ErrPositionOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i := range s.reg.Bots {
		if s.reg.Bots[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrBotNotFound
	}
	s.reg.Bots = append(s.reg.Bots[:idx], s.reg.Bots[idx+1:]...)
	if err := s.st.SaveRegistry(s.reg); err != nil {
		return fmt.Errorf("persist bot registry: %w", err)
	}

	botlog.New(s.st.Dir(), id).Remove()
	s.logger.Info().Int("bot_id", id).Msg("bot deleted")
	s.bus.Publish(events.EventBotDeleted, id, nil)
	return nil
}

// EditRequest carries the editable bot fields; nil means unchanged.
type EditRequest struct {
	Name        *string  `json:"name,omitempty"`
	Symbol      *string  `json:"symbol,omitempty"`
	TradeAmount *float64 `json:"trade_amount_usdt,omitempty"`
}

// EditBot applies field updates. Changing the symbol of a bot with an open
// position is refused.
func (s *Supervisor) EditBot(ctx context.Context, id int, req EditRequest) (*store.BotRecord, error) {
	if req.Symbol != nil {
		pos, err := s.st.LoadPosition(id)
		if err != nil {
			return nil, fmt.Errorf("read position: %w", err)
		}
		if pos != nil {
			return nil, ErrSymbolLocked
		}
		symbol := strings.ToUpper(strings.TrimSpace(*req.Symbol))
		info, err := s.ex.GetSymbolInfo(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("validate symbol %s: %w", symbol, err)
		}
		if !info.Tradeable {
			return nil, fmt.Errorf("symbol %s is not tradeable", symbol)
		}
		*req.Symbol = symbol
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.reg.Find(id)
	if rec == nil {
		return nil, ErrBotNotFound
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		rec.Name = *req.Name
	}
	if req.TradeAmount != nil {
		if *req.TradeAmount <= 0 || *req.TradeAmount > rec.AllocatedCapital {
			return nil, fmt.Errorf("trade amount must be positive and within allocated capital")
		}
		rec.TradeAmount = *req.TradeAmount
	}
	if req.Symbol != nil {
		rec.Symbol = *req.Symbol
		if w, ok := s.workers[id]; ok {
			w.setSymbol(*req.Symbol)
		}
	}
	if err := s.st.SaveRegistry(s.reg); err != nil {
		return nil, fmt.Errorf("persist bot registry: %w", err)
	}
	out := *rec
	return &out, nil
}

// AddFunds raises a bot's allocated capital, bounded by the fleet's free
// USDT.
func (s *Supervisor) AddFunds(ctx context.Context, id int, amount float64) (*store.BotRecord, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	free, err := s.freeUSDT(ctx)
	if err != nil {
		return nil, fmt.Errorf("check exchange balance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.reg.Find(id)
	if rec == nil {
		return nil, ErrBotNotFound
	}
	if s.allocatedLocked()+amount > free {
		return nil, fmt.Errorf("%w: %.2f allocated, %.2f free, %.2f requested",
			ErrInsufficientFunds, s.allocatedLocked(), free, amount)
	}
	rec.AllocatedCapital += amount
	if err := s.st.SaveRegistry(s.reg); err != nil {
		rec.AllocatedCapital -= amount
		return nil, fmt.Errorf("persist bot registry: %w", err)
	}
	s.logger.Info().Int("bot_id", id).Float64("amount", amount).Msg("funds added")
	out := *rec
	return &out, nil
}

// BotView is one bot's state as shown on the dashboard.
type BotView struct {
	store.BotRecord
	Position     *store.Position `json:"position,omitempty"`
	CurrentPrice float64         `json:"current_price,omitempty"`
	UnrealizedPL float64         `json:"unrealized_pnl_usdt,omitempty"`
}

// Overview is the dashboard summary: the registry, open positions, the
// exchange wallet and the assets no bot manages.
type Overview struct {
	Bots             []BotView          `json:"bots"`
	Wallet           []exchange.Balance `json:"wallet"`
	ManagedAssets    map[string][]int   `json:"managed_assets"` // Base asset -> bot ids trading it
	Orphans          []string           `json:"orphans"`
	TotalAllocated   float64            `json:"total_allocated_usdt"`
	TotalRealizedPnL float64            `json:"total_realized_pnl_usdt"`
	OpenPositions    int                `json:"open_positions"`
	Running          int                `json:"running"`
}

// Snapshot assembles the dashboard overview, including live prices for open
// positions and the current exchange wallet.
func (s *Supervisor) Snapshot(ctx context.Context) *Overview {
	s.mu.Lock()
	records := make([]store.BotRecord, len(s.reg.Bots))
	copy(records, s.reg.Bots)
	s.mu.Unlock()

	out := &Overview{
		Bots:          make([]BotView, 0, len(records)),
		ManagedAssets: make(map[string][]int, len(records)),
	}
	var totalPnL float64
	for _, rec := range records {
		view := BotView{BotRecord: rec}
		out.TotalAllocated += rec.AllocatedCapital
		totalPnL += rec.RealizedPnL
		if rec.Status == store.StatusRunning {
			out.Running++
		}
		asset := strings.ToUpper(strings.TrimSuffix(rec.Symbol, "USDT"))
		out.ManagedAssets[asset] = append(out.ManagedAssets[asset], rec.ID)
		if pos, err := s.st.LoadPosition(rec.ID); err == nil && pos != nil {
			view.Position = pos
			out.OpenPositions++
			if price, err := s.ex.GetTickerPrice(ctx, pos.Symbol); err == nil {
				view.CurrentPrice = price
				view.UnrealizedPL = (price - pos.AvgEntryPrice) * pos.Qty
			}
		}
		out.Bots = append(out.Bots, view)
	}
	out.TotalRealizedPnL = totalPnL

	if balances, err := s.ex.GetBalances(ctx); err == nil {
		out.Wallet = balances
		for _, b := range balances {
			asset := strings.ToUpper(b.Asset)
			if b.Free+b.Locked <= 0 || reconcileSkipAssets[asset] {
				continue
			}
			if _, managed := out.ManagedAssets[asset]; managed {
				continue
			}
			out.Orphans = append(out.Orphans, asset)
		}
	} else {
		s.logger.Warn().Err(err).Msg("wallet fetch for overview failed")
	}

	s.metrics.RealizedPnL.Set(totalPnL)
	s.metrics.OpenPositions.Set(float64(out.OpenPositions))
	return out
}

// BotsOnSymbol returns the bots trading one symbol, with their open
// positions attached.
func (s *Supervisor) BotsOnSymbol(symbol string) []BotView {
	s.mu.Lock()
	records := make([]store.BotRecord, 0)
	for i := range s.reg.Bots {
		if strings.EqualFold(s.reg.Bots[i].Symbol, symbol) {
			records = append(records, s.reg.Bots[i])
		}
	}
	s.mu.Unlock()

	views := make([]BotView, 0, len(records))
	for _, rec := range records {
		view := BotView{BotRecord: rec}
		if pos, err := s.st.LoadPosition(rec.ID); err == nil && pos != nil {
			view.Position = pos
		}
		views = append(views, view)
	}
	return views
}

// BotLogs returns the last n activity log lines for a bot.
func (s *Supervisor) BotLogs(id int, n int) ([]string, error) {
	s.mu.Lock()
	rec := s.reg.Find(id)
	s.mu.Unlock()
	if rec == nil {
		return nil, ErrBotNotFound
	}
	return botlog.New(s.st.Dir(), id).Tail(n)
}

// StopAll stops every running bot, used at shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.StopBot(id); err != nil {
			s.logger.Warn().Err(err).Int("bot_id", id).Msg("stop during shutdown failed")
		}
	}
}

// ==================== WORKER CALLBACKS ====================

// botRecord returns a copy of the bot's registry record.
func (s *Supervisor) botRecord(id int) *store.BotRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.reg.Find(id)
	if rec == nil {
		return nil
	}
	out := *rec
	return &out
}

// updateBotSymbol persists a worker-initiated symbol rotation.
func (s *Supervisor) updateBotSymbol(id int, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.reg.Find(id)
	if rec == nil {
		return ErrBotNotFound
	}
	rec.Symbol = symbol
	return s.st.SaveRegistry(s.reg)
}

// addRealizedPnL folds a closed trade's PnL into the bot's running total.
func (s *Supervisor) addRealizedPnL(id int, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.reg.Find(id)
	if rec == nil {
		return
	}
	rec.RealizedPnL += pnl
	if err := s.st.SaveRegistry(s.reg); err != nil {
		s.logger.Error().Err(err).Int("bot_id", id).Msg("cannot persist realized pnl")
	}
}

// allocatedLocked sums allocated capital across all bots. Caller holds mu.
func (s *Supervisor) allocatedLocked() float64 {
	total := 0.0
	for i := range s.reg.Bots {
		total += s.reg.Bots[i].AllocatedCapital
	}
	return total
}

// freeUSDT returns the exchange's free USDT balance.
func (s *Supervisor) freeUSDT(ctx context.Context) (float64, error) {
	balances, err := s.ex.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return b.Free, nil
		}
	}
	return 0, nil
}
