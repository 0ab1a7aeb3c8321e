package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-bot-fleet/config"
	"binance-bot-fleet/internal/events"
	"binance-bot-fleet/internal/exchange"
	"binance-bot-fleet/internal/metrics"
	"binance-bot-fleet/internal/notify"
	"binance-bot-fleet/internal/store"
	"binance-bot-fleet/internal/strategy"
)

// fakeExchange is a scripted exchange.API for worker and supervisor tests.
type fakeExchange struct {
	mu        sync.Mutex
	balances  []exchange.Balance
	prices    map[string]float64
	candles   map[string][]exchange.Kline
	symbols   map[string]*exchange.SymbolInfo
	buys      []exchange.OrderResult
	sells     []exchange.OrderResult
	buyErr    error
	sellErr   error
	klinesErr error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balances: []exchange.Balance{{Asset: "USDT", Free: 10000}},
		prices:   map[string]float64{},
		candles:  map[string][]exchange.Kline{},
		symbols:  map[string]*exchange.SymbolInfo{},
	}
}

func (f *fakeExchange) addSymbol(symbol, base string) {
	f.symbols[symbol] = &exchange.SymbolInfo{
		Symbol: symbol, BaseAsset: base, QuoteAsset: "USDT",
		Tradeable: true, LotStep: 0.0001, MinNotional: 5, CachedAt: time.Now(),
	}
}

func (f *fakeExchange) GetBalances(context.Context) ([]exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.Balance, len(f.balances))
	copy(out, f.balances)
	return out, nil
}

func (f *fakeExchange) GetKlines(_ context.Context, symbol, _ string, limit int) ([]exchange.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.klinesErr != nil {
		return nil, f.klinesErr
	}
	ks := f.candles[symbol]
	if len(ks) > limit {
		ks = ks[len(ks)-limit:]
	}
	return ks, nil
}

func (f *fakeExchange) GetTickerPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prices[symbol]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

func (f *fakeExchange) MarketBuy(_ context.Context, symbol string, quoteAmount float64) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	price := f.prices[symbol]
	res := exchange.OrderResult{
		Symbol: symbol, Side: "BUY", ExecutedQty: quoteAmount / price,
		AvgFillPrice: price, CumulativeQuoteQty: quoteAmount, Status: "FILLED",
	}
	f.buys = append(f.buys, res)
	return &res, nil
}

func (f *fakeExchange) MarketSell(_ context.Context, symbol string, qty float64) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sellErr != nil {
		return nil, f.sellErr
	}
	price := f.prices[symbol]
	res := exchange.OrderResult{
		Symbol: symbol, Side: "SELL", ExecutedQty: qty,
		AvgFillPrice: price, CumulativeQuoteQty: qty * price, Status: "FILLED",
	}
	f.sells = append(f.sells, res)
	return &res, nil
}

func (f *fakeExchange) GetSymbolInfo(_ context.Context, symbol string) (*exchange.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.symbols[symbol]; ok {
		return info, nil
	}
	return &exchange.SymbolInfo{Symbol: symbol, Tradeable: false}, nil
}

func (f *fakeExchange) buyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buys)
}

func (f *fakeExchange) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sells)
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			TickInterval:  time.Hour,
			StopLossPct:   0.03,
			TakeProfitPct: 0.05,
			MaxHold:       48 * time.Hour,
		},
		DataDir: "unused",
	}
}

func newTestSupervisor(t *testing.T, ex *fakeExchange) (*Supervisor, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	notifier := notify.NewSMSNotifier(notify.Config{}, zerolog.Nop())
	sup, err := NewSupervisor(testConfig(), st, ex, strategy.Deps{}, notifier, events.NewBus(), m, zerolog.Nop())
	require.NoError(t, err)
	return sup, st
}

func createTestBot(t *testing.T, sup *Supervisor, symbol string, kind store.StrategyKind) *store.BotRecord {
	t.Helper()
	rec, err := sup.CreateBot(context.Background(), CreateRequest{
		Name: "test-" + strings.ToLower(symbol), Symbol: symbol, StrategyKind: kind,
		AllocatedCapital: 500, TradeAmount: 100,
	})
	require.NoError(t, err)
	return rec
}

// ==== LIFECYCLE ====

func TestCreateBotValidation(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("BTCUSDT", "BTC")
	sup, _ := newTestSupervisor(t, ex)

	_, err := sup.CreateBot(context.Background(), CreateRequest{
		Name: "", Symbol: "BTCUSDT", StrategyKind: store.StrategyVolatile,
		AllocatedCapital: 100, TradeAmount: 50,
	})
	assert.Error(t, err, "empty name")

	_, err = sup.CreateBot(context.Background(), CreateRequest{
		Name: "x", Symbol: "BTCUSDT", StrategyKind: "martingale",
		AllocatedCapital: 100, TradeAmount: 50,
	})
	assert.Error(t, err, "unknown strategy")

	_, err = sup.CreateBot(context.Background(), CreateRequest{
		Name: "x", Symbol: "NOPEUSDT", StrategyKind: store.StrategyVolatile,
		AllocatedCapital: 100, TradeAmount: 50,
	})
	assert.Error(t, err, "untradeable symbol")

	_, err = sup.CreateBot(context.Background(), CreateRequest{
		Name: "x", Symbol: "BTCUSDT", StrategyKind: store.StrategyVolatile,
		AllocatedCapital: 100, TradeAmount: 200,
	})
	assert.Error(t, err, "trade amount above allocation")

	rec := createTestBot(t, sup, "BTCUSDT", store.StrategyVolatile)
	assert.Equal(t, 1, rec.ID)
	assert.Equal(t, store.StatusStopped, rec.Status, "new bots start stopped")
}

func TestCreateBotCapitalReservation(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("BTCUSDT", "BTC")
	ex.balances = []exchange.Balance{{Asset: "USDT", Free: 600}}
	sup, _ := newTestSupervisor(t, ex)

	createTestBot(t, sup, "BTCUSDT", store.StrategyVolatile) // takes 500

	_, err := sup.CreateBot(context.Background(), CreateRequest{
		Name: "second", Symbol: "BTCUSDT", StrategyKind: store.StrategyVolatile,
		AllocatedCapital: 500, TradeAmount: 100,
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestCreateBotRejectsSymbolOfRunningBot(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("BTCUSDT", "BTC")
	sup, _ := newTestSupervisor(t, ex)
	rec := createTestBot(t, sup, "BTCUSDT", store.StrategyVolatile)
	require.NoError(t, sup.StartBot(rec.ID))
	t.Cleanup(sup.StopAll)

	_, err := sup.CreateBot(context.Background(), CreateRequest{
		Name: "dup", Symbol: "BTCUSDT", StrategyKind: store.StrategyVolatile,
		AllocatedCapital: 100, TradeAmount: 50,
	})
	assert.ErrorIs(t, err, ErrSymbolInUse)

	forced, err := sup.CreateBot(context.Background(), CreateRequest{
		Name: "dup-forced", Symbol: "BTCUSDT", StrategyKind: store.StrategyVolatile,
		AllocatedCapital: 100, TradeAmount: 50, Force: true,
	})
	require.NoError(t, err, "force overrides the advisory check")
	assert.Equal(t, 2, forced.ID)

	// A stopped bot's symbol does not block new bots.
	require.NoError(t, sup.StopBot(rec.ID))
	_, err = sup.CreateBot(context.Background(), CreateRequest{
		Name: "after-stop", Symbol: "BTCUSDT", StrategyKind: store.StrategyVolatile,
		AllocatedCapital: 100, TradeAmount: 50,
	})
	assert.NoError(t, err)
}

func TestSnapshotReportsWalletAndOrphans(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("BTCUSDT", "BTC")
	ex.balances = []exchange.Balance{
		{Asset: "USDT", Free: 5000},
		{Asset: "BTC", Free: 0.1}, // managed below
		{Asset: "SOL", Free: 10},  // nobody manages this
	}
	sup, _ := newTestSupervisor(t, ex)
	rec := createTestBot(t, sup, "BTCUSDT", store.StrategyVolatile)

	overview := sup.Snapshot(context.Background())
	assert.Len(t, overview.Wallet, 3)
	assert.Equal(t, []int{rec.ID}, overview.ManagedAssets["BTC"])
	assert.Equal(t, []string{"SOL"}, overview.Orphans, "stablecoins and managed assets are not orphans")
}

func TestBotsOnSymbolAttachesPositions(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("BTCUSDT", "BTC")
	ex.addSymbol("ETHUSDT", "ETH")
	sup, st := newTestSupervisor(t, ex)
	rec := createTestBot(t, sup, "BTCUSDT", store.StrategyVolatile)
	createTestBot(t, sup, "ETHUSDT", store.StrategyVolatile)

	require.NoError(t, st.SavePosition(rec.ID, &store.Position{
		Symbol: "BTCUSDT", Side: "long", Qty: 0.01, AvgEntryPrice: 50000, OpenedAt: time.Now(),
	}))

	views := sup.BotsOnSymbol("btcusdt")
	require.Len(t, views, 1, "symbol match is case-insensitive")
	assert.Equal(t, rec.ID, views[0].ID)
	require.NotNil(t, views[0].Position)
	assert.Equal(t, 0.01, views[0].Position.Qty)
}

func TestStartStopIdempotent(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("BTCUSDT", "BTC")
	sup, _ := newTestSupervisor(t, ex)
	rec := createTestBot(t, sup, "BTCUSDT", store.StrategyVolatile)

	require.NoError(t, sup.StartBot(rec.ID))
	require.NoError(t, sup.StartBot(rec.ID), "second start is a no-op")

	overview := sup.Snapshot(context.Background())
	assert.Equal(t, 1, overview.Running)

	require.NoError(t, sup.StopBot(rec.ID))
	require.NoError(t, sup.StopBot(rec.ID), "second stop is a no-op")

	overview = sup.Snapshot(context.Background())
	assert.Equal(t, 0, overview.Running)
	assert.Equal(t, store.StatusStopped, overview.Bots[0].Status)

	assert.ErrorIs(t, sup.StartBot(999), ErrBotNotFound)
}

func TestDeleteBotRefusedWithOpenPosition(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("ETHUSDT", "ETH")
	sup, st := newTestSupervisor(t, ex)
	rec := createTestBot(t, sup, "ETHUSDT", store.StrategyVolatile)

	require.NoError(t, st.SavePosition(rec.ID, &store.Position{
		Symbol: "ETHUSDT", Side: "long", Qty: 1, AvgEntryPrice: 2000, OpenedAt: time.Now(),
	}))
	assert.ErrorIs(t, sup.DeleteBot(rec.ID), ErrPositionOpen)

	require.NoError(t, st.DeletePosition(rec.ID))
	require.NoError(t, sup.DeleteBot(rec.ID))
	assert.ErrorIs(t, sup.StartBot(rec.ID), ErrBotNotFound)
}

func TestEditSymbolLockedWhilePositionOpen(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("BTCUSDT", "BTC")
	ex.addSymbol("SOLUSDT", "SOL")
	sup, st := newTestSupervisor(t, ex)
	rec := createTestBot(t, sup, "BTCUSDT", store.StrategyTickerNews)

	require.NoError(t, st.SavePosition(rec.ID, &store.Position{
		Symbol: "BTCUSDT", Side: "long", Qty: 0.1, AvgEntryPrice: 50000, OpenedAt: time.Now(),
	}))

	newSymbol := "SOLUSDT"
	_, err := sup.EditBot(context.Background(), rec.ID, EditRequest{Symbol: &newSymbol})
	assert.ErrorIs(t, err, ErrSymbolLocked)

	// Flat bot may switch.
	require.NoError(t, st.DeletePosition(rec.ID))
	updated, err := sup.EditBot(context.Background(), rec.ID, EditRequest{Symbol: &newSymbol})
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", updated.Symbol)
}

func TestAddFundsBoundedByFreeBalance(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("BTCUSDT", "BTC")
	ex.balances = []exchange.Balance{{Asset: "USDT", Free: 600}}
	sup, _ := newTestSupervisor(t, ex)
	rec := createTestBot(t, sup, "BTCUSDT", store.StrategyVolatile)

	updated, err := sup.AddFunds(context.Background(), rec.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 600.0, updated.AllocatedCapital)

	_, err = sup.AddFunds(context.Background(), rec.ID, 1)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestRegistryNormalizedOnBoot(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.SaveRegistry(&store.Registry{
		NextID: 3,
		Bots: []store.BotRecord{
			{ID: 1, Name: "a", Symbol: "BTCUSDT", StrategyKind: store.StrategyVolatile, Status: store.StatusRunning},
			{ID: 2, Name: "b", Symbol: "ETHUSDT", StrategyKind: store.StrategyVolatile, Status: store.StatusStopped},
		},
	}))

	m := metrics.New(prometheus.NewRegistry())
	sup, err := NewSupervisor(testConfig(), st, newFakeExchange(), strategy.Deps{},
		notify.NewSMSNotifier(notify.Config{}, zerolog.Nop()), events.NewBus(), m, zerolog.Nop())
	require.NoError(t, err)

	overview := sup.Snapshot(context.Background())
	for _, b := range overview.Bots {
		assert.Equal(t, store.StatusStopped, b.Status, "no bot auto-resumes after a restart")
	}
}

// ==== RECONCILIATION ====

func TestReconcileCreatesAutoManagerBots(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("SOLUSDT", "SOL")
	ex.addSymbol("BTCUSDT", "BTC")
	ex.balances = []exchange.Balance{
		{Asset: "USDT", Free: 5000},
		{Asset: "SOL", Free: 10},  // orphan, worth 1500
		{Asset: "BTC", Free: 0.1}, // managed below
		{Asset: "JUNK", Free: 42}, // no USDT pair
	}
	ex.prices["SOLUSDT"] = 150
	ex.prices["BTCUSDT"] = 50000
	sup, _ := newTestSupervisor(t, ex)
	createTestBot(t, sup, "BTCUSDT", store.StrategyVolatile)

	result, err := sup.ReconcileOrphans(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Created, 1)

	created := result.Created[0]
	assert.Equal(t, "Auto-Manager: SOL", created.Name)
	assert.Equal(t, "SOLUSDT", created.Symbol)
	assert.Equal(t, store.StrategyNewsAuto, created.StrategyKind)
	assert.Equal(t, store.StatusStopped, created.Status, "adopted bots need explicit start")
	assert.Equal(t, 100.0, created.TradeAmount)
	assert.InDelta(t, 1500, created.AllocatedCapital, 1e-9)
	assert.Contains(t, result.Skipped, "JUNK")
}

func TestReconcileIsIdempotent(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("SOLUSDT", "SOL")
	ex.balances = []exchange.Balance{
		{Asset: "USDT", Free: 5000},
		{Asset: "SOL", Free: 10},
	}
	ex.prices["SOLUSDT"] = 150
	sup, _ := newTestSupervisor(t, ex)

	first, err := sup.ReconcileOrphans(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := sup.ReconcileOrphans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Created, "already-managed assets are not adopted twice")
}

func TestReconcileSkipsDust(t *testing.T) {
	ex := newFakeExchange()
	ex.addSymbol("SOLUSDT", "SOL")
	ex.balances = []exchange.Balance{
		{Asset: "USDT", Free: 5000},
		{Asset: "SOL", Free: 0.001},
	}
	ex.prices["SOLUSDT"] = 150
	sup, _ := newTestSupervisor(t, ex)

	result, err := sup.ReconcileOrphans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Created, "sub-dollar holdings stay unmanaged")
}
