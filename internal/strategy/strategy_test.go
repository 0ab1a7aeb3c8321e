package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-bot-fleet/internal/ai"
	"binance-bot-fleet/internal/exchange"
	"binance-bot-fleet/internal/news"
	"binance-bot-fleet/internal/store"
)

// ==== FAKES ====

type fakeNews struct {
	ticker map[string]*news.Result
	global *news.Result
	err    error
}

func (f *fakeNews) GetForTicker(_ context.Context, ticker string) (*news.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.ticker[strings.ToUpper(ticker)]; ok {
		return r, nil
	}
	return &news.Result{}, nil
}

func (f *fakeNews) GetGlobal(_ context.Context) (*news.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.global, nil
}

type fakeAssessor struct {
	byTicker map[string]*ai.Assessment
	fallback *ai.Assessment
}

func (f *fakeAssessor) Analyze(_ context.Context, _ []news.Article, ticker string) *ai.Assessment {
	if a, ok := f.byTicker[strings.ToUpper(ticker)]; ok {
		return a
	}
	if f.fallback != nil {
		return f.fallback
	}
	return &ai.Assessment{Signal: "HOLD", Sentiment: ai.SentimentNeutral, Impact: ai.ImpactLow, Urgency: ai.UrgencyLong}
}

type fakeValidator struct {
	tradeable map[string]bool
}

func (f *fakeValidator) GetSymbolInfo(_ context.Context, symbol string) (*exchange.SymbolInfo, error) {
	return &exchange.SymbolInfo{Symbol: symbol, Tradeable: f.tradeable[symbol]}, nil
}

func flatCandles(n int, price float64) []exchange.Kline {
	out := make([]exchange.Kline, n)
	for i := range out {
		out[i] = exchange.Kline{Open: price, High: price * 1.001, Low: price * 0.999, Close: price, Volume: 100}
	}
	return out
}

func article(ticker string) news.Article {
	return news.Article{Title: ticker + " news", Tickers: []string{ticker}, PublishedAt: time.Now().UTC()}
}

// ==== FACTORY ====

func TestNewCoversAllKinds(t *testing.T) {
	deps := Deps{News: &fakeNews{}, Assessor: &fakeAssessor{}, Validator: &fakeValidator{}}
	kinds := []store.StrategyKind{
		store.StrategyVolatile, store.StrategyMeanReversion, store.StrategyBreakout,
		store.StrategyConservative, store.StrategySimpleProfitable, store.StrategyEnhanced,
		store.StrategyMomentum, store.StrategyTickerNews, store.StrategyNewsAuto,
	}
	for _, kind := range kinds {
		s, err := New(kind, deps)
		require.NoError(t, err, string(kind))
		assert.Equal(t, kind, s.Kind())
		assert.NotEmpty(t, s.Interval())
	}

	_, err := New("martingale", deps)
	assert.Error(t, err)
}

// ==== TECHNICAL ====

func TestTechnicalHoldsWithoutEnoughCandles(t *testing.T) {
	s := newTechnical(store.StrategyVolatile)
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "BTCUSDT", Candles: flatCandles(10, 100)})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)
}

func TestSimpleProfitableCrossover(t *testing.T) {
	s := newTechnical(store.StrategySimpleProfitable)

	// A sawtooth uptrend: fast EMA above slow, RSI below the overbought cap.
	up := make([]exchange.Kline, 60)
	price := 100.0
	for i := range up {
		if i%2 == 0 {
			price += 2
		} else {
			price -= 1.2
		}
		up[i] = exchange.Kline{Close: price, High: price, Low: price, Volume: 100}
	}
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "BTCUSDT", Candles: up})
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)

	// Same market with a position and falling closes exits.
	down := make([]exchange.Kline, 60)
	for i := range down {
		price := 200 - float64(i)
		down[i] = exchange.Kline{Close: price, High: price, Low: price, Volume: 100}
	}
	sig, err = s.Analyze(context.Background(), &Context{
		Symbol: "BTCUSDT", Candles: down,
		Position: &store.Position{Symbol: "BTCUSDT", Qty: 1, AvgEntryPrice: 180},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionSell, sig.Action)
}

func TestMeanReversionBuysLowerBand(t *testing.T) {
	s := newTechnical(store.StrategyMeanReversion)
	candles := flatCandles(60, 100)
	// One sharp drop punches through the lower band and floors RSI.
	candles[59].Close = 70
	candles[59].Low = 69
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "ETHUSDT", Candles: candles})
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)
}

func TestBreakoutNeedsVolume(t *testing.T) {
	s := newTechnical(store.StrategyBreakout)
	candles := flatCandles(60, 100)
	last := &candles[59]
	last.Close = 110
	last.High = 111

	// Breakout without volume stays flat.
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "SOLUSDT", Candles: candles})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)

	last.Volume = 500
	sig, err = s.Analyze(context.Background(), &Context{Symbol: "SOLUSDT", Candles: candles})
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)
}

// ==== TICKER NEWS ====

func TestTickerNewsBuysOnConfidentNews(t *testing.T) {
	deps := Deps{
		News: &fakeNews{ticker: map[string]*news.Result{"BTC": {Articles: []news.Article{article("BTC")}}}},
		Assessor: &fakeAssessor{byTicker: map[string]*ai.Assessment{
			"BTC": {Signal: "BUY", Confidence: 85, Sentiment: ai.SentimentBullish, Impact: ai.ImpactHigh, Urgency: ai.UrgencyShort, Reasoning: "ETF inflows"},
		}},
	}
	s := &tickerNews{deps: deps}
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "BTCUSDT", Candles: flatCandles(60, 100)})
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, 85, sig.Confidence)
}

func TestTickerNewsLowConfidenceHolds(t *testing.T) {
	deps := Deps{
		News: &fakeNews{ticker: map[string]*news.Result{"BTC": {Articles: []news.Article{article("BTC")}}}},
		Assessor: &fakeAssessor{byTicker: map[string]*ai.Assessment{
			"BTC": {Signal: "BUY", Confidence: 55, Sentiment: ai.SentimentBullish, Impact: ai.ImpactLow, Urgency: ai.UrgencyLong},
		}},
	}
	s := &tickerNews{deps: deps}
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "BTCUSDT", Candles: flatCandles(60, 100)})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)
}

func TestTickerNewsBearishTechnicalsVetoBuy(t *testing.T) {
	// Falling prices with RSI well below 40 make the technicals bearish.
	candles := make([]exchange.Kline, 60)
	for i := range candles {
		price := 200 - float64(i)*2
		candles[i] = exchange.Kline{Close: price, High: price, Low: price, Volume: 100}
	}
	deps := Deps{
		News: &fakeNews{ticker: map[string]*news.Result{"BTC": {Articles: []news.Article{article("BTC")}}}},
		Assessor: &fakeAssessor{byTicker: map[string]*ai.Assessment{
			"BTC": {Signal: "BUY", Confidence: 90, Sentiment: ai.SentimentBullish, Impact: ai.ImpactHigh, Urgency: ai.UrgencyImmediate},
		}},
	}
	s := &tickerNews{deps: deps}
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "BTCUSDT", Candles: candles})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action, "a collapsing chart vetoes a bullish headline")
}

func TestTickerNewsSellsPositionOnBadNews(t *testing.T) {
	deps := Deps{
		News: &fakeNews{ticker: map[string]*news.Result{"ETH": {Articles: []news.Article{article("ETH")}}}},
		Assessor: &fakeAssessor{byTicker: map[string]*ai.Assessment{
			"ETH": {Signal: "SELL", Confidence: 75, Sentiment: ai.SentimentBearish, Impact: ai.ImpactHigh, Urgency: ai.UrgencyImmediate, Reasoning: "exchange hack"},
		}},
	}
	s := &tickerNews{deps: deps}
	sig, err := s.Analyze(context.Background(), &Context{
		Symbol: "ETHUSDT", Candles: flatCandles(60, 100),
		Position: &store.Position{Symbol: "ETHUSDT", Qty: 1, AvgEntryPrice: 95},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionSell, sig.Action)
}

func TestTickerNewsFeedDownHolds(t *testing.T) {
	s := &tickerNews{deps: Deps{News: &fakeNews{err: errors.New("all providers down")}, Assessor: &fakeAssessor{}}}
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "BTCUSDT", Candles: flatCandles(60, 100)})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)
}

// ==== NEWS AUTO ====

func TestNewsAutoRecommendsBestTicker(t *testing.T) {
	deps := Deps{
		News: &fakeNews{
			global: &news.Result{Articles: []news.Article{article("SOL"), article("DOGE")}},
			ticker: map[string]*news.Result{
				"SOL":  {Articles: []news.Article{article("SOL")}},
				"DOGE": {Articles: []news.Article{article("DOGE")}},
			},
		},
		Assessor: &fakeAssessor{
			byTicker: map[string]*ai.Assessment{
				"SOL":  {Signal: "BUY", Confidence: 80, Impact: ai.ImpactMedium, Urgency: ai.UrgencyShort},
				"DOGE": {Signal: "BUY", Confidence: 90, Impact: ai.ImpactHigh, Urgency: ai.UrgencyImmediate},
			},
			fallback: &ai.Assessment{Signal: "BUY", Confidence: 75, Tickers: []string{"SOL", "DOGE"}},
		},
		Validator: &fakeValidator{tradeable: map[string]bool{"SOLUSDT": true, "DOGEUSDT": true}},
	}
	s := &newsAuto{deps: deps}
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "BTCUSDT", Candles: flatCandles(60, 100)})
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, "DOGEUSDT", sig.RecommendedSymbol, "highest confidence wins")
}

func TestNewsAutoSkipsUntradeableSymbols(t *testing.T) {
	deps := Deps{
		News: &fakeNews{
			global: &news.Result{Articles: []news.Article{article("FAKE")}},
			ticker: map[string]*news.Result{"FAKE": {Articles: []news.Article{article("FAKE")}}},
		},
		Assessor: &fakeAssessor{
			byTicker: map[string]*ai.Assessment{"FAKE": {Signal: "BUY", Confidence: 99}},
			fallback: &ai.Assessment{Signal: "BUY", Confidence: 90, Tickers: []string{"FAKE"}},
		},
		Validator: &fakeValidator{tradeable: map[string]bool{}},
	}
	s := &newsAuto{deps: deps}
	sig, err := s.Analyze(context.Background(), &Context{Symbol: "BTCUSDT", Candles: flatCandles(60, 100)})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)
	assert.Empty(t, sig.RecommendedSymbol)
}

func TestNewsAutoLockedToSymbolWhileHolding(t *testing.T) {
	deps := Deps{
		News: &fakeNews{
			ticker: map[string]*news.Result{"SOL": {Articles: []news.Article{article("SOL")}}},
		},
		Assessor: &fakeAssessor{byTicker: map[string]*ai.Assessment{
			"SOL": {Signal: "SELL", Confidence: 70, Sentiment: ai.SentimentBearish, Impact: ai.ImpactHigh, Urgency: ai.UrgencyImmediate},
		}},
		Validator: &fakeValidator{tradeable: map[string]bool{"SOLUSDT": true}},
	}
	s := &newsAuto{deps: deps}
	sig, err := s.Analyze(context.Background(), &Context{
		Symbol: "SOLUSDT", Candles: flatCandles(60, 100),
		Position: &store.Position{Symbol: "SOLUSDT", Qty: 10, AvgEntryPrice: 95},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionSell, sig.Action, "held symbol is traded, never rotated")
	assert.Empty(t, sig.RecommendedSymbol)
}
