package strategy

import (
	"context"
	"fmt"
	"strings"

	"binance-bot-fleet/internal/ai"
	"binance-bot-fleet/internal/store"
)

// tickerNews trades one fixed symbol on AI-assessed news, with technical
// indicators as a veto. Missing or stale news degrades to the technicals
// alone; an unavailable analyzer means HOLD.
type tickerNews struct {
	deps Deps
}

func (s *tickerNews) Kind() store.StrategyKind { return store.StrategyTickerNews }
func (s *tickerNews) Interval() string         { return "15m" }

// baseTicker strips the quote asset so BTCUSDT asks the news feed for BTC.
func baseTicker(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), "USDT")
}

func (s *tickerNews) Analyze(ctx context.Context, tc *Context) (*Signal, error) {
	ticker := baseTicker(tc.Symbol)
	res, err := s.deps.News.GetForTicker(ctx, ticker)
	if err != nil {
		return hold(fmt.Sprintf("no news for %s: %v", ticker, err)), nil
	}

	assessment := s.deps.Assessor.Analyze(ctx, res.Articles, ticker)
	return decideWithNews(tc, assessment), nil
}

// decideWithNews merges an AI assessment with the technical picture. Shared
// by the fixed-ticker strategy and the auto strategy's locked-symbol mode.
func decideWithNews(tc *Context, a *ai.Assessment) *Signal {
	bullishTech, bearishTech := technicalBias(tc)

	if tc.Position == nil {
		if a.Signal == "BUY" && a.Confidence >= 70 && !bearishTech {
			return &Signal{Action: ActionBuy, Confidence: a.Confidence,
				Reason: a.Reasoning}
		}
		return hold(fmt.Sprintf("news says %s (confidence %d): %s", a.Signal, a.Confidence, a.Reasoning))
	}

	if a.Signal == "SELL" && a.Confidence >= 60 && !bullishTech {
		return &Signal{Action: ActionSell, Confidence: a.Confidence, Reason: a.Reasoning}
	}
	if a.Signal == "BUY" && a.Confidence >= 80 && !bearishTech {
		return &Signal{Action: ActionBuy, Confidence: a.Confidence, AllowScaleIn: true,
			Reason: "high-conviction news, scaling in: " + a.Reasoning}
	}
	return hold(fmt.Sprintf("news says %s (confidence %d), keeping position", a.Signal, a.Confidence))
}

// technicalBias gives the news strategies a coarse yes/no on the chart so a
// headline cannot buy into a collapsing market or sell into a vertical one.
func technicalBias(tc *Context) (bullish, bearish bool) {
	if len(tc.Candles) < minCandles {
		return false, false
	}
	prices := closes(tc.Candles)
	price := prices[len(prices)-1]
	sma20 := SMA(prices, 20)
	rsi := RSI(prices, 14)

	bullish = price > sma20 && rsi > 55
	bearish = price < sma20 && rsi < 40
	return bullish, bearish
}
