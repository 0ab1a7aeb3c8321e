package strategy

import (
	"context"
	"fmt"

	"binance-bot-fleet/internal/store"
)

// technical is the family of indicator-only strategies. Each kind is a
// different rule set over the same indicator toolbox; none of them touch
// news or the AI.
type technical struct {
	kind store.StrategyKind
}

func newTechnical(kind store.StrategyKind) *technical {
	return &technical{kind: kind}
}

func (t *technical) Kind() store.StrategyKind { return t.kind }

// Interval picks the candle granularity per variant. The fast variants read
// 15m candles, the slower ones 1h.
func (t *technical) Interval() string {
	switch t.kind {
	case store.StrategyConservative, store.StrategySimpleProfitable:
		return "1h"
	default:
		return "15m"
	}
}

const minCandles = 50

func (t *technical) Analyze(_ context.Context, tc *Context) (*Signal, error) {
	if len(tc.Candles) < minCandles {
		return hold(fmt.Sprintf("insufficient candles (%d)", len(tc.Candles))), nil
	}
	prices := closes(tc.Candles)
	switch t.kind {
	case store.StrategyVolatile:
		return t.volatile(tc, prices), nil
	case store.StrategyMeanReversion:
		return t.meanReversion(tc, prices), nil
	case store.StrategyBreakout:
		return t.breakout(tc, prices), nil
	case store.StrategyConservative:
		return t.conservative(tc, prices), nil
	case store.StrategySimpleProfitable:
		return t.simpleProfitable(tc, prices), nil
	case store.StrategyEnhanced:
		return t.enhanced(tc, prices), nil
	case store.StrategyMomentum:
		return t.momentum(tc, prices), nil
	}
	return nil, fmt.Errorf("technical strategy cannot handle kind %q", t.kind)
}

// volatile chases short-term swings: RSI extremes plus a volume spike.
func (t *technical) volatile(tc *Context, prices []float64) *Signal {
	rsi := RSI(prices, 14)
	spike := volumeSpike(tc.Candles, 20, 1.5)

	if tc.Position == nil {
		if rsi < 35 && spike {
			return &Signal{Action: ActionBuy, Confidence: 70,
				Reason: fmt.Sprintf("oversold swing: RSI %.1f with volume spike", rsi)}
		}
		return hold(fmt.Sprintf("no swing setup (RSI %.1f)", rsi))
	}
	if rsi > 70 {
		return &Signal{Action: ActionSell, Confidence: 70,
			Reason: fmt.Sprintf("overbought: RSI %.1f", rsi)}
	}
	return hold(fmt.Sprintf("riding position (RSI %.1f)", rsi))
}

// meanReversion buys touches of the lower Bollinger band and sells reversion
// to the middle band.
func (t *technical) meanReversion(tc *Context, prices []float64) *Signal {
	price := prices[len(prices)-1]
	middle, upper, lower := Bollinger(prices, 20)
	rsi := RSI(prices, 14)

	if tc.Position == nil {
		if price <= lower && rsi < 40 {
			return &Signal{Action: ActionBuy, Confidence: 65,
				Reason: fmt.Sprintf("price %.4f at lower band %.4f, RSI %.1f", price, lower, rsi)}
		}
		return hold("price inside bands")
	}
	if price >= middle || price >= upper {
		return &Signal{Action: ActionSell, Confidence: 65,
			Reason: fmt.Sprintf("reverted to band %.4f", middle)}
	}
	return hold("waiting for reversion")
}

// breakout buys closes above the recent range high on expanding volume.
func (t *technical) breakout(tc *Context, prices []float64) *Signal {
	price := prices[len(prices)-1]
	lookback := tc.Candles[len(tc.Candles)-21 : len(tc.Candles)-1]
	rangeHigh := 0.0
	rangeLow := lookback[0].Low
	for _, c := range lookback {
		if c.High > rangeHigh {
			rangeHigh = c.High
		}
		if c.Low < rangeLow {
			rangeLow = c.Low
		}
	}

	if tc.Position == nil {
		if price > rangeHigh && volumeSpike(tc.Candles, 20, 1.8) {
			return &Signal{Action: ActionBuy, Confidence: 75,
				Reason: fmt.Sprintf("breakout above %.4f on volume", rangeHigh)}
		}
		return hold(fmt.Sprintf("inside range %.4f-%.4f", rangeLow, rangeHigh))
	}
	if price < rangeLow {
		return &Signal{Action: ActionSell, Confidence: 70,
			Reason: fmt.Sprintf("broke down below range low %.4f", rangeLow)}
	}
	return hold("breakout still running")
}

// conservative wants trend, momentum and RSI all agreeing before entering.
func (t *technical) conservative(tc *Context, prices []float64) *Signal {
	price := prices[len(prices)-1]
	sma50 := SMA(prices, 50)
	macd, signal, _ := MACD(prices)
	rsi := RSI(prices, 14)

	if tc.Position == nil {
		if price > sma50 && macd > signal && rsi > 45 && rsi < 65 {
			return &Signal{Action: ActionBuy, Confidence: 60,
				Reason: fmt.Sprintf("uptrend confirmed: price above SMA50, MACD cross, RSI %.1f", rsi)}
		}
		return hold("trend filters not aligned")
	}
	if price < sma50 && macd < signal {
		return &Signal{Action: ActionSell, Confidence: 60, Reason: "trend broken"}
	}
	return hold("trend intact")
}

// simpleProfitable is the EMA crossover baseline: golden cross in, death
// cross out.
func (t *technical) simpleProfitable(tc *Context, prices []float64) *Signal {
	emaFast := EMA(prices, 9)
	emaSlow := EMA(prices, 21)
	rsi := RSI(prices, 14)

	if tc.Position == nil {
		if emaFast > emaSlow && rsi < 70 {
			return &Signal{Action: ActionBuy, Confidence: 60,
				Reason: fmt.Sprintf("EMA9 %.4f above EMA21 %.4f", emaFast, emaSlow)}
		}
		return hold("no crossover")
	}
	if emaFast < emaSlow {
		return &Signal{Action: ActionSell, Confidence: 60, Reason: "EMA crossover down"}
	}
	return hold("crossover still bullish")
}

// enhanced scores several indicators and acts on the aggregate. High scores
// permit scaling into an existing position.
func (t *technical) enhanced(tc *Context, prices []float64) *Signal {
	price := prices[len(prices)-1]
	score := 0
	reasons := ""

	if rsi := RSI(prices, 14); rsi < 35 {
		score += 2
		reasons += fmt.Sprintf("RSI oversold %.1f; ", rsi)
	} else if rsi > 70 {
		score -= 2
		reasons += fmt.Sprintf("RSI overbought %.1f; ", rsi)
	}
	if macd, signal, hist := MACD(prices); macd > signal && hist > 0 {
		score++
		reasons += "MACD bullish; "
	} else if macd < signal {
		score--
		reasons += "MACD bearish; "
	}
	if sma20 := SMA(prices, 20); price > sma20 {
		score++
		reasons += "above SMA20; "
	} else {
		score--
		reasons += "below SMA20; "
	}
	if volumeSpike(tc.Candles, 20, 1.5) {
		score++
		reasons += "volume spike; "
	}

	confidence := 50 + score*10
	if confidence > 95 {
		confidence = 95
	}
	if confidence < 0 {
		confidence = 0
	}

	if tc.Position == nil {
		if score >= 3 {
			return &Signal{Action: ActionBuy, Confidence: confidence, Reason: reasons}
		}
		return hold(fmt.Sprintf("score %d too weak: %s", score, reasons))
	}
	if score <= -2 {
		return &Signal{Action: ActionSell, Confidence: confidence, Reason: reasons}
	}
	if score >= 4 {
		return &Signal{Action: ActionBuy, Confidence: confidence, AllowScaleIn: true,
			Reason: "strong confluence, scaling in: " + reasons}
	}
	return hold(fmt.Sprintf("score %d, holding: %s", score, reasons))
}

// momentum follows sustained directional moves.
func (t *technical) momentum(tc *Context, prices []float64) *Signal {
	mom := momentum(prices, 10)
	rsi := RSI(prices, 14)

	if tc.Position == nil {
		if mom > 2.0 && rsi < 70 {
			return &Signal{Action: ActionBuy, Confidence: 65,
				Reason: fmt.Sprintf("momentum %.2f%% over 10 candles", mom)}
		}
		return hold(fmt.Sprintf("momentum %.2f%% too weak", mom))
	}
	if mom < -1.0 {
		return &Signal{Action: ActionSell, Confidence: 65,
			Reason: fmt.Sprintf("momentum reversed to %.2f%%", mom)}
	}
	if mom > 4.0 && rsi < 65 {
		return &Signal{Action: ActionBuy, Confidence: 75, AllowScaleIn: true,
			Reason: fmt.Sprintf("momentum accelerating %.2f%%, scaling in", mom)}
	}
	return hold(fmt.Sprintf("momentum %.2f%% intact", mom))
}
