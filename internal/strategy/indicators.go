package strategy

import (
	"math"

	"binance-bot-fleet/internal/exchange"
)

// ==== PRICE SERIES HELPERS ====

func closes(candles []exchange.Kline) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// SMA returns the simple moving average over the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average over the last period values.
func EMA(values []float64, period int) float64 {
	series := emaSeries(values, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// emaSeries computes the full EMA series, seeded with the SMA of the first
// period values. The result has len(values)-period+1 points.
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	mult := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	ema := SMA(values[:period], period)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = (v-ema)*mult + ema
		out = append(out, ema)
	}
	return out
}

// RSI returns the relative strength index using Wilder's smoothing.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50
	}
	gains, losses := 0.0, 0.0
	for i := len(values) - period; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the MACD line, signal line and histogram using the standard
// 12/26/9 parameters. The signal line is a real EMA over the MACD series,
// not a shortcut over raw prices.
func MACD(values []float64) (macd, signal, histogram float64) {
	const (
		fastPeriod   = 12
		slowPeriod   = 26
		signalPeriod = 9
	)
	if len(values) < slowPeriod+signalPeriod {
		return 0, 0, 0
	}
	fast := emaSeries(values, fastPeriod)
	slow := emaSeries(values, slowPeriod)

	// Align the two series on their tails.
	n := len(slow)
	macdLine := make([]float64, n)
	for i := 0; i < n; i++ {
		macdLine[i] = fast[len(fast)-n+i] - slow[i]
	}
	sigSeries := emaSeries(macdLine, signalPeriod)
	if len(sigSeries) == 0 {
		return macdLine[n-1], 0, macdLine[n-1]
	}
	macd = macdLine[n-1]
	signal = sigSeries[len(sigSeries)-1]
	return macd, signal, macd - signal
}

// Bollinger returns the middle band (SMA), upper and lower bands at two
// standard deviations.
func Bollinger(values []float64, period int) (middle, upper, lower float64) {
	if period <= 0 || len(values) < period {
		return 0, 0, 0
	}
	middle = SMA(values, period)
	variance := 0.0
	for _, v := range values[len(values)-period:] {
		d := v - middle
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(period))
	return middle, middle + 2*stddev, middle - 2*stddev
}

// ATR returns the average true range over period candles.
func ATR(candles []exchange.Kline, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		sum += tr
	}
	return sum / float64(period)
}

// avgVolume returns the mean volume of the last period candles.
func avgVolume(candles []exchange.Kline, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Volume
	}
	return sum / float64(period)
}

// volumeSpike reports whether the latest candle's volume exceeds the
// trailing average by the given ratio.
func volumeSpike(candles []exchange.Kline, period int, ratio float64) bool {
	if len(candles) < period+1 {
		return false
	}
	avg := avgVolume(candles[:len(candles)-1], period)
	if avg == 0 {
		return false
	}
	return candles[len(candles)-1].Volume >= avg*ratio
}

// momentum returns the percent price change over the last n candles.
func momentum(values []float64, n int) float64 {
	if n <= 0 || len(values) < n+1 {
		return 0
	}
	past := values[len(values)-1-n]
	if past == 0 {
		return 0
	}
	return (values[len(values)-1] - past) / past * 100
}
