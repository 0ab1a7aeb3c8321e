// Package metrics exposes fleet health on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the fleet.
type Metrics struct {
	BotsRunning      prometheus.Gauge
	TicksTotal       *prometheus.CounterVec
	TradesTotal      *prometheus.CounterVec
	TradeErrors      prometheus.Counter
	RealizedPnL      prometheus.Gauge
	NewsFetches      *prometheus.CounterVec
	NewsBudgetSpent  prometheus.Gauge
	AICallsTotal     prometheus.Counter
	OpenPositions    prometheus.Gauge
	ExchangeRequests *prometheus.CounterVec
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BotsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_bots_running",
			Help: "Number of bots currently in running state",
		}),
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_ticks_total",
			Help: "Worker ticks executed, by strategy kind",
		}, []string{"strategy"}),
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_trades_total",
			Help: "Orders filled, by side",
		}, []string{"side"}),
		TradeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleet_trade_errors_total",
			Help: "Order placements that returned an error",
		}),
		RealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_realized_pnl_usdt",
			Help: "Cumulative realized PnL across all bots in USDT",
		}),
		NewsFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_news_fetches_total",
			Help: "News provider fetches, by provider",
		}, []string{"provider"}),
		NewsBudgetSpent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_news_budget_spent",
			Help: "Paid news API calls made today",
		}),
		AICallsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleet_ai_calls_total",
			Help: "LLM completion calls attempted",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_open_positions",
			Help: "Bots currently holding a position",
		}),
		ExchangeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_exchange_requests_total",
			Help: "Exchange REST calls, by operation",
		}, []string{"op"}),
	}
}
