// Package metrics exposes portfolio state as Prometheus metrics.
package metrics

import (
	"net/http"

	"crypto-portfolio-bot/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of one bot instance.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	AvailableCash  prometheus.Gauge
	TotalValue     prometheus.Gauge
	TotalROI       prometheus.Gauge
	WinRate        prometheus.Gauge
	RealizedProfit prometheus.Gauge
	UnrealizedPnL  prometheus.Gauge
	OpenPositions  prometheus.Gauge
	ClosedTrades   prometheus.Gauge

	TicksTotal          prometheus.Counter
	TriggersTotal       *prometheus.CounterVec // labels: type, tier
	RejectedOpensTotal  *prometheus.CounterVec // labels: reason
	PersistenceFailures prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics registers every collector on a private registry so that several
// instances (one per test, or per bot) never collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		AvailableCash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_available_cash",
			Help: "Spendable virtual cash",
		}),
		TotalValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_total_value",
			Help: "Cash plus market value of open positions",
		}),
		TotalROI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_total_roi",
			Help: "(total value - initial capital) / initial capital",
		}),
		WinRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_win_rate",
			Help: "Fraction of closed trades with positive roi",
		}),
		RealizedProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_realized_profit",
			Help: "Sum of profit over closed trades",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_unrealized_pnl",
			Help: "Unrealized profit and loss of open positions",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_open_positions",
			Help: "Number of open positions",
		}),
		ClosedTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_closed_trades",
			Help: "Number of closed trade records",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_ticks_total",
			Help: "Price ticks applied to the portfolio",
		}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_triggers_total",
			Help: "Automatic exits by type and tier",
		}, []string{"type", "tier"}),
		RejectedOpensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_rejected_opens_total",
			Help: "Rejected open requests by reason",
		}, []string{"reason"}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_persistence_failures_total",
			Help: "Failed state saves",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.AvailableCash, m.TotalValue, m.TotalROI, m.WinRate,
		m.RealizedProfit, m.UnrealizedPnL, m.OpenPositions, m.ClosedTrades,
		m.TicksTotal, m.TriggersTotal, m.RejectedOpensTotal, m.PersistenceFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStats copies the aggregate portfolio view into the gauges.
func (m *Metrics) ObserveStats(s models.PortfolioStats) {
	if m == nil {
		return
	}
	m.AvailableCash.Set(s.AvailableCash.InexactFloat64())
	m.TotalValue.Set(s.TotalValue.InexactFloat64())
	m.TotalROI.Set(s.TotalROI.InexactFloat64())
	m.WinRate.Set(s.WinRate.InexactFloat64())
	m.RealizedProfit.Set(s.RealizedProfit.InexactFloat64())
	m.UnrealizedPnL.Set(s.UnrealizedPnL.InexactFloat64())
	m.OpenPositions.Set(float64(s.OpenCount))
	m.ClosedTrades.Set(float64(s.ClosedCount))
}

// RecordTick counts one applied tick and its triggers.
func (m *Metrics) RecordTick(events []models.TriggerEvent) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	for _, ev := range events {
		m.TriggersTotal.WithLabelValues(string(ev.Type), ev.Tier).Inc()
	}
}

// RecordRejection counts a rejected open.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.RejectedOpensTotal.WithLabelValues(reason).Inc()
}

// RecordPersistenceFailure counts a failed save.
func (m *Metrics) RecordPersistenceFailure() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}
