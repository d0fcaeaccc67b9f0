// Package metrics exposes the engine's Prometheus counters at /metrics
// on the admin port.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// engine_commands_total{outcome} — applied|rejected|superseded|unverified
	Commands *prometheus.CounterVec
	// engine_reconcile_repairs_total{kind} — phantom|orphan|mismatch
	ReconcileRepairs *prometheus.CounterVec
	// engine_watch_exits_total{trigger} — stop_loss|target|trailing_stop
	WatchExits *prometheus.CounterVec

	StalePauses prometheus.Counter
	DayPnL      *prometheus.GaugeVec
	OpenLegs    *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_commands_total",
				Help: "Gate submissions by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileRepairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_reconcile_repairs_total",
				Help: "Reconciliation repairs by verdict kind",
			},
			[]string{"kind"},
		),
		WatchExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_watch_exits_total",
				Help: "Autonomous exits by trigger",
			},
			[]string{"trigger"},
		),
		StalePauses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_stale_pauses_total",
				Help: "Strategies auto-paused on stale market data",
			},
		),
		DayPnL: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_day_pnl",
				Help: "Realized P&L for the trading day",
			},
			[]string{"strategy"},
		),
		OpenLegs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_open_legs",
				Help: "Believed-open legs per strategy",
			},
			[]string{"strategy"},
		),
	}
	reg.MustRegister(
		m.Commands, m.ReconcileRepairs, m.WatchExits,
		m.StalePauses, m.DayPnL, m.OpenLegs,
	)
	return m
}

// Nop returns metrics bound to a throwaway registry, for tests.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
