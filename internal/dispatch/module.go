package dispatch

import (
	"context"

	"go.uber.org/fx"

	"trade_engine/internal/gate"
	"trade_engine/internal/marketdata"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/reconcile"
	"trade_engine/internal/statestore"
	"trade_engine/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("dispatch",
		fx.Provide(
			func(strategies *config.StrategiesFile) *Registry {
				reg := NewRegistry()
				for _, spec := range strategies.Strategies {
					reg.Register(NewRuleStrategy(spec))
					logger.Info("registered strategy %s (%d instruments)", spec.Name, len(spec.Instruments))
				}
				return reg
			},
			func(r *Registry) gate.Directory { return r },
			func(r *Registry) reconcile.Roster { return r },
			func(cfg *config.Config, reg *Registry, store *statestore.Store, cache *marketdata.Cache, g *gate.Gate, n notify.Notifier, m *metrics.Metrics) *Dispatcher {
				return New(reg, store, cache, g, n, m,
					cfg.Dispatch.Tick, cfg.Dispatch.Staleness, cfg.Dispatch.TickBudget)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, d *Dispatcher, ready reconcile.Ready) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go d.Run(ctx, ready)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
