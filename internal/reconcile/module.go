package reconcile

import (
	"context"

	"go.uber.org/fx"

	"trade_engine/internal/broker"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/statestore"
)

func Module() fx.Option {
	return fx.Module("reconcile",
		fx.Provide(
			func(cfg *config.Config, store *statestore.Store, brk broker.Broker, roster Roster, n notify.Notifier, m *metrics.Metrics) *Loop {
				return New(store, brk, roster, n, m, cfg.Reconcile.Interval, cfg.Reconcile.Budget)
			},
			func(l *Loop) Ready { return l.Ready() },
		),
		fx.Invoke(func(lc fx.Lifecycle, l *Loop) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go l.Run(ctx)
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
