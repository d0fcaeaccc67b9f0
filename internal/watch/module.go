package watch

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
	return fx.Module("watch",
		fx.Provide(func(cfg *config.Config, store *statestore.Store, feed marketdata.Feed, g *gate.Gate, n notify.Notifier, m *metrics.Metrics) *Loop {
			return New(store, feed, g, n, m, cfg.Watch.Tick)
		}),
		fx.Invoke(func(lc fx.Lifecycle, l *Loop, ready reconcile.Ready) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						<-ready // positions believed-open must be trued up first
						logger.Info("watch loop started")
						l.Run(ctx)
					}()
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
