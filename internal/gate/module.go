package gate

import (
	"context"

	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/notify"
	"trade_engine/internal/reconcile"
	"trade_engine/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("gate",
		fx.Provide(
			func(cfg *config.Config, ready reconcile.Ready) Config {
				return Config{
					DedupeWindow:        cfg.DedupeWindow(),
					Cooldown:            cfg.Gate.Cooldown,
					VerifyTimeout:       cfg.Gate.VerifyTimeout,
					VerifyPoll:          cfg.Gate.VerifyPoll,
					MaxDailyLoss:        cfg.Risk.MaxDailyLoss,
					MaxOpenPositions:    cfg.Risk.MaxOpenPositions,
					MaxConcurrentOrders: cfg.Risk.MaxConcurrentOrders,
					Ready:               ready,
				}
			},
			New,
		),
		// intake loop for channel-fed origins (chat commands)
		fx.Invoke(func(lc fx.Lifecycle, g *Gate, intents chan models.Intent, n notify.Notifier, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go func() {
						for {
							select {
							case <-ctx.Done():
								return
							case in := <-intents:
								out := g.Submit(ctx, in)
								logger.Info("[GATE] intent %s %s/%s from %s -> %s %s",
									in.Action, in.Strategy, in.Instrument, in.Origin, out.Status, out.Reason)
								if out.Status == StatusRejected {
									n.Notifyf(notify.SevWarn, "%s %s/%s rejected: %s",
										in.Action, in.Strategy, in.Instrument, out.Reason)
								}
							}
						}
					}()
					return nil
				},
			})
		}),
	)
}
