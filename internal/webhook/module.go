package webhook

import (
	"context"

	"go.uber.org/fx"

	"trade_engine/internal/gate"
	"trade_engine/internal/modules/config"
)

func Module() fx.Option {
	return fx.Module("webhook",
		fx.Provide(func(cfg *config.Config, g *gate.Gate) *Server {
			return New(g, cfg.Webhook.Addr)
		}),
		fx.Invoke(func(lc fx.Lifecycle, s *Server) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go s.Start()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return s.Stop(ctx)
				},
			})
		}),
	)
}
