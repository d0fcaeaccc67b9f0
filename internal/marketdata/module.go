package marketdata

import (
	"context"
	"fmt"

	"trade_engine/internal/modules/config"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("marketdata",
		fx.Provide(
			NewCache,
			func(c *Cache) Feed { return c },
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, cache *Cache, ctx context.Context) error {
			var start func(context.Context)
			switch cfg.Feed.Mode {
			case "", "sim":
				start = NewSimFeed(cfg.Feed.Instruments, cache).Start
			case "ws":
				start = NewWSClient(cfg.Feed.URL, cfg.Feed.Instruments, cache).Start
			default:
				return fmt.Errorf("unknown feed mode %q", cfg.Feed.Mode)
			}
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go start(ctx)
					return nil
				},
			})
			return nil
		}),
	)
}
