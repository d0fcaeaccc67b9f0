package broker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"trade_engine/internal/marketdata"
	"trade_engine/internal/modules/config"
)

func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(
			func(cfg *config.Config) (Broker, error) {
				switch cfg.Broker.Mode {
				case "", "sim":
					return NewSim(cfg.Broker.FillDelay), nil
				default:
					return nil, fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
				}
			},
		),
		// the paper broker fills against the live feed
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, brk Broker, feed marketdata.Feed, ctx context.Context) {
			sim, ok := brk.(*Sim)
			if !ok {
				return
			}
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go markLoop(ctx, sim, feed, cfg.Feed.Instruments)
					return nil
				},
			})
		}),
	)
}

func markLoop(ctx context.Context, sim *Sim, feed marketdata.Feed, instruments []string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, inst := range instruments {
				if q, ok := feed.Latest(inst); ok {
					sim.MarkPrice(inst, q.Price)
				}
			}
		}
	}
}
