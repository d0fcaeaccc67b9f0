package notify

import (
	"context"

	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"

	"go.uber.org/fx"
)

func newIntentsChan() chan models.Intent { return make(chan models.Intent, 256) }

func asSendOnlyIntents(ch chan models.Intent) chan<- models.Intent { return ch }

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			newIntentsChan,    // chan models.Intent
			asSendOnlyIntents, // chan<- models.Intent
			func(cfg *config.Config, intents chan<- models.Intent) Notifier {
				if cfg.Telegram.Token == "" {
					return NewStdout()
				}
				t, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, intents)
				if err != nil {
					logger.Error("telegram init failed, falling back to stdout: %v", err)
					return NewStdout()
				}
				return t
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, n Notifier, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					if t, ok := n.(*Telegram); ok {
						t.Start(ctx)
					}
					return nil
				},
			})
		}),
	)
}
