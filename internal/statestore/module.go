package statestore

import (
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/db"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("statestore",
		fx.Provide(
			func(cfg *config.Config, tm *db.PgTxManager) Persister {
				if cfg.DB == "" || tm == nil {
					return NopPersister{}
				}
				return NewPgPersister(tm)
			},
			New,
		),
	)
}
