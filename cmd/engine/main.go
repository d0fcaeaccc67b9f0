package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"trade_engine/internal/broker"
	"trade_engine/internal/dispatch"
	"trade_engine/internal/gate"
	"trade_engine/internal/marketdata"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/health"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/modules/postgres"
	"trade_engine/internal/notify"
	"trade_engine/internal/reconcile"
	"trade_engine/internal/statestore"
	"trade_engine/internal/watch"
	"trade_engine/internal/webhook"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/tracing"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Invoke(bootstrap),
		postgres.Module(),
		metrics.Module(),
		notify.Module(),
		statestore.Module(),
		broker.Module(),
		marketdata.Module(),
		gate.Module(),
		fx.Invoke(restoreState),
		reconcile.Module(),
		watch.Module(),
		dispatch.Module(),
		webhook.Module(),
		health.Module(),
	)
	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
}

// bootstrap wires the process-wide bits every module assumes: the
// logger and, when enabled, the global tracer.
func bootstrap(lc fx.Lifecycle, cfg *config.Config) error {
	logger.SetServiceName(cfg.Service.Name)
	if err := logger.Init(cfg.Service.Debug); err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Sync()
			return nil
		},
	})

	if cfg.Tracing.Enabled {
		tracing.SetServiceName(cfg.Service.Name)
		_, closeTracer, err := tracing.InitTracer(tracing.Config{
			Host: cfg.Tracing.Host,
			Port: cfg.Tracing.Port,
		})
		if err != nil {
			return err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				closeTracer()
				return nil
			},
		})
	}
	return nil
}

// restoreState pulls every declared strategy's persisted execution
// state back in before any loop starts acting on it.
func restoreState(ctx context.Context, store *statestore.Store, strategies *config.StrategiesFile) error {
	for _, spec := range strategies.Strategies {
		if err := store.Load(ctx, spec.Name); err != nil {
			return err
		}
		st := store.Get(spec.Name)
		logger.Info("restored %s: %d open leg(s), day P&L %.2f", spec.Name, st.OpenLegCount(), st.DayPnL)
	}
	return nil
}
