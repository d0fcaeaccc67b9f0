package metrics

import (
	"context"
	"fmt"
	"net/http"

	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(
			func() *prometheus.Registry { return prometheus.NewRegistry() },
			func(reg *prometheus.Registry) prometheus.Registerer { return reg },
			New,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry) {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Service.AdminPort),
				Handler: mux,
			}
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go func() {
						if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							logger.Error("metrics server: %v", err)
						}
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return srv.Shutdown(ctx)
				},
			})
		}),
	)
}
