package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"

	"trade_engine/internal/dispatch"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/health/service"
	"trade_engine/internal/notify"
	"trade_engine/internal/reconcile"
	"trade_engine/internal/statestore"
)

// summaryLoop pushes an operator-facing digest through the notifier so
// a quiet engine is distinguishable from a stuck one.
func summaryLoop(ctx context.Context, every time.Duration, state *service.State, store *statestore.Store, n notify.Notifier) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			legs, unverified := 0, 0
			strategies := store.Strategies()
			for _, name := range strategies {
				st := store.Get(name)
				legs += st.OpenLegCount()
				unverified += len(st.Unverified)
			}
			tickAge := "never"
			if t := state.LastTick(); !t.IsZero() {
				tickAge = time.Since(t).Round(time.Second).String()
			}
			n.Notifyf(notify.SevInfo, "health | strategies=%d legs=%d unverified=%d lastTick=%s",
				len(strategies), legs, unverified, tickAge)
		}
	}
}

func NewMux(state *service.State) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// ready only after the startup reconciliation has passed
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"ready":     state.Ready(),
			"uptimeSec": int64(state.Uptime().Seconds()),
			"lastTickUnix": func() int64 {
				t := state.LastTick()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		w.Header().Set("Content-Type", "application/json")
		buf, _ := sonic.Marshal(resp)
		_, _ = w.Write(buf)
	})

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux) {
	srv := &http.Server{
		Addr:              cfg.Health.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Health.Addr)
			if err != nil {
				return err
			}
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewMux,
		),
		fx.Invoke(RunHTTP),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, state *service.State, d *dispatch.Dispatcher,
			ready reconcile.Ready, store *statestore.Store, n notify.Notifier) {
			d.SetHeartbeat(state)
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						<-ready
						state.SetReady(true)
					}()
					if cfg.Health.SummaryEvery > 0 {
						go summaryLoop(ctx, cfg.Health.SummaryEvery, state, store, n)
					}
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
