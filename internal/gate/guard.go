package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trade_engine/internal/models"
	"trade_engine/internal/statestore"
)

// Guard runs three independent checks before any command may reach the
// broker: authorization, duplicate-suppression, risk limits. Checks are
// ordered cheapest first and short-circuit on the first failure.
type Guard struct {
	cfg   Config
	store *statestore.Store
	dir   Directory

	mu       sync.Mutex
	inflight map[string]struct{} // strategy|instrument|action
	recent   map[string]time.Time
}

type guardReq struct {
	cmd models.Command
	st  *models.ExecutionState
	now time.Time
}

type check struct {
	name string
	fn   func(g *Guard, r *guardReq) error
}

var checks = []check{
	{"authorization", (*Guard).authorize},
	{"duplicate", (*Guard).suppressDuplicate},
	{"risk", (*Guard).riskLimits},
}

func newGuard(cfg Config, store *statestore.Store, dir Directory) *Guard {
	return &Guard{
		cfg:      cfg,
		store:    store,
		dir:      dir,
		inflight: make(map[string]struct{}),
		recent:   make(map[string]time.Time),
	}
}

func (g *Guard) Check(_ context.Context, cmd models.Command, now time.Time) error {
	r := &guardReq{cmd: cmd, st: g.store.Get(cmd.Strategy), now: now}
	for _, c := range checks {
		if err := c.fn(g, r); err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrRejectedByGuard, c.name, err)
		}
	}
	return nil
}

func (g *Guard) authorize(r *guardReq) error {
	if g.dir == nil || !g.dir.Known(r.cmd.Strategy) {
		return fmt.Errorf("strategy %q is not registered", r.cmd.Strategy)
	}
	// chat may only flatten, never open
	if r.cmd.Origin == models.OriginChat &&
		r.cmd.Action != models.ActionExit && r.cmd.Action != models.ActionForceExit {
		return fmt.Errorf("origin %q may not %s", r.cmd.Origin, r.cmd.Action)
	}
	return nil
}

func (g *Guard) suppressDuplicate(r *guardReq) error {
	key := actionKey(r.cmd)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[key]; ok {
		return fmt.Errorf("command already in flight for %s", key)
	}
	if at, ok := g.recent[key]; ok && r.now.Sub(at) < g.cfg.Cooldown {
		return fmt.Errorf("completed %s ago, cooldown %s", r.now.Sub(at), g.cfg.Cooldown)
	}
	if r.cmd.Action == models.ActionEnter && r.st.InCooldown(r.cmd.Instrument, r.now) {
		return fmt.Errorf("instrument %s cooling down", r.cmd.Instrument)
	}
	return nil
}

func (g *Guard) riskLimits(r *guardReq) error {
	// exits reduce exposure and are never blocked by risk limits
	if r.cmd.Action == models.ActionExit || r.cmd.Action == models.ActionForceExit {
		return nil
	}
	if g.cfg.MaxDailyLoss > 0 && r.st.DayPnL <= -g.cfg.MaxDailyLoss {
		return fmt.Errorf("daily loss limit hit (%.2f)", r.st.DayPnL)
	}
	if g.cfg.MaxOpenPositions > 0 && r.st.OpenLegCount() >= g.cfg.MaxOpenPositions {
		return fmt.Errorf("max open positions (%d)", g.cfg.MaxOpenPositions)
	}
	g.mu.Lock()
	n := len(g.inflight)
	g.mu.Unlock()
	if g.cfg.MaxConcurrentOrders > 0 && n >= g.cfg.MaxConcurrentOrders {
		return fmt.Errorf("max concurrent orders (%d)", g.cfg.MaxConcurrentOrders)
	}
	return nil
}

func (g *Guard) markInflight(cmd models.Command) {
	g.mu.Lock()
	g.inflight[actionKey(cmd)] = struct{}{}
	g.mu.Unlock()
}

func (g *Guard) clearInflight(cmd models.Command) {
	g.mu.Lock()
	delete(g.inflight, actionKey(cmd))
	g.mu.Unlock()
}

// markCompleted starts the cooldown clock; only verified executions
// count, a failed submission may be retried immediately.
func (g *Guard) markCompleted(cmd models.Command, now time.Time) {
	g.mu.Lock()
	g.recent[actionKey(cmd)] = now
	g.mu.Unlock()
}

func actionKey(cmd models.Command) string {
	return cmd.Strategy + "|" + cmd.Instrument + "|" + string(cmd.Action)
}
