// Package dispatch owns the main decision tick: it hands each
// registered strategy a market snapshot and routes every proposed
// command through the gate, one at a time.
package dispatch

import (
	"context"
	"sync"
	"time"

	"trade_engine/internal/gate"
	"trade_engine/internal/marketdata"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/reconcile"
	"trade_engine/internal/statestore"
	"trade_engine/pkg/logger"
)

type Submitter interface {
	SubmitCommand(ctx context.Context, cmd models.Command) gate.Outcome
}

// Heartbeat is poked once per completed tick.
type Heartbeat interface {
	TouchTick(t time.Time)
}

type Dispatcher struct {
	reg   *Registry
	store *statestore.Store
	cache *marketdata.Cache
	g     Submitter
	n     notify.Notifier
	m     *metrics.Metrics

	tick      time.Duration
	staleness time.Duration
	budget    time.Duration

	mu       sync.Mutex
	paused   map[string]bool
	lastLegs map[string]map[string]struct{}
	heart    Heartbeat
	now      func() time.Time
}

func (d *Dispatcher) SetHeartbeat(h Heartbeat) { d.heart = h }

func New(reg *Registry, store *statestore.Store, cache *marketdata.Cache, g Submitter, n notify.Notifier, m *metrics.Metrics, tick, staleness, budget time.Duration) *Dispatcher {
	return &Dispatcher{
		reg:       reg,
		store:     store,
		cache:     cache,
		g:         g,
		n:         n,
		m:         m,
		tick:      tick,
		staleness: staleness,
		budget:    budget,
		paused:    make(map[string]bool),
		lastLegs:  make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

// Run waits for the startup reconciliation and then ticks until the
// context is canceled. No command leaves before the books agree.
func (d *Dispatcher) Run(ctx context.Context, ready reconcile.Ready) {
	select {
	case <-ctx.Done():
		return
	case <-ready:
	}
	logger.Info("dispatcher started, tick %s", d.tick)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.TickOnce(ctx)
		}
	}
}

// TickOnce runs one decision pass over every registered strategy. A
// panicking strategy loses its turn, never the whole engine.
func (d *Dispatcher) TickOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	for _, s := range d.reg.All() {
		if ctx.Err() != nil {
			logger.Error("dispatch tick out of budget at %s", s.Name())
			return
		}
		d.tickStrategy(ctx, s)
	}
	if d.heart != nil {
		d.heart.TouchTick(d.now())
	}
}

func (d *Dispatcher) tickStrategy(ctx context.Context, s Strategy) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("strategy %s panicked: %v", s.Name(), r)
			d.n.Notifyf(notify.SevCritical, "strategy %s panicked and was skipped this tick", s.Name())
		}
	}()

	now := d.now()
	if !s.Active(now) {
		return
	}

	// staleness only matters inside the trading window: a quiet feed
	// overnight is expected, not an incident
	snap := d.cache.Snapshot(s.Instruments())
	if inst, stale := d.staleInstrument(s, snap, now); stale {
		d.pause(s.Name(), inst)
		return
	}
	d.resume(s.Name())

	st := d.store.Get(s.Name())
	d.noticeClosedLegs(ctx, s, st)
	if day := now.Format("2006-01-02"); st.SessionDate != day {
		if err := d.store.ResetSession(ctx, s.Name(), day); err != nil {
			logger.Error("session reset %s: %v", s.Name(), err)
		} else {
			logger.Info("strategy %s: new session %s, day P&L reset", s.Name(), day)
			st = d.store.Get(s.Name())
		}
	}

	for _, cmd := range s.Decide(ctx, snap, st) {
		out := d.g.SubmitCommand(ctx, cmd)
		logger.Info("dispatch %s %s %s/%s qty %.2f: %s",
			cmd.Origin, cmd.Action, cmd.Strategy, cmd.Instrument, cmd.Qty, out.Status)
	}
}

// noticeClosedLegs fires the strategy's OnExit hook for every leg that
// was open last tick and is gone now, regardless of who closed it.
func (d *Dispatcher) noticeClosedLegs(ctx context.Context, s Strategy, st *models.ExecutionState) {
	cur := make(map[string]struct{}, len(st.Legs))
	for inst := range st.Legs {
		cur[inst] = struct{}{}
	}

	d.mu.Lock()
	prev := d.lastLegs[s.Name()]
	d.lastLegs[s.Name()] = cur
	d.mu.Unlock()

	for inst := range prev {
		if _, still := cur[inst]; !still {
			s.OnExit(ctx, inst)
		}
	}
}

// staleInstrument reports the first instrument whose quote is missing
// or older than the staleness ceiling.
func (d *Dispatcher) staleInstrument(s Strategy, snap models.Snapshot, now time.Time) (string, bool) {
	for _, inst := range s.Instruments() {
		q, ok := snap.Quotes[inst]
		if !ok || q.StalerThan(d.staleness, now) {
			return inst, true
		}
	}
	return "", false
}

func (d *Dispatcher) pause(name, inst string) {
	d.mu.Lock()
	already := d.paused[name]
	d.paused[name] = true
	d.mu.Unlock()
	if already {
		return
	}
	if d.m != nil {
		d.m.StalePauses.Inc()
	}
	d.n.Notifyf(notify.SevWarn, "strategy %s paused: %v on %s", name, models.ErrStaleData, inst)
}

func (d *Dispatcher) resume(name string) {
	d.mu.Lock()
	wasPaused := d.paused[name]
	delete(d.paused, name)
	d.mu.Unlock()
	if wasPaused {
		d.n.Notifyf(notify.SevInfo, "strategy %s resumed: market data fresh again", name)
	}
}
