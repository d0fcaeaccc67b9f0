// Package reconcile trues the local execution state up against the
// broker's live book. The broker book is authoritative: every
// disagreement is repaired toward it and alerted exactly once.
package reconcile

import (
	"context"
	"math"
	"sort"
	"time"

	"trade_engine/internal/broker"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/statestore"
	"trade_engine/pkg/logger"
)

const qtyEps = 1e-9

// Ready is closed once the startup pass has finished. Components that
// act on believed positions wait on it before their first tick.
type Ready <-chan struct{}

// Roster names the strategies worth reconciling even before they have
// any persisted state.
type Roster interface {
	Names() []string
}

// Classify compares one strategy's believed legs against the broker
// book and returns one verdict per disagreeing instrument.
func Classify(strategy string, legs map[string]*models.Leg, book []models.Position) []models.Verdict {
	byInst := make(map[string]models.Position, len(book))
	for _, p := range book {
		if p.Qty > qtyEps {
			byInst[p.Instrument] = p
		}
	}

	var out []models.Verdict
	for inst, leg := range legs {
		pos, held := byInst[inst]
		switch {
		case !held:
			out = append(out, models.Verdict{
				Strategy: strategy, Instrument: inst,
				Kind: models.VerdictPhantom, LocalQty: leg.Qty,
			})
		case pos.Side != leg.Side || math.Abs(pos.Qty-leg.Qty) > qtyEps:
			out = append(out, models.Verdict{
				Strategy: strategy, Instrument: inst,
				Kind:     models.VerdictMismatch,
				LocalQty: leg.Qty, BrokerQty: pos.Qty,
				BrokerSide: pos.Side, BrokerAvg: pos.AvgPrice,
			})
		}
		delete(byInst, inst)
	}
	for inst, pos := range byInst {
		out = append(out, models.Verdict{
			Strategy: strategy, Instrument: inst,
			Kind:      models.VerdictOrphan,
			BrokerQty: pos.Qty, BrokerSide: pos.Side, BrokerAvg: pos.AvgPrice,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

type Loop struct {
	store    *statestore.Store
	brk      broker.Broker
	roster   Roster
	n        notify.Notifier
	m        *metrics.Metrics
	interval time.Duration
	budget   time.Duration

	ready chan struct{}
	now   func() time.Time
}

func New(store *statestore.Store, brk broker.Broker, roster Roster, n notify.Notifier, m *metrics.Metrics, interval, budget time.Duration) *Loop {
	return &Loop{
		store:    store,
		brk:      brk,
		roster:   roster,
		n:        n,
		m:        m,
		interval: interval,
		budget:   budget,
		ready:    make(chan struct{}),
		now:      time.Now,
	}
}

func (l *Loop) Ready() Ready { return l.ready }

// Run performs the unconditional startup pass, unblocks waiters, then
// reconciles periodically until the context is canceled.
func (l *Loop) Run(ctx context.Context) {
	l.Pass(ctx)
	close(l.ready)
	logger.Info("startup reconciliation complete")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Pass(ctx)
		}
	}
}

// Pass reconciles every known strategy inside the cycle budget.
func (l *Loop) Pass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, l.budget)
	defer cancel()

	for _, strategy := range l.strategies() {
		if ctx.Err() != nil {
			logger.Error("reconcile pass ran out of budget at %s", strategy)
			return
		}
		l.reconcileStrategy(ctx, strategy)
	}
}

func (l *Loop) reconcileStrategy(ctx context.Context, strategy string) {
	book, err := l.brk.GetPositions(ctx, strategy)
	if err != nil {
		logger.Error("reconcile %s: broker book unavailable: %v", strategy, err)
		return
	}

	st := l.store.Get(strategy)
	verdicts := Classify(strategy, st.Legs, book)
	for _, v := range verdicts {
		if err := l.repair(ctx, v); err != nil {
			logger.Error("reconcile %s/%s %s repair: %v", v.Strategy, v.Instrument, v.Kind, err)
			continue
		}
		if l.m != nil {
			l.m.ReconcileRepairs.WithLabelValues(string(v.Kind)).Inc()
		}
		l.alert(v)
	}
	if l.m != nil && len(verdicts) > 0 {
		l.m.OpenLegs.WithLabelValues(strategy).Set(float64(l.store.Get(strategy).OpenLegCount()))
	}

	l.resolveUnverified(ctx, strategy)
}

// repair mutates local state toward the broker book, one verdict at a
// time so a failed save never loses sibling repairs.
func (l *Loop) repair(ctx context.Context, v models.Verdict) error {
	return l.store.Mutate(ctx, v.Strategy, func(st *models.ExecutionState) error {
		switch v.Kind {
		case models.VerdictPhantom:
			delete(st.Legs, v.Instrument)
		case models.VerdictOrphan:
			st.Legs[v.Instrument] = &models.Leg{
				Instrument: v.Instrument,
				Side:       v.BrokerSide,
				Qty:        v.BrokerQty,
				AvgPrice:   v.BrokerAvg,
				OpenedAt:   l.now(),
			}
		case models.VerdictMismatch:
			leg, ok := st.Legs[v.Instrument]
			if !ok {
				return nil // closed between classify and repair
			}
			leg.Side = v.BrokerSide
			leg.Qty = v.BrokerQty
			leg.AvgPrice = v.BrokerAvg
		}
		return nil
	})
}

func (l *Loop) alert(v models.Verdict) {
	switch v.Kind {
	case models.VerdictPhantom:
		l.n.Notifyf(notify.SevWarn, "phantom position cleared: %s/%s local qty %.2f, broker flat",
			v.Strategy, v.Instrument, v.LocalQty)
	case models.VerdictOrphan:
		l.n.Notifyf(notify.SevCritical, "orphan position adopted unprotected: %s/%s %s qty %.2f @ %.4f",
			v.Strategy, v.Instrument, v.BrokerSide, v.BrokerQty, v.BrokerAvg)
	case models.VerdictMismatch:
		l.n.Notifyf(notify.SevWarn, "position mismatch resynced: %s/%s local %.2f -> broker %.2f",
			v.Strategy, v.Instrument, v.LocalQty, v.BrokerQty)
	}
}

// resolveUnverified retires unverified-order records whose terminal
// status the broker can now report. The position book itself was just
// repaired, so a resolved record needs no further action.
func (l *Loop) resolveUnverified(ctx context.Context, strategy string) {
	st := l.store.Get(strategy)
	if len(st.Unverified) == 0 {
		return
	}

	resolved := make([]string, 0, len(st.Unverified))
	for id := range st.Unverified {
		status, err := l.brk.GetOrderStatus(ctx, id)
		if err != nil || status == models.StatusPending {
			continue
		}
		resolved = append(resolved, id)
	}
	if len(resolved) == 0 {
		return
	}

	err := l.store.Mutate(ctx, strategy, func(st *models.ExecutionState) error {
		for _, id := range resolved {
			delete(st.Unverified, id)
		}
		return nil
	})
	if err != nil {
		logger.Error("reconcile %s: clearing unverified: %v", strategy, err)
		return
	}
	logger.Info("reconcile %s: %d unverified order(s) resolved", strategy, len(resolved))
}

func (l *Loop) strategies() []string {
	seen := make(map[string]struct{})
	var out []string
	if l.roster != nil {
		for _, name := range l.roster.Names() {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, name := range l.store.Strategies() {
		if _, ok := seen[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
