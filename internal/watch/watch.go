// Package watch is the only component allowed to close a position
// without an external request. It arms stop, target and trailing levels
// on every believed-open leg and turns triggers into exit commands
// routed through the gate like everything else.
package watch

import (
	"context"
	"sync"
	"time"

	"trade_engine/internal/gate"
	"trade_engine/internal/marketdata"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/statestore"
	"trade_engine/pkg/logger"
)

type Phase int

const (
	PhaseArmed Phase = iota
	PhaseTriggerDetected
	PhaseExitSubmitted
	PhaseConfirmed
	PhaseFailed
)

type Submitter interface {
	SubmitCommand(ctx context.Context, cmd models.Command) gate.Outcome
}

type Loop struct {
	store *statestore.Store
	feed  marketdata.Feed
	g     Submitter
	n     notify.Notifier
	m     *metrics.Metrics
	tick  time.Duration

	mu     sync.Mutex
	phases map[string]Phase // strategy|instrument
}

func New(store *statestore.Store, feed marketdata.Feed, g Submitter, n notify.Notifier, m *metrics.Metrics, tick time.Duration) *Loop {
	return &Loop{
		store:  store,
		feed:   feed,
		g:      g,
		n:      n,
		m:      m,
		tick:   tick,
		phases: make(map[string]Phase),
	}
}

func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick evaluates every armed leg. Legs are independent: one leg's
// failed submission never blocks the others.
func (l *Loop) Tick(ctx context.Context) {
	live := make(map[string]struct{})
	for _, strategy := range l.store.Strategies() {
		st := l.store.Get(strategy)
		for inst, leg := range st.Legs {
			live[legKey(strategy, inst)] = struct{}{}
			l.evalLeg(ctx, strategy, *leg)
		}
	}
	l.prune(live)
}

func (l *Loop) evalLeg(ctx context.Context, strategy string, leg models.Leg) {
	key := legKey(strategy, leg.Instrument)
	if l.phase(key) == PhaseExitSubmitted {
		return // submission in flight, decided on its own goroutine
	}

	q, ok := l.feed.Latest(leg.Instrument)
	if !ok {
		return
	}

	// ratchet the trailing level before judging triggers
	if next, improved := Ratchet(leg, q.Price); improved {
		leg = next
		err := l.store.Mutate(ctx, strategy, func(st *models.ExecutionState) error {
			cur, ok := st.Legs[leg.Instrument]
			if !ok {
				return nil
			}
			// monotonic: apply only if still an improvement
			if n2, imp := Ratchet(*cur, q.Price); imp {
				st.Legs[leg.Instrument] = &n2
			}
			return nil
		})
		if err != nil {
			logger.Error("watch %s/%s trail save: %v", strategy, leg.Instrument, err)
		}
	}

	trig, hit := Trigger(leg, q.Price)
	if !hit {
		l.setPhase(key, PhaseArmed)
		return
	}

	l.setPhase(key, PhaseTriggerDetected)
	logger.Info("watch %s/%s %s triggered @ %.4f", strategy, leg.Instrument, trig, q.Price)

	cmd := models.Command{
		Strategy:   strategy,
		Instrument: leg.Instrument,
		Side:       leg.Side.Opposite(),
		Qty:        leg.Qty,
		Kind:       models.OrderMarket,
		Price:      q.Price, // fill hint for P&L
		Action:     models.ActionExit,
		Origin:     models.OriginWatch,
	}

	l.setPhase(key, PhaseExitSubmitted)
	go func() {
		out := l.g.SubmitCommand(ctx, cmd)
		switch out.Status {
		case gate.StatusApplied:
			l.setPhase(key, PhaseConfirmed)
			if l.m != nil {
				l.m.WatchExits.WithLabelValues(trig).Inc()
			}
			l.n.Notifyf(notify.SevInfo, "%s closed %s/%s qty %.2f @ %.4f",
				trig, strategy, leg.Instrument, leg.Qty, q.Price)
		case gate.StatusSuperseded:
			// someone else flattened the leg first; nothing left to do
			l.setPhase(key, PhaseConfirmed)
		default:
			// re-arm and retry next tick, never assume closed
			l.setPhase(key, PhaseFailed)
			l.n.Notifyf(notify.SevWarn, "exit %s/%s not confirmed (%s): retrying",
				strategy, leg.Instrument, out.Status)
		}
	}()
}

// Ratchet moves the trailing level in the favorable direction only.
// Returns the updated leg and whether anything improved.
func Ratchet(leg models.Leg, px float64) (models.Leg, bool) {
	if leg.TrailDist <= 0 || px <= 0 {
		return leg, false
	}
	improved := false

	if leg.Side == models.SideBuy {
		if px > leg.Watermark {
			leg.Watermark = px
			improved = true
		}
		cand := leg.Watermark - leg.TrailDist
		if cand > leg.Trail {
			leg.Trail = cand
			improved = true
		}
	} else {
		if leg.Watermark == 0 || px < leg.Watermark {
			leg.Watermark = px
			improved = true
		}
		cand := leg.Watermark + leg.TrailDist
		if leg.Trail == 0 || cand < leg.Trail {
			leg.Trail = cand
			improved = true
		}
	}
	return leg, improved
}

// Trigger reports whether the leg should be closed at this price and why.
func Trigger(leg models.Leg, px float64) (string, bool) {
	long := leg.Side == models.SideBuy
	if leg.Stop > 0 {
		if (long && px <= leg.Stop) || (!long && px >= leg.Stop) {
			return "stop_loss", true
		}
	}
	if leg.Target > 0 {
		if (long && px >= leg.Target) || (!long && px <= leg.Target) {
			return "target", true
		}
	}
	if leg.Trail > 0 {
		if (long && px <= leg.Trail) || (!long && px >= leg.Trail) {
			return "trailing_stop", true
		}
	}
	return "", false
}

func (l *Loop) phase(key string) Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phases[key]
}

func (l *Loop) setPhase(key string, p Phase) {
	l.mu.Lock()
	l.phases[key] = p
	l.mu.Unlock()
}

func (l *Loop) prune(live map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, p := range l.phases {
		if _, ok := live[k]; !ok && p != PhaseExitSubmitted {
			delete(l.phases, k)
		}
	}
}

func legKey(strategy, instrument string) string { return strategy + "|" + instrument }
