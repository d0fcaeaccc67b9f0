// Package gate is the single admission point for orders. Every entry
// path — scheduler, watch loop, console, webhook, chat — converges here;
// nothing else talks to the broker.
package gate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"trade_engine/internal/broker"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/models"
	"trade_engine/internal/notify"
	"trade_engine/internal/statestore"
	"trade_engine/pkg/logger"

	"github.com/opentracing/opentracing-go"
)

type Status string

const (
	StatusApplied    Status = "applied"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
	StatusUnverified Status = "unverified"
)

type Outcome struct {
	Status  Status
	Reason  string
	OrderID string
}

// Directory answers whether a strategy name is registered. The
// dispatcher owns the registry; the gate only consults it.
type Directory interface {
	Known(strategy string) bool
}

type Config struct {
	DedupeWindow  time.Duration
	Cooldown      time.Duration
	VerifyTimeout time.Duration
	VerifyPoll    time.Duration

	MaxDailyLoss        float64
	MaxOpenPositions    int
	MaxConcurrentOrders int

	// Ready blocks admission until closed: nothing is admitted against
	// state the startup reconciliation has not yet checked. Nil means
	// already open.
	Ready <-chan struct{}
}

type Gate struct {
	cfg   Config
	store *statestore.Store
	brk   broker.Broker
	n     notify.Notifier
	m     *metrics.Metrics
	guard *Guard
	ver   *verifier

	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
	seen      map[string]time.Time // idempotency key -> admission time

	now func() time.Time
}

func New(cfg Config, store *statestore.Store, brk broker.Broker, dir Directory, n notify.Notifier, m *metrics.Metrics) *Gate {
	g := &Gate{
		cfg:       cfg,
		store:     store,
		brk:       brk,
		n:         n,
		m:         m,
		pairLocks: make(map[string]*sync.Mutex),
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}
	g.guard = newGuard(cfg, store, dir)
	g.ver = &verifier{brk: brk, timeout: cfg.VerifyTimeout, poll: cfg.VerifyPoll}
	return g
}

// Submit consumes one intent: builds the canonical command and routes it
// through SubmitCommand. Guard and validation failures come back
// synchronously.
func (g *Gate) Submit(ctx context.Context, in models.Intent) Outcome {
	if err := in.Validate(); err != nil {
		g.count(StatusRejected)
		return Outcome{Status: StatusRejected, Reason: err.Error()}
	}
	cmd, err := g.buildCommand(in)
	if err != nil {
		g.count(StatusRejected)
		return Outcome{Status: StatusRejected, Reason: err.Error()}
	}
	return g.SubmitCommand(ctx, cmd)
}

// SubmitCommand serializes by (strategy, instrument), deduplicates by
// idempotency key, runs the guard, submits and dual-verifies. The pair
// lock is held from guard evaluation through broker submission so two
// racing entry paths cannot both pass the guard.
func (g *Gate) SubmitCommand(ctx context.Context, cmd models.Command) Outcome {
	if !g.open() {
		g.count(StatusRejected)
		return Outcome{Status: StatusRejected, Reason: "startup reconciliation has not completed"}
	}
	if err := cmd.Validate(); err != nil {
		g.count(StatusRejected)
		return Outcome{Status: StatusRejected, Reason: err.Error()}
	}

	lock := g.pairLock(cmd.PairKey())
	lock.Lock()
	defer lock.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "gate.submit")
	span.SetTag("strategy", cmd.Strategy)
	span.SetTag("instrument", cmd.Instrument)
	span.SetTag("action", string(cmd.Action))
	defer span.Finish()

	out := g.admit(ctx, cmd)
	span.SetTag("outcome", string(out.Status))
	g.count(out.Status)
	return out
}

// open reports whether the startup reconciliation has released admissions.
func (g *Gate) open() bool {
	if g.cfg.Ready == nil {
		return true
	}
	select {
	case <-g.cfg.Ready:
		return true
	default:
		return false
	}
}

func (g *Gate) admit(ctx context.Context, cmd models.Command) Outcome {
	now := g.now()

	key := cmd.IdempotencyKey(now, g.cfg.DedupeWindow)
	g.mu.Lock()
	if at, ok := g.seen[key]; ok && now.Sub(at) < g.cfg.DedupeWindow {
		g.mu.Unlock()
		return Outcome{Status: StatusSuperseded, Reason: "duplicate within dedupe window"}
	}
	g.mu.Unlock()

	if err := g.guard.Check(ctx, cmd, now); err != nil {
		logger.Warn("[GATE] %s %s %s rejected: %v", cmd.Strategy, cmd.Instrument, cmd.Action, err)
		return Outcome{Status: StatusRejected, Reason: err.Error()}
	}

	// broker truth before the order, for verification and exit P&L
	prior, err := g.brk.GetPositions(ctx, cmd.Strategy)
	if err != nil {
		return Outcome{Status: StatusRejected, Reason: fmt.Sprintf("positions fetch: %v", err)}
	}
	exp := expectationFor(cmd, prior)

	g.guard.markInflight(cmd)
	defer g.guard.clearInflight(cmd)

	g.mu.Lock()
	g.seen[key] = now
	g.pruneSeenLocked(now)
	g.mu.Unlock()

	orderID, err := g.brk.SubmitOrder(ctx, cmd)
	if err != nil {
		// never reached the venue: a later retry is not a duplicate
		g.mu.Lock()
		delete(g.seen, key)
		g.mu.Unlock()
		return Outcome{Status: StatusRejected, Reason: fmt.Sprintf("broker submit: %v", err)}
	}

	res := g.ver.verify(ctx, cmd, orderID, exp)
	switch res.status {
	case verifyOK:
		g.guard.markCompleted(cmd, now)
		if err := g.applyFill(ctx, cmd, res, now); err != nil {
			// broker state is real even if the mirror write failed
			g.n.Notifyf(notify.SevCritical,
				"state save failed after verified fill %s %s: %v", cmd.Strategy, cmd.Instrument, err)
		}
		g.gauge(cmd.Strategy)
		return Outcome{Status: StatusApplied, OrderID: orderID}
	case verifyBrokerRejected:
		return Outcome{Status: StatusRejected, OrderID: orderID, Reason: res.reason}
	default:
		g.recordUnverified(ctx, cmd, orderID, now)
		g.n.Notifyf(notify.SevCritical,
			"unverified execution %s %s %s (order %s): left for reconciliation",
			cmd.Strategy, cmd.Instrument, cmd.Action, orderID)
		return Outcome{Status: StatusUnverified, OrderID: orderID,
			Reason: fmt.Sprintf("%v: %s", models.ErrUnverified, res.reason)}
	}
}

// buildCommand maps an intent onto a broker-agnostic command. Exits
// derive side and quantity from the believed-open leg.
func (g *Gate) buildCommand(in models.Intent) (models.Command, error) {
	cmd := models.Command{
		Strategy:   in.Strategy,
		Instrument: in.Instrument,
		Qty:        in.Qty,
		Kind:       models.OrderMarket,
		Price:      in.Price,
		Action:     in.Action,
		Origin:     in.Origin,
	}
	if in.Price > 0 {
		cmd.Kind = models.OrderLimit
	}

	switch in.Action {
	case models.ActionExit, models.ActionForceExit:
		st := g.store.Get(in.Strategy)
		leg, ok := st.Legs[in.Instrument]
		if !ok {
			return models.Command{}, fmt.Errorf("%w: no open leg for %s/%s",
				models.ErrMalformedIntent, in.Strategy, in.Instrument)
		}
		cmd.Side = leg.Side.Opposite()
		if cmd.Qty <= 0 || cmd.Qty > leg.Qty {
			cmd.Qty = leg.Qty
		}
	default:
		cmd.Side = in.Side
		if cmd.Side == models.SideNone {
			cmd.Side = models.SideBuy
		}
		if cmd.Qty <= 0 {
			return models.Command{}, fmt.Errorf("%w: %s without quantity",
				models.ErrMalformedIntent, in.Action)
		}
	}
	return cmd, nil
}

func (g *Gate) applyFill(ctx context.Context, cmd models.Command, res verifyResult, now time.Time) error {
	return g.store.Mutate(ctx, cmd.Strategy, func(st *models.ExecutionState) error {
		st.LastActionAt = now
		st.CooldownUntil[cmd.Instrument] = now.Add(g.cfg.Cooldown)

		switch cmd.Action {
		case models.ActionExit, models.ActionForceExit:
			leg, ok := st.Legs[cmd.Instrument]
			if !ok {
				return nil
			}
			exitPx := res.fillPrice
			if exitPx <= 0 {
				exitPx = leg.AvgPrice
			}
			pnl := (exitPx - leg.AvgPrice) * cmd.Qty
			if leg.Side == models.SideSell {
				pnl = -pnl
			}
			st.DayPnL += pnl
			if cmd.Qty >= leg.Qty-1e-9 {
				delete(st.Legs, cmd.Instrument)
			} else {
				leg.Qty -= cmd.Qty
			}

		default: // enter / adjust
			leg, ok := st.Legs[cmd.Instrument]
			if ok && leg.Side == cmd.Side {
				total := leg.Qty + cmd.Qty
				leg.AvgPrice = (leg.AvgPrice*leg.Qty + res.fillPrice*cmd.Qty) / total
				leg.Qty = total
			} else {
				st.Legs[cmd.Instrument] = &models.Leg{
					Instrument: cmd.Instrument,
					Side:       cmd.Side,
					Qty:        cmd.Qty,
					AvgPrice:   res.fillPrice,
					Stop:       cmd.Stop,
					Target:     cmd.Target,
					TrailDist:  cmd.TrailDist,
					Watermark:  res.fillPrice,
					OpenedAt:   now,
				}
			}
		}
		return nil
	})
}

func (g *Gate) recordUnverified(ctx context.Context, cmd models.Command, orderID string, now time.Time) {
	err := g.store.Mutate(ctx, cmd.Strategy, func(st *models.ExecutionState) error {
		st.Unverified[orderID] = models.UnverifiedOrder{
			OrderID:    orderID,
			Instrument: cmd.Instrument,
			Side:       cmd.Side,
			Qty:        cmd.Qty,
			Action:     cmd.Action,
			At:         now,
		}
		return nil
	})
	if err != nil {
		logger.Error("[GATE] recording unverified order %s: %v", orderID, err)
	}
}

func (g *Gate) pairLock(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.pairLocks[key]
	if !ok {
		l = &sync.Mutex{}
		g.pairLocks[key] = l
	}
	return l
}

func (g *Gate) pruneSeenLocked(now time.Time) {
	for k, at := range g.seen {
		if now.Sub(at) > 2*g.cfg.DedupeWindow {
			delete(g.seen, k)
		}
	}
}

func (g *Gate) count(s Status) {
	if g.m != nil {
		g.m.Commands.WithLabelValues(string(s)).Inc()
	}
}

func (g *Gate) gauge(strategy string) {
	if g.m == nil {
		return
	}
	st := g.store.Get(strategy)
	g.m.DayPnL.WithLabelValues(strategy).Set(st.DayPnL)
	g.m.OpenLegs.WithLabelValues(strategy).Set(float64(st.OpenLegCount()))
}

func qtyClose(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
