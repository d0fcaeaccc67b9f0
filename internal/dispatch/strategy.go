package dispatch

import (
	"context"
	"fmt"
	"time"

	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/rules"
	"trade_engine/pkg/logger"
)

// RuleStrategy turns a declared strategy spec into a decision hook.
// Entry and exit rules are first-wins, adjustment rules co-fire.
type RuleStrategy struct {
	spec config.StrategySpec
}

func NewRuleStrategy(spec config.StrategySpec) *RuleStrategy {
	return &RuleStrategy{spec: spec}
}

func (s *RuleStrategy) Name() string          { return s.spec.Name }
func (s *RuleStrategy) Instruments() []string { return s.spec.Instruments }

// OnExit — rule strategies keep no per-position state beyond what the
// store holds, so a closed leg only gets logged.
func (s *RuleStrategy) OnExit(_ context.Context, instrument string) {
	logger.Info("strategy %s: leg %s closed", s.spec.Name, instrument)
}

// Active reports whether now falls inside the declared trading window.
// A strategy with no window trades around the clock.
func (s *RuleStrategy) Active(now time.Time) bool {
	if s.spec.Window.Open == "" || s.spec.Window.Close == "" {
		return true
	}
	open, err := rules.ClockMinutes(s.spec.Window.Open)
	if err != nil {
		logger.Error("strategy %s: bad window open %q: %v", s.spec.Name, s.spec.Window.Open, err)
		return false
	}
	cls, err := rules.ClockMinutes(s.spec.Window.Close)
	if err != nil {
		logger.Error("strategy %s: bad window close %q: %v", s.spec.Name, s.spec.Window.Close, err)
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if open <= cls {
		return cur >= open && cur < cls
	}
	// overnight window
	return cur >= open || cur < cls
}

func (s *RuleStrategy) Decide(_ context.Context, snap models.Snapshot, st *models.ExecutionState) []models.Command {
	var out []models.Command
	clock := fmt.Sprintf("%02d:%02d", snap.TakenAt.Hour(), snap.TakenAt.Minute())

	for _, inst := range s.spec.Instruments {
		q, ok := snap.Quotes[inst]
		if !ok {
			continue
		}
		obs := rules.Observation{Price: q.Price, Clock: clock, DayPnL: st.DayPnL}
		leg, open := st.Legs[inst]

		if open {
			if _, hit, err := rules.EvaluateFirst(s.spec.Exit, obs); err != nil {
				logger.Error("strategy %s/%s exit rules: %v", s.spec.Name, inst, err)
			} else if hit {
				out = append(out, models.Command{
					Strategy:   s.spec.Name,
					Instrument: inst,
					Side:       leg.Side.Opposite(),
					Qty:        leg.Qty,
					Kind:       models.OrderMarket,
					Price:      q.Price,
					Action:     models.ActionExit,
					Origin:     models.OriginScheduler,
				})
				continue // exiting, no adjustments on the same tick
			}

			results, err := rules.EvaluateAll(s.spec.Adjust, obs)
			if err != nil {
				logger.Error("strategy %s/%s adjust rules: %v", s.spec.Name, inst, err)
				continue
			}
			for _, res := range results {
				if !res.Satisfied {
					continue
				}
				out = append(out, models.Command{
					Strategy:   s.spec.Name,
					Instrument: inst,
					Side:       leg.Side,
					Qty:        s.spec.Qty,
					Kind:       models.OrderMarket,
					Action:     models.ActionAdjust,
					Origin:     models.OriginScheduler,
				})
			}
			continue
		}

		res, hit, err := rules.EvaluateFirst(s.spec.Entry, obs)
		if err != nil {
			logger.Error("strategy %s/%s entry rules: %v", s.spec.Name, inst, err)
			continue
		}
		if !hit {
			continue
		}
		logger.Info("strategy %s/%s entry rule %q fired @ %.4f", s.spec.Name, inst, res.Rule, q.Price)
		out = append(out, s.entryCommand(inst, q.Price))
	}
	return out
}

func (s *RuleStrategy) entryCommand(inst string, px float64) models.Command {
	cmd := models.Command{
		Strategy:   s.spec.Name,
		Instrument: inst,
		Side:       models.SideBuy,
		Qty:        s.spec.Qty,
		Kind:       models.OrderMarket,
		Action:     models.ActionEnter,
		Origin:     models.OriginScheduler,
	}
	if s.spec.StopPct > 0 {
		cmd.Stop = px * (1 - s.spec.StopPct/100)
	}
	if s.spec.TargetPct > 0 {
		cmd.Target = px * (1 + s.spec.TargetPct/100)
	}
	if s.spec.TrailPct > 0 {
		cmd.TrailDist = px * s.spec.TrailPct / 100
	}
	return cmd
}
