// Package rules is the pure rule-evaluation engine behind entry, exit
// and adjustment decisions.
package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"trade_engine/internal/models"
)

const (
	CmpGT         = "gt"
	CmpGTE        = "gte"
	CmpLT         = "lt"
	CmpLTE        = "lte"
	CmpEQ         = "eq"
	CmpNEQ        = "neq"
	CmpApprox     = "approx"
	CmpBetween    = "between"
	CmpNotBetween = "not_between"
)

// Rule — one declared condition. Threshold is a number or, for the
// clock metric, an H:MM / HH:MM string.
type Rule struct {
	Name       string        `yaml:"name"`
	Metric     string        `yaml:"metric"` // price | clock | day_pnl
	Comparator string        `yaml:"comparator"`
	Threshold  float64       `yaml:"threshold"`
	At         string        `yaml:"at"` // clock threshold
	Lo         float64       `yaml:"lo"`
	Hi         float64       `yaml:"hi"`
	LoAt       string        `yaml:"lo_at"`
	HiAt       string        `yaml:"hi_at"`
	Tolerance  float64       `yaml:"tolerance"` // approx only
	Action     models.Action `yaml:"action"`
}

// Result of evaluating one rule.
type Result struct {
	Rule        string
	Satisfied   bool
	Description string
	Action      models.Action
}

// Observation — the metric values a rule may compare against.
type Observation struct {
	Price  float64
	Clock  string // H:MM or HH:MM
	DayPnL float64
}

// ClockMinutes normalizes H:MM / HH:MM to minutes since midnight.
// String comparison of non-zero-padded times is wrong ("9:5" must mean
// 9:05 = 545, not sort as text), so every time operand goes through here.
func ClockMinutes(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: clock value %q", models.ErrInvalidComparator, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: clock hours %q", models.ErrInvalidComparator, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: clock minutes %q", models.ErrInvalidComparator, s)
	}
	return h*60 + m, nil
}

// Compare applies a scalar comparator. Unknown names fail with
// ErrInvalidComparator; well-formed input never panics.
func Compare(comparator string, observed, threshold float64) (bool, error) {
	switch comparator {
	case CmpGT:
		return observed > threshold, nil
	case CmpGTE:
		return observed >= threshold, nil
	case CmpLT:
		return observed < threshold, nil
	case CmpLTE:
		return observed <= threshold, nil
	case CmpEQ:
		return observed == threshold, nil
	case CmpNEQ:
		return observed != threshold, nil
	default:
		return false, fmt.Errorf("%w: %q", models.ErrInvalidComparator, comparator)
	}
}

// CompareApprox — tolerance-based equality.
func CompareApprox(observed, threshold, tolerance float64) bool {
	if tolerance < 0 {
		tolerance = 0
	}
	return math.Abs(observed-threshold) <= tolerance
}

// CompareRange — inclusive between / not_between.
func CompareRange(comparator string, observed, lo, hi float64) (bool, error) {
	if lo > hi {
		lo, hi = hi, lo
	}
	in := observed >= lo && observed <= hi
	switch comparator {
	case CmpBetween:
		return in, nil
	case CmpNotBetween:
		return !in, nil
	default:
		return false, fmt.Errorf("%w: %q", models.ErrInvalidComparator, comparator)
	}
}

// CompareClock compares two time-of-day strings after normalization.
func CompareClock(comparator, observed, threshold string) (bool, error) {
	o, err := ClockMinutes(observed)
	if err != nil {
		return false, err
	}
	t, err := ClockMinutes(threshold)
	if err != nil {
		return false, err
	}
	return Compare(comparator, float64(o), float64(t))
}

// Evaluate one rule against an observation.
func Evaluate(r Rule, obs Observation) (Result, error) {
	var observed, threshold, lo, hi float64

	switch r.Metric {
	case "price":
		observed, threshold, lo, hi = obs.Price, r.Threshold, r.Lo, r.Hi
	case "day_pnl":
		observed, threshold, lo, hi = obs.DayPnL, r.Threshold, r.Lo, r.Hi
	case "clock":
		o, err := ClockMinutes(obs.Clock)
		if err != nil {
			return Result{}, err
		}
		observed = float64(o)
		if r.At != "" {
			t, err := ClockMinutes(r.At)
			if err != nil {
				return Result{}, err
			}
			threshold = float64(t)
		}
		if r.LoAt != "" && r.HiAt != "" {
			l, err := ClockMinutes(r.LoAt)
			if err != nil {
				return Result{}, err
			}
			h, err := ClockMinutes(r.HiAt)
			if err != nil {
				return Result{}, err
			}
			lo, hi = float64(l), float64(h)
		}
	default:
		return Result{}, fmt.Errorf("%w: metric %q", models.ErrInvalidComparator, r.Metric)
	}

	var (
		ok  bool
		err error
	)
	switch r.Comparator {
	case CmpApprox:
		ok = CompareApprox(observed, threshold, r.Tolerance)
	case CmpBetween, CmpNotBetween:
		ok, err = CompareRange(r.Comparator, observed, lo, hi)
	default:
		ok, err = Compare(r.Comparator, observed, threshold)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		Rule:        r.Name,
		Satisfied:   ok,
		Description: describe(r, observed, threshold, lo, hi, ok),
		Action:      r.Action,
	}, nil
}

// EvaluateFirst returns the first satisfied rule in declared order.
// Entry and exit decisions use this: exactly one result wins.
func EvaluateFirst(rs []Rule, obs Observation) (Result, bool, error) {
	for _, r := range rs {
		res, err := Evaluate(r, obs)
		if err != nil {
			return Result{}, false, err
		}
		if res.Satisfied {
			return res, true, nil
		}
	}
	return Result{}, false, nil
}

// EvaluateAll returns every satisfied rule. Adjustment triggers may
// co-fire on one tick; the caller decides priority.
func EvaluateAll(rs []Rule, obs Observation) ([]Result, error) {
	var out []Result
	for _, r := range rs {
		res, err := Evaluate(r, obs)
		if err != nil {
			return nil, err
		}
		if res.Satisfied {
			out = append(out, res)
		}
	}
	return out, nil
}

func describe(r Rule, observed, threshold, lo, hi float64, ok bool) string {
	verdict := "not satisfied"
	if ok {
		verdict = "satisfied"
	}
	switch r.Comparator {
	case CmpBetween, CmpNotBetween:
		return fmt.Sprintf("%s: %s(%s) %.2f in [%.2f, %.2f] — %s",
			r.Name, r.Metric, r.Comparator, observed, lo, hi, verdict)
	case CmpApprox:
		return fmt.Sprintf("%s: %s ~ %.2f (±%.2f), observed %.2f — %s",
			r.Name, r.Metric, threshold, r.Tolerance, observed, verdict)
	default:
		return fmt.Sprintf("%s: %s %s %.2f, observed %.2f — %s",
			r.Name, r.Metric, r.Comparator, threshold, observed, verdict)
	}
}
