package rules

import (
	"errors"
	"testing"

	"trade_engine/internal/models"
)

func TestClockMinutes(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:20", 560, false},
		{"9:30", 570, false},
		{"9:5", 545, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9:60", 0, true},
		{"930", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ClockMinutes(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ClockMinutes(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ClockMinutes(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ClockMinutes(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestCompareClockOrdering(t *testing.T) {
	// "9:5" lexically sorts after "09:20"; normalized it must not.
	ok, err := CompareClock(CmpLT, "09:05", "09:20")
	if err != nil || !ok {
		t.Fatalf(`"09:05" < "09:20": ok=%v err=%v`, ok, err)
	}
	ok, err = CompareClock(CmpLT, "9:5", "09:20")
	if err != nil || !ok {
		t.Fatalf(`"9:5" < "09:20": ok=%v err=%v`, ok, err)
	}
	ok, err = CompareClock(CmpGTE, "09:30", "09:20")
	if err != nil || !ok {
		t.Fatalf(`"09:30" >= "09:20": ok=%v err=%v`, ok, err)
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		cmp      string
		obs, thr float64
		want     bool
	}{
		{CmpGT, 2, 1, true},
		{CmpGT, 1, 1, false},
		{CmpGTE, 1, 1, true},
		{CmpLT, 1, 2, true},
		{CmpLTE, 2, 2, true},
		{CmpEQ, 3, 3, true},
		{CmpNEQ, 3, 4, true},
	}
	for _, c := range cases {
		got, err := Compare(c.cmp, c.obs, c.thr)
		if err != nil {
			t.Fatalf("Compare(%s): %v", c.cmp, err)
		}
		if got != c.want {
			t.Errorf("Compare(%s, %v, %v) = %v, want %v", c.cmp, c.obs, c.thr, got, c.want)
		}
	}
}

func TestCompareUnknownComparator(t *testing.T) {
	_, err := Compare("gtt", 1, 2)
	if !errors.Is(err, models.ErrInvalidComparator) {
		t.Fatalf("expected ErrInvalidComparator, got %v", err)
	}
}

func TestCompareApprox(t *testing.T) {
	if !CompareApprox(100.4, 100.0, 0.5) {
		t.Error("100.4 ~ 100.0 ±0.5 should hold")
	}
	if CompareApprox(100.6, 100.0, 0.5) {
		t.Error("100.6 ~ 100.0 ±0.5 should not hold")
	}
}

func TestCompareRange(t *testing.T) {
	ok, err := CompareRange(CmpBetween, 5, 1, 10)
	if err != nil || !ok {
		t.Fatalf("5 in [1,10]: ok=%v err=%v", ok, err)
	}
	// inclusive bounds
	ok, _ = CompareRange(CmpBetween, 10, 1, 10)
	if !ok {
		t.Error("10 in [1,10] should hold (inclusive)")
	}
	ok, _ = CompareRange(CmpNotBetween, 11, 1, 10)
	if !ok {
		t.Error("11 not in [1,10] should hold")
	}
	// swapped bounds still work
	ok, _ = CompareRange(CmpBetween, 5, 10, 1)
	if !ok {
		t.Error("swapped bounds should normalize")
	}
}

func TestEvaluateFirstWins(t *testing.T) {
	rs := []Rule{
		{Name: "stop", Metric: "price", Comparator: CmpLTE, Threshold: 90, Action: models.ActionExit},
		{Name: "target", Metric: "price", Comparator: CmpGTE, Threshold: 110, Action: models.ActionExit},
	}
	res, ok, err := EvaluateFirst(rs, Observation{Price: 120})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || res.Rule != "target" {
		t.Fatalf("expected target to win, got %+v ok=%v", res, ok)
	}

	_, ok, err = EvaluateFirst(rs, Observation{Price: 100})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("no rule should fire at 100")
	}
}

func TestEvaluateAllCoFire(t *testing.T) {
	rs := []Rule{
		{Name: "roll_up", Metric: "price", Comparator: CmpGTE, Threshold: 105, Action: models.ActionAdjust},
		{Name: "rebalance", Metric: "price", Comparator: CmpGT, Threshold: 100, Action: models.ActionAdjust},
		{Name: "never", Metric: "price", Comparator: CmpLT, Threshold: 0, Action: models.ActionAdjust},
	}
	out, err := EvaluateAll(rs, Observation{Price: 106})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected two co-fired adjustments, got %d", len(out))
	}
}

func TestEvaluateClockWindow(t *testing.T) {
	r := Rule{
		Name: "session", Metric: "clock", Comparator: CmpBetween,
		LoAt: "9:20", HiAt: "15:10",
	}
	res, err := Evaluate(r, Observation{Clock: "9:30"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Satisfied {
		t.Fatal("9:30 should be inside 9:20..15:10")
	}
	res, err = Evaluate(r, Observation{Clock: "15:11"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Satisfied {
		t.Fatal("15:11 should be outside 9:20..15:10")
	}
}

func TestEvaluateUnknownMetric(t *testing.T) {
	_, err := Evaluate(Rule{Metric: "volume", Comparator: CmpGT}, Observation{})
	if !errors.Is(err, models.ErrInvalidComparator) {
		t.Fatalf("expected ErrInvalidComparator, got %v", err)
	}
}
