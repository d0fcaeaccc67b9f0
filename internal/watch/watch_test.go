package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"trade_engine/internal/gate"
	"trade_engine/internal/marketdata"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/statestore"
)

type fakeGate struct {
	mu       sync.Mutex
	calls    []models.Command
	outcomes []gate.Outcome
	done     chan struct{}
}

func newFakeGate(outcomes ...gate.Outcome) *fakeGate {
	return &fakeGate{outcomes: outcomes, done: make(chan struct{}, 16)}
}

func (f *fakeGate) SubmitCommand(_ context.Context, cmd models.Command) gate.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	out := gate.Outcome{Status: gate.StatusApplied}
	if len(f.outcomes) > 0 {
		out = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	f.mu.Unlock()
	f.done <- struct{}{}
	return out
}

func (f *fakeGate) commands() []models.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Command(nil), f.calls...)
}

func (f *fakeGate) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit never happened")
	}
}

func waitPhase(t *testing.T, l *Loop, key string, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.phase(key) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase for %s never reached %v", key, want)
}

func seedLeg(t *testing.T, st *statestore.Store, strategy string, leg models.Leg) {
	t.Helper()
	err := st.Mutate(context.Background(), strategy, func(s *models.ExecutionState) error {
		s.Legs[leg.Instrument] = &leg
		return nil
	})
	if err != nil {
		t.Fatalf("seed leg: %v", err)
	}
}

func TestRatchetLongNeverRetreats(t *testing.T) {
	leg := models.Leg{
		Instrument: "ES", Side: models.SideBuy, Qty: 1,
		AvgPrice: 100, TrailDist: 5, Watermark: 100, Trail: 95,
	}
	path := []float64{100, 104, 108, 103, 99, 112, 107, 96}
	prevTrail := leg.Trail
	for _, px := range path {
		next, _ := Ratchet(leg, px)
		if next.Trail < prevTrail {
			t.Fatalf("trail retreated at px %.2f: %.2f -> %.2f", px, prevTrail, next.Trail)
		}
		if next.Watermark < leg.Watermark {
			t.Fatalf("watermark retreated at px %.2f", px)
		}
		leg = next
		prevTrail = leg.Trail
	}
	// high of 112 minus distance 5
	if leg.Trail != 107 {
		t.Fatalf("trail = %.2f, want 107", leg.Trail)
	}
}

func TestRatchetShortTightensDownOnly(t *testing.T) {
	leg := models.Leg{
		Instrument: "ES", Side: models.SideSell, Qty: 1,
		AvgPrice: 100, TrailDist: 5, Watermark: 100, Trail: 105,
	}
	for _, px := range []float64{98, 101, 94, 97, 90} {
		next, _ := Ratchet(leg, px)
		if next.Trail > leg.Trail {
			t.Fatalf("short trail loosened at px %.2f", px)
		}
		leg = next
	}
	if leg.Trail != 95 {
		t.Fatalf("trail = %.2f, want 95", leg.Trail)
	}
}

func TestTrigger(t *testing.T) {
	long := models.Leg{Side: models.SideBuy, Stop: 95, Target: 110, Trail: 98}
	short := models.Leg{Side: models.SideSell, Stop: 105, Target: 90, Trail: 102}

	cases := []struct {
		name string
		leg  models.Leg
		px   float64
		want string
		hit  bool
	}{
		{"long holds", long, 100, "", false},
		{"long stop", long, 94.5, "stop_loss", true},
		{"long target", long, 110, "target", true},
		{"long trail", long, 97, "trailing_stop", true},
		{"short holds", short, 100, "", false},
		{"short stop", short, 106, "stop_loss", true},
		{"short target", short, 89, "target", true},
		{"short trail", short, 103, "trailing_stop", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, hit := Trigger(c.leg, c.px)
			if hit != c.hit || got != c.want {
				t.Fatalf("got (%q,%v), want (%q,%v)", got, hit, c.want, c.hit)
			}
		})
	}
}

func TestTickSubmitsExitOnTrigger(t *testing.T) {
	store := statestore.New(statestore.NopPersister{})
	feed := marketdata.NewCache()
	fg := newFakeGate(gate.Outcome{Status: gate.StatusApplied})
	l := New(store, feed, fg, notify.NewStdout(), metrics.Nop(), time.Second)

	seedLeg(t, store, "alpha", models.Leg{
		Instrument: "ES", Side: models.SideBuy, Qty: 2,
		AvgPrice: 100, Stop: 95,
	})
	feed.Update(models.Quote{Instrument: "ES", Price: 94, ObservedAt: time.Now()})

	l.Tick(context.Background())
	fg.wait(t)

	cmds := fg.commands()
	if len(cmds) != 1 {
		t.Fatalf("submissions = %d, want 1", len(cmds))
	}
	cmd := cmds[0]
	if cmd.Action != models.ActionExit || cmd.Side != models.SideSell ||
		cmd.Qty != 2 || cmd.Origin != models.OriginWatch || cmd.Price != 94 {
		t.Fatalf("unexpected exit command: %+v", cmd)
	}
}

func TestFailedExitRetriesNextTick(t *testing.T) {
	store := statestore.New(statestore.NopPersister{})
	feed := marketdata.NewCache()
	fg := newFakeGate(
		gate.Outcome{Status: gate.StatusUnverified},
		gate.Outcome{Status: gate.StatusApplied},
	)
	l := New(store, feed, fg, notify.NewStdout(), metrics.Nop(), time.Second)

	seedLeg(t, store, "alpha", models.Leg{
		Instrument: "ES", Side: models.SideBuy, Qty: 1,
		AvgPrice: 100, Stop: 95,
	})
	feed.Update(models.Quote{Instrument: "ES", Price: 94, ObservedAt: time.Now()})

	key := legKey("alpha", "ES")
	l.Tick(context.Background())
	fg.wait(t)
	waitPhase(t, l, key, PhaseFailed)

	l.Tick(context.Background())
	fg.wait(t)
	waitPhase(t, l, key, PhaseConfirmed)

	if got := len(fg.commands()); got != 2 {
		t.Fatalf("submissions = %d, want 2 (one retry)", got)
	}
}

func TestInFlightLegSkippedNextTick(t *testing.T) {
	store := statestore.New(statestore.NopPersister{})
	feed := marketdata.NewCache()
	fg := newFakeGate()
	l := New(store, feed, fg, notify.NewStdout(), metrics.Nop(), time.Second)
	l.setPhase(legKey("alpha", "ES"), PhaseExitSubmitted)

	seedLeg(t, store, "alpha", models.Leg{
		Instrument: "ES", Side: models.SideBuy, Qty: 1,
		AvgPrice: 100, Stop: 95,
	})
	feed.Update(models.Quote{Instrument: "ES", Price: 94, ObservedAt: time.Now()})

	l.Tick(context.Background())
	if got := len(fg.commands()); got != 0 {
		t.Fatalf("submissions = %d, want 0 while in flight", got)
	}
}

func TestTickPersistsImprovedTrail(t *testing.T) {
	store := statestore.New(statestore.NopPersister{})
	feed := marketdata.NewCache()
	fg := newFakeGate()
	l := New(store, feed, fg, notify.NewStdout(), metrics.Nop(), time.Second)

	seedLeg(t, store, "alpha", models.Leg{
		Instrument: "ES", Side: models.SideBuy, Qty: 1,
		AvgPrice: 100, TrailDist: 5, Watermark: 100, Trail: 95,
	})
	feed.Update(models.Quote{Instrument: "ES", Price: 108, ObservedAt: time.Now()})

	l.Tick(context.Background())

	leg := store.Get("alpha").Legs["ES"]
	if leg.Trail != 103 || leg.Watermark != 108 {
		t.Fatalf("trail/watermark = %.2f/%.2f, want 103/108", leg.Trail, leg.Watermark)
	}
}
