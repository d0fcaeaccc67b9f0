package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"trade_engine/internal/broker"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/metrics"
	"trade_engine/internal/notify"
	"trade_engine/internal/statestore"
)

type recNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recNotifier) Notify(_ notify.Severity, msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recNotifier) Notifyf(sev notify.Severity, format string, args ...any) {
	r.Notify(sev, fmt.Sprintf(format, args...))
}

func (r *recNotifier) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

type roster []string

func (r roster) Names() []string { return r }

func newLoop(t *testing.T, brk broker.Broker, names ...string) (*Loop, *statestore.Store, *recNotifier) {
	t.Helper()
	store := statestore.New(statestore.NopPersister{})
	n := &recNotifier{}
	l := New(store, brk, roster(names), n, metrics.Nop(), time.Minute, 10*time.Second)
	return l, store, n
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

func TestClassify(t *testing.T) {
	legs := map[string]*models.Leg{
		"ES": {Instrument: "ES", Side: models.SideBuy, Qty: 50},
		"NQ": {Instrument: "NQ", Side: models.SideBuy, Qty: 10},
	}
	book := []models.Position{
		{Instrument: "ES", Side: models.SideBuy, Qty: 75, AvgPrice: 101},
		{Instrument: "CL", Side: models.SideSell, Qty: 5, AvgPrice: 80},
	}

	got := Classify("alpha", legs, book)
	if len(got) != 3 {
		t.Fatalf("verdicts = %d, want 3: %+v", len(got), got)
	}
	byInst := map[string]models.Verdict{}
	for _, v := range got {
		byInst[v.Instrument] = v
	}
	if v := byInst["NQ"]; v.Kind != models.VerdictPhantom || v.LocalQty != 10 {
		t.Fatalf("NQ: %+v, want phantom local 10", v)
	}
	if v := byInst["CL"]; v.Kind != models.VerdictOrphan || v.BrokerQty != 5 || v.BrokerSide != models.SideSell {
		t.Fatalf("CL: %+v, want orphan 5 SELL", v)
	}
	if v := byInst["ES"]; v.Kind != models.VerdictMismatch || v.LocalQty != 50 || v.BrokerQty != 75 {
		t.Fatalf("ES: %+v, want mismatch 50->75", v)
	}
}

func TestClassifyAgreementIsSilent(t *testing.T) {
	legs := map[string]*models.Leg{
		"ES": {Instrument: "ES", Side: models.SideBuy, Qty: 50},
	}
	book := []models.Position{
		{Instrument: "ES", Side: models.SideBuy, Qty: 50, AvgPrice: 100},
	}
	if got := Classify("alpha", legs, book); len(got) != 0 {
		t.Fatalf("verdicts on agreeing books: %+v", got)
	}
}

func TestPhantomClearedWithOneAlert(t *testing.T) {
	brk := broker.NewSim(0) // broker holds nothing
	l, store, n := newLoop(t, brk, "alpha")
	seedLeg(t, store, "alpha", models.Leg{Instrument: "ES", Side: models.SideBuy, Qty: 50, AvgPrice: 100})

	l.Pass(context.Background())

	if legs := store.Get("alpha").Legs; len(legs) != 0 {
		t.Fatalf("phantom leg survived: %+v", legs)
	}
	if got := n.count("phantom"); got != 1 {
		t.Fatalf("phantom alerts = %d, want 1", got)
	}
}

func TestOrphanReconstructedFromBroker(t *testing.T) {
	brk := broker.NewSim(0)
	brk.SeedPosition("alpha", models.Position{Instrument: "ES", Side: models.SideBuy, Qty: 75, AvgPrice: 102.5})
	l, store, n := newLoop(t, brk, "alpha")

	l.Pass(context.Background())

	leg, ok := store.Get("alpha").Legs["ES"]
	if !ok {
		t.Fatal("orphan not adopted")
	}
	if leg.Qty != 75 || leg.Side != models.SideBuy || leg.AvgPrice != 102.5 {
		t.Fatalf("adopted leg = %+v", leg)
	}
	if leg.Stop != 0 || leg.Target != 0 || leg.Trail != 0 {
		t.Fatalf("adopted leg must come in unprotected: %+v", leg)
	}
	if got := n.count("orphan"); got != 1 {
		t.Fatalf("orphan alerts = %d, want 1", got)
	}
}

func TestMismatchResyncsToBrokerQty(t *testing.T) {
	brk := broker.NewSim(0)
	brk.SeedPosition("alpha", models.Position{Instrument: "ES", Side: models.SideBuy, Qty: 75, AvgPrice: 101})
	l, store, n := newLoop(t, brk, "alpha")
	seedLeg(t, store, "alpha", models.Leg{Instrument: "ES", Side: models.SideBuy, Qty: 50, AvgPrice: 100, Stop: 95})

	l.Pass(context.Background())

	leg := store.Get("alpha").Legs["ES"]
	if leg.Qty != 75 || leg.AvgPrice != 101 {
		t.Fatalf("leg after resync = %+v, want qty 75 avg 101", leg)
	}
	if leg.Stop != 95 {
		t.Fatalf("resync must keep armed protections, got %+v", leg)
	}
	if got := n.count("mismatch"); got != 1 {
		t.Fatalf("mismatch alerts = %d, want 1", got)
	}
}

func TestStartupPassUnblocksReady(t *testing.T) {
	brk := broker.NewSim(0)
	l, _, _ := newLoop(t, brk, "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("startup pass never unblocked Ready")
	}
}

func TestResolvedUnverifiedCleared(t *testing.T) {
	brk := broker.NewSim(0)
	l, store, _ := newLoop(t, brk, "alpha")

	// a record for an order the broker has no trace of stays put
	err := store.Mutate(context.Background(), "alpha", func(st *models.ExecutionState) error {
		st.Unverified["gone-order"] = models.UnverifiedOrder{
			OrderID: "gone-order", Instrument: "ES", Side: models.SideSell, Qty: 1,
			Action: models.ActionExit, At: time.Now(),
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed unverified: %v", err)
	}

	l.Pass(context.Background())
	if got := len(store.Get("alpha").Unverified); got != 1 {
		t.Fatalf("unresolvable record dropped, have %d", got)
	}
}
