package broker

import (
	"context"
	"testing"

	"trade_engine/internal/models"
)

func marketBuy(strategy, inst string, qty float64) models.Command {
	return models.Command{
		Strategy:   strategy,
		Instrument: inst,
		Side:       models.SideBuy,
		Qty:        qty,
		Kind:       models.OrderMarket,
		Action:     models.ActionEnter,
		Origin:     models.OriginScheduler,
	}
}

func TestSimFillUpdatesBook(t *testing.T) {
	s := NewSim(0)
	s.MarkPrice("BANKNIFTY24SEPF", 51000)
	ctx := context.Background()

	id, err := s.SubmitOrder(ctx, marketBuy("s1", "BANKNIFTY24SEPF", 25))
	if err != nil {
		t.Fatal(err)
	}

	st, err := s.GetOrderStatus(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if st != models.StatusExecuted {
		t.Fatalf("status = %s, want EXECUTED", st)
	}

	pos, err := s.GetPositions(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pos) != 1 || pos[0].Qty != 25 || pos[0].AvgPrice != 51000 {
		t.Fatalf("book = %+v", pos)
	}
}

func TestSimOppositeSideClosesPosition(t *testing.T) {
	s := NewSim(0)
	s.MarkPrice("X", 100)
	ctx := context.Background()

	_, _ = s.SubmitOrder(ctx, marketBuy("s1", "X", 10))
	sell := marketBuy("s1", "X", 10)
	sell.Side = models.SideSell
	sell.Action = models.ActionExit
	_, _ = s.SubmitOrder(ctx, sell)

	pos, _ := s.GetPositions(ctx, "s1")
	if len(pos) != 0 {
		t.Fatalf("expected flat book, got %+v", pos)
	}
}

func TestSimDroppedOrderStaysPending(t *testing.T) {
	s := NewSim(0)
	s.DropOrders = true
	s.MarkPrice("X", 100)
	ctx := context.Background()

	id, err := s.SubmitOrder(ctx, marketBuy("s1", "X", 10))
	if err != nil {
		t.Fatal(err)
	}
	st, _ := s.GetOrderStatus(ctx, id)
	if st != models.StatusPending {
		t.Fatalf("status = %s, want PENDING", st)
	}
	pos, _ := s.GetPositions(ctx, "s1")
	if len(pos) != 0 {
		t.Fatalf("dropped order must not reach the book: %+v", pos)
	}
}

func TestSimStrategyScopesAreIsolated(t *testing.T) {
	s := NewSim(0)
	s.MarkPrice("X", 100)
	ctx := context.Background()

	_, _ = s.SubmitOrder(ctx, marketBuy("alpha", "X", 10))

	pos, _ := s.GetPositions(ctx, "beta")
	if len(pos) != 0 {
		t.Fatalf("beta sees alpha's position: %+v", pos)
	}
}
