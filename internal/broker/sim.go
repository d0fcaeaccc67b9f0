package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trade_engine/internal/models"

	"github.com/google/uuid"
)

// Sim is a paper broker: orders fill after a configurable delay against
// the last price pushed via MarkPrice. Failure modes are injectable so
// tests can exercise rejection, silent drops and delayed confirmation.
type Sim struct {
	fillDelay time.Duration

	mu     sync.Mutex
	orders map[string]*simOrder
	book   map[string]map[string]*models.Position // strategy -> instrument -> position
	prices map[string]float64

	// test hooks
	FailSubmit  error // returned by SubmitOrder when set
	DropOrders  bool  // accepted orders never execute nor show in the book
	SubmitCount int
}

type simOrder struct {
	cmd     models.Command
	status  models.OrderStatus
	fillsAt time.Time
}

func NewSim(fillDelay time.Duration) *Sim {
	return &Sim{
		fillDelay: fillDelay,
		orders:    make(map[string]*simOrder),
		book:      make(map[string]map[string]*models.Position),
		prices:    make(map[string]float64),
	}
}

func (s *Sim) Name() string { return "sim" }

// MarkPrice sets the fill price used for market orders.
func (s *Sim) MarkPrice(instrument string, px float64) {
	s.mu.Lock()
	s.prices[instrument] = px
	s.mu.Unlock()
}

func (s *Sim) SubmitOrder(_ context.Context, cmd models.Command) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SubmitCount++
	if s.FailSubmit != nil {
		return "", s.FailSubmit
	}
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	s.orders[id] = &simOrder{
		cmd:     cmd,
		status:  models.StatusPending,
		fillsAt: time.Now().Add(s.fillDelay),
	}
	return id, nil
}

func (s *Sim) GetOrderStatus(_ context.Context, orderID string) (models.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return "", fmt.Errorf("sim: unknown order %s", orderID)
	}
	s.settleLocked(o)
	return o.status, nil
}

func (s *Sim) GetPositions(_ context.Context, strategy string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// settle anything due before reporting truth
	for _, o := range s.orders {
		s.settleLocked(o)
	}

	var out []models.Position
	for _, p := range s.book[strategy] {
		if p.Qty > 0 {
			cp := *p
			cp.LastPrice = s.prices[p.Instrument]
			out = append(out, cp)
		}
	}
	return out, nil
}

// SeedPosition plants broker-side truth directly, for reconciliation tests.
func (s *Sim) SeedPosition(strategy string, p models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookFor(strategy)[p.Instrument] = &p
}

func (s *Sim) bookFor(strategy string) map[string]*models.Position {
	b, ok := s.book[strategy]
	if !ok {
		b = make(map[string]*models.Position)
		s.book[strategy] = b
	}
	return b
}

func (s *Sim) settleLocked(o *simOrder) {
	if o.status != models.StatusPending || time.Now().Before(o.fillsAt) {
		return
	}
	if s.DropOrders {
		return // stays pending forever, book untouched
	}
	o.status = models.StatusExecuted

	px := o.cmd.Price
	if o.cmd.Kind == models.OrderMarket && s.prices[o.cmd.Instrument] > 0 {
		px = s.prices[o.cmd.Instrument]
	}

	book := s.bookFor(o.cmd.Strategy)
	pos := book[o.cmd.Instrument]
	if pos == nil || pos.Qty == 0 {
		book[o.cmd.Instrument] = &models.Position{
			Instrument: o.cmd.Instrument,
			Side:       o.cmd.Side,
			Qty:        o.cmd.Qty,
			AvgPrice:   px,
		}
		return
	}

	if pos.Side == o.cmd.Side {
		// add to the same side, volume-weighted entry
		total := pos.Qty + o.cmd.Qty
		pos.AvgPrice = (pos.AvgPrice*pos.Qty + px*o.cmd.Qty) / total
		pos.Qty = total
		return
	}

	// opposite side reduces or flips
	switch {
	case o.cmd.Qty < pos.Qty:
		pos.Qty -= o.cmd.Qty
	case o.cmd.Qty == pos.Qty:
		delete(book, o.cmd.Instrument)
	default:
		book[o.cmd.Instrument] = &models.Position{
			Instrument: o.cmd.Instrument,
			Side:       o.cmd.Side,
			Qty:        o.cmd.Qty - pos.Qty,
			AvgPrice:   px,
		}
	}
}
