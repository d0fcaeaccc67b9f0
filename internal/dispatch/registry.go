package dispatch

import (
	"context"
	"sync"
	"time"

	"trade_engine/internal/models"
)

// Strategy is a decision hook: given the market view and the current
// execution state it proposes commands. It never touches the broker.
type Strategy interface {
	Name() string
	Instruments() []string
	Active(now time.Time) bool
	Decide(ctx context.Context, snap models.Snapshot, st *models.ExecutionState) []models.Command
	// OnExit is called once per leg after the dispatcher observes it closed,
	// whoever closed it.
	OnExit(ctx context.Context, instrument string)
}

// Registry holds the registered strategies. It doubles as the
// authorization directory for the command gate and the roster for the
// reconciliation loop.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Strategy)}
}

func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[s.Name()]; !ok {
		r.order = append(r.order, s.Name())
	}
	r.byKey[s.Name()] = s
}

func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKey[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byKey[name])
	}
	return out
}
