// Package statestore owns per-strategy execution state. All reads and
// writes go through per-strategy locks; every mutation is mirrored to
// durable storage before the in-memory value is swapped.
package statestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trade_engine/internal/models"

	"github.com/bytedance/sonic"
)

// Persister is the durable side of the store. A save either fully lands
// or is rolled back.
type Persister interface {
	Save(ctx context.Context, strategy string, blob []byte) error
	Load(ctx context.Context, strategy string) ([]byte, bool, error)
	Delete(ctx context.Context, strategy string) error
}

// NopPersister keeps everything in memory (tests, paper runs without a DB).
type NopPersister struct{}

func (NopPersister) Save(context.Context, string, []byte) error { return nil }
func (NopPersister) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}
func (NopPersister) Delete(context.Context, string) error { return nil }

type Store struct {
	p Persister

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	states map[string]*models.ExecutionState
}

func New(p Persister) *Store {
	if p == nil {
		p = NopPersister{}
	}
	return &Store{
		p:      p,
		locks:  make(map[string]*sync.Mutex),
		states: make(map[string]*models.ExecutionState),
	}
}

func (s *Store) lockFor(strategy string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[strategy]
	if !ok {
		l = &sync.Mutex{}
		s.locks[strategy] = l
	}
	return l
}

func (s *Store) current(strategy string) *models.ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[strategy]
}

func (s *Store) swap(strategy string, st *models.ExecutionState) {
	s.mu.Lock()
	s.states[strategy] = st
	s.mu.Unlock()
}

// Get returns a deep copy; callers never see live state.
func (s *Store) Get(strategy string) *models.ExecutionState {
	l := s.lockFor(strategy)
	l.Lock()
	defer l.Unlock()

	st := s.current(strategy)
	if st == nil {
		return models.NewExecutionState(strategy)
	}
	return st.Clone()
}

// Mutate applies fn to a copy of the state and swaps it in atomically
// after the durable save succeeds. Overlapping mutations for the same
// strategy never interleave; no caller holds this lock across broker I/O.
func (s *Store) Mutate(ctx context.Context, strategy string, fn func(st *models.ExecutionState) error) error {
	l := s.lockFor(strategy)
	l.Lock()
	defer l.Unlock()

	cur := s.current(strategy)
	var next *models.ExecutionState
	if cur == nil {
		next = models.NewExecutionState(strategy)
	} else {
		next = cur.Clone()
	}

	if err := fn(next); err != nil {
		return err
	}

	blob, err := sonic.Marshal(next)
	if err != nil {
		return fmt.Errorf("statestore.Mutate: marshal: %w", err)
	}
	if err := s.p.Save(ctx, strategy, blob); err != nil {
		return fmt.Errorf("statestore.Mutate: save: %w", err)
	}

	s.swap(strategy, next)
	return nil
}

// Load pulls durable state into memory; missing strategies start fresh.
func (s *Store) Load(ctx context.Context, strategy string) error {
	l := s.lockFor(strategy)
	l.Lock()
	defer l.Unlock()

	blob, ok, err := s.p.Load(ctx, strategy)
	if err != nil {
		return fmt.Errorf("statestore.Load: %w", err)
	}
	if !ok {
		s.swap(strategy, models.NewExecutionState(strategy))
		return nil
	}

	st := models.NewExecutionState(strategy)
	if err := sonic.Unmarshal(blob, st); err != nil {
		return fmt.Errorf("statestore.Load: unmarshal: %w", err)
	}
	if st.Legs == nil {
		st.Legs = make(map[string]*models.Leg)
	}
	if st.CooldownUntil == nil {
		st.CooldownUntil = make(map[string]time.Time)
	}
	if st.Unverified == nil {
		st.Unverified = make(map[string]models.UnverifiedOrder)
	}
	s.swap(strategy, st)
	return nil
}

// ResetSession starts a fresh trading day: P&L and cooldowns are
// cleared, believed-open legs survive until reconciliation says otherwise.
func (s *Store) ResetSession(ctx context.Context, strategy, sessionDate string) error {
	return s.Mutate(ctx, strategy, func(st *models.ExecutionState) error {
		st.DayPnL = 0
		st.SessionDate = sessionDate
		st.CooldownUntil = make(map[string]time.Time)
		return nil
	})
}

func (s *Store) Strategies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.states))
	for k := range s.states {
		out = append(out, k)
	}
	return out
}
