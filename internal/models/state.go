package models

import "time"

// Leg — one believed-open position of a strategy.
type Leg struct {
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Qty        float64   `json:"qty"`
	AvgPrice   float64   `json:"avg_price"`
	Stop       float64   `json:"stop,omitempty"`
	Target     float64   `json:"target,omitempty"`
	Trail      float64   `json:"trail,omitempty"`      // current trailing level, 0 = off
	TrailDist  float64   `json:"trail_dist,omitempty"` // distance the trail follows price at
	Watermark  float64   `json:"watermark,omitempty"`  // best favorable price seen so far
	OpenedAt   time.Time `json:"opened_at"`
}

// UnverifiedOrder — broker accepted the submission but dual confirmation
// never arrived; left for reconciliation, never assumed filled or failed.
type UnverifiedOrder struct {
	OrderID    string    `json:"order_id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Qty        float64   `json:"qty"`
	Action     Action    `json:"action"`
	At         time.Time `json:"at"`
}

// ExecutionState is the per-strategy belief about the world. It is owned
// by the state store and mutated only through its locked accessors.
type ExecutionState struct {
	Strategy      string                     `json:"strategy"`
	Legs          map[string]*Leg            `json:"legs"` // instrument -> leg
	DayPnL        float64                    `json:"day_pnl"`
	SessionDate   string                     `json:"session_date"`
	LastActionAt  time.Time                  `json:"last_action_at"`
	CooldownUntil map[string]time.Time       `json:"cooldown_until"` // instrument -> until
	Unverified    map[string]UnverifiedOrder `json:"unverified"`     // order id -> record
}

func NewExecutionState(strategy string) *ExecutionState {
	return &ExecutionState{
		Strategy:      strategy,
		Legs:          make(map[string]*Leg),
		CooldownUntil: make(map[string]time.Time),
		Unverified:    make(map[string]UnverifiedOrder),
	}
}

// Clone deep-copies the state so mutations can be computed aside and
// swapped in atomically.
func (s *ExecutionState) Clone() *ExecutionState {
	if s == nil {
		return nil
	}
	out := &ExecutionState{
		Strategy:      s.Strategy,
		DayPnL:        s.DayPnL,
		SessionDate:   s.SessionDate,
		LastActionAt:  s.LastActionAt,
		Legs:          make(map[string]*Leg, len(s.Legs)),
		CooldownUntil: make(map[string]time.Time, len(s.CooldownUntil)),
		Unverified:    make(map[string]UnverifiedOrder, len(s.Unverified)),
	}
	for k, l := range s.Legs {
		cp := *l
		out.Legs[k] = &cp
	}
	for k, v := range s.CooldownUntil {
		out.CooldownUntil[k] = v
	}
	for k, v := range s.Unverified {
		out.Unverified[k] = v
	}
	return out
}

func (s *ExecutionState) OpenLegCount() int { return len(s.Legs) }

func (s *ExecutionState) InCooldown(instrument string, now time.Time) bool {
	until, ok := s.CooldownUntil[instrument]
	return ok && now.Before(until)
}
