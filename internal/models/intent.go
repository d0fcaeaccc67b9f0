package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionEnter     Action = "ENTER"
	ActionExit      Action = "EXIT"
	ActionAdjust    Action = "ADJUST"
	ActionForceExit Action = "FORCE_EXIT"
)

// Origin — who produced the intent.
type Origin string

const (
	OriginScheduler Origin = "scheduler"
	OriginWatch     Origin = "watch"
	OriginConsole   Origin = "console"
	OriginWebhook   Origin = "webhook"
	OriginChat      Origin = "chat"
)

// Intent is an immutable request to act on a strategy. It is consumed
// exactly once by the command gate.
type Intent struct {
	ID         string
	Strategy   string
	Action     Action
	Instrument string
	Side       Side    // optional; exits derive it from the open leg
	Qty        float64 // 0 => derive from state / strategy defaults
	Price      float64 // 0 => market
	Origin     Origin
	CreatedAt  time.Time
}

func NewIntent(strategy string, action Action, instrument string, origin Origin) Intent {
	return Intent{
		ID:         uuid.NewString(),
		Strategy:   strategy,
		Action:     action,
		Instrument: instrument,
		Origin:     origin,
		CreatedAt:  time.Now(),
	}
}

// Validate rejects structurally broken intents before they reach the gate.
func (in Intent) Validate() error {
	if strings.TrimSpace(in.Strategy) == "" {
		return fmt.Errorf("%w: empty strategy", ErrMalformedIntent)
	}
	if strings.TrimSpace(in.Instrument) == "" {
		return fmt.Errorf("%w: empty instrument", ErrMalformedIntent)
	}
	switch in.Action {
	case ActionEnter, ActionExit, ActionAdjust, ActionForceExit:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrMalformedIntent, in.Action)
	}
	switch in.Origin {
	case OriginScheduler, OriginWatch, OriginConsole, OriginWebhook, OriginChat:
	default:
		return fmt.Errorf("%w: unknown origin %q", ErrMalformedIntent, in.Origin)
	}
	if in.Qty < 0 || in.Price < 0 {
		return fmt.Errorf("%w: negative qty/price", ErrMalformedIntent)
	}
	return nil
}
