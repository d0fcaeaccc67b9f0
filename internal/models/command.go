package models

import (
	"fmt"
	"time"
)

type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for an open leg.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return SideNone
}

type OrderKind string

const (
	OrderMarket OrderKind = "MARKET"
	OrderLimit  OrderKind = "LIMIT"
)

// OrderStatus — broker-reported lifecycle of a submitted order.
type OrderStatus string

const (
	StatusPending  OrderStatus = "PENDING"
	StatusExecuted OrderStatus = "EXECUTED"
	StatusRejected OrderStatus = "REJECTED"
	StatusCanceled OrderStatus = "CANCELED"
)

// Command is the canonical broker-agnostic order request.
type Command struct {
	Strategy   string
	Instrument string
	Side       Side
	Qty        float64
	Kind       OrderKind
	Price      float64 // limit price, 0 for market; price hint for market exits
	Action     Action
	Origin     Origin

	// Exit levels armed on the resulting leg once the fill is verified.
	Stop      float64
	Target    float64
	TrailDist float64
}

// IdempotencyKey buckets logically identical commands into the dedupe
// window: two commands with the same key never both reach the broker.
func (c Command) IdempotencyKey(at time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Second
	}
	bucket := at.UnixNano() / int64(window)
	return fmt.Sprintf("%s|%s|%s|%d", c.Strategy, c.Instrument, c.Action, bucket)
}

// PairKey serializes competing requests for the same position.
func (c Command) PairKey() string { return c.Strategy + "|" + c.Instrument }

func (c Command) Validate() error {
	if c.Strategy == "" || c.Instrument == "" {
		return fmt.Errorf("%w: command without strategy/instrument", ErrMalformedIntent)
	}
	if c.Side != SideBuy && c.Side != SideSell {
		return fmt.Errorf("%w: command side %q", ErrMalformedIntent, c.Side)
	}
	if c.Qty <= 0 {
		return fmt.Errorf("%w: command qty %.4f", ErrMalformedIntent, c.Qty)
	}
	if c.Kind == OrderLimit && c.Price <= 0 {
		return fmt.Errorf("%w: limit command without price", ErrMalformedIntent)
	}
	return nil
}

// Position as reported by the broker's book.
type Position struct {
	Instrument string
	Side       Side
	Qty        float64
	AvgPrice   float64
	LastPrice  float64
}
