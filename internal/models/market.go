package models

import "time"

// Quote — latest observed price for one instrument. Staleness judgment
// belongs to the consumer, not the data source.
type Quote struct {
	Instrument string
	Price      float64
	Bid        float64
	Ask        float64
	ObservedAt time.Time
}

func (q Quote) StalerThan(maxAge time.Duration, now time.Time) bool {
	return now.Sub(q.ObservedAt) > maxAge
}

// Snapshot — the per-tick market view handed to a strategy's decision hook.
type Snapshot struct {
	Quotes  map[string]Quote
	TakenAt time.Time
}

func (s Snapshot) Quote(instrument string) (Quote, bool) {
	q, ok := s.Quotes[instrument]
	return q, ok
}
