// Package marketdata maintains the latest-quote cache the dispatcher,
// watch loop and strategies read from. Freshness judgment is the
// consumer's job; the feed only records when a quote was observed.
package marketdata

import (
	"sync"
	"time"

	"trade_engine/internal/models"
)

type Feed interface {
	Latest(instrument string) (models.Quote, bool)
}

// Cache is the shared snapshot store every feed implementation writes into.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]models.Quote)}
}

func (c *Cache) Update(q models.Quote) {
	if q.ObservedAt.IsZero() {
		q.ObservedAt = time.Now()
	}
	c.mu.Lock()
	c.quotes[q.Instrument] = q
	c.mu.Unlock()
}

func (c *Cache) Latest(instrument string) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[instrument]
	return q, ok
}

// Snapshot collects the listed instruments into one market view.
func (c *Cache) Snapshot(instruments []string) models.Snapshot {
	out := models.Snapshot{
		Quotes:  make(map[string]models.Quote, len(instruments)),
		TakenAt: time.Now(),
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, inst := range instruments {
		if q, ok := c.quotes[inst]; ok {
			out.Quotes[inst] = q
		}
	}
	return out
}
