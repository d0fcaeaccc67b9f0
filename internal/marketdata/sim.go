package marketdata

import (
	"context"
	"math/rand"
	"time"

	"trade_engine/internal/models"
)

// SimFeed walks each instrument's price randomly around its seed value.
// Lets the whole engine run end to end without a venue connection.
type SimFeed struct {
	cache *Cache
	seeds map[string]float64
	step  time.Duration
}

func NewSimFeed(instruments []string, cache *Cache) *SimFeed {
	seeds := make(map[string]float64, len(instruments))
	for i, inst := range instruments {
		seeds[inst] = 100 + float64(i)*50
	}
	return &SimFeed{cache: cache, seeds: seeds, step: time.Second}
}

func (f *SimFeed) Start(ctx context.Context) {
	prices := make(map[string]float64, len(f.seeds))
	for k, v := range f.seeds {
		prices[k] = v
	}
	ticker := time.NewTicker(f.step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for inst, px := range prices {
				px += px * (rand.Float64() - 0.5) * 0.002
				prices[inst] = px
				f.cache.Update(models.Quote{
					Instrument: inst,
					Price:      px,
					Bid:        px * 0.9995,
					Ask:        px * 1.0005,
					ObservedAt: time.Now(),
				})
			}
		}
	}
}
