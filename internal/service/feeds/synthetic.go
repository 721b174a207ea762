package feeds

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
)

const (
	syntheticStep    = 0.01
	syntheticBand    = 0.20
	syntheticDefault = 1000.0
)

var defaultSyntheticSeeds = map[string]float64{
	"RELIANCE":  2500,
	"TCS":       3800,
	"INFY":      1500,
	"HDFCBANK":  1600,
	"ICICIBANK": 950,
}

// SyntheticFeed is a seeded bounded random walk. It is the last resort
// when every real provider is unavailable and never fails.
type SyntheticFeed struct {
	interval time.Duration
	seeds    map[string]float64
	now      func() time.Time

	mu     sync.Mutex
	rnd    *rand.Rand
	prices map[string]float64
}

var _ drepo.FeedSource = (*SyntheticFeed)(nil)

// NewSyntheticFeed merges overrides into the default seed prices.
func NewSyntheticFeed(seed int64, overrides map[string]float64, interval time.Duration) *SyntheticFeed {
	seeds := make(map[string]float64, len(defaultSyntheticSeeds)+len(overrides))
	for k, v := range defaultSyntheticSeeds {
		seeds[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			seeds[k] = v
		}
	}
	return &SyntheticFeed{
		interval: interval,
		seeds:    seeds,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(seed)),
		prices:   make(map[string]float64),
	}
}

func (f *SyntheticFeed) Name() string                { return Synthetic }
func (f *SyntheticFeed) PollInterval() time.Duration { return f.interval }
func (f *SyntheticFeed) Start(context.Context) error { return nil }
func (f *SyntheticFeed) Close() error                { return nil }

func (f *SyntheticFeed) seedFor(symbol string) float64 {
	if s, ok := f.seeds[symbol]; ok {
		return s
	}
	return syntheticDefault
}

// Fetch advances the walk for symbol by one step.
func (f *SyntheticFeed) Fetch(_ context.Context, symbol string) (*models.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seed := f.seedFor(symbol)
	price, ok := f.prices[symbol]
	if !ok {
		price = seed
	}
	price *= 1 + (f.rnd.Float64()*2-1)*syntheticStep
	lo, hi := seed*(1-syntheticBand), seed*(1+syntheticBand)
	if price < lo {
		price = lo
	}
	if price > hi {
		price = hi
	}
	f.prices[symbol] = price
	volume := 1000 + f.rnd.Int63n(9001)

	return models.NewTick(symbol, models.PriceFromFloat(price), volume, f.now(), Synthetic), nil
}
