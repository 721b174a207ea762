package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
)

// series holds the tick log and buckets of a single symbol.
type series struct {
	mu      sync.RWMutex
	ticks   []models.Tick
	buckets []*models.Candle // ascending by Bucket
}

// TimeSeriesStore is the in-memory tick log and OHLCV aggregator.
type TimeSeriesStore struct {
	width    time.Duration
	maxTicks int
	now      func() time.Time

	mu     sync.RWMutex
	series map[string]*series
}

// NewTimeSeriesStore creates a store folding ticks into buckets of the given width.
// maxTicks bounds the in-memory tick log per symbol; 0 keeps everything.
func NewTimeSeriesStore(width time.Duration, maxTicks int) *TimeSeriesStore {
	if width <= 0 {
		width = time.Minute
	}
	return &TimeSeriesStore{
		width:    width,
		maxTicks: maxTicks,
		now:      time.Now,
		series:   make(map[string]*series),
	}
}

// WithClock overrides the wall clock used to close buckets and by RecentBuckets.
func (s *TimeSeriesStore) WithClock(now func() time.Time) *TimeSeriesStore {
	s.now = now
	return s
}

// BucketWidth returns the aggregation width.
func (s *TimeSeriesStore) BucketWidth() time.Duration { return s.width }

func (s *TimeSeriesStore) get(symbol string) (*series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[symbol]
	return ser, ok
}

func (s *TimeSeriesStore) getOrCreate(symbol string) *series {
	if ser, ok := s.get(symbol); ok {
		return ser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok := s.series[symbol]; ok {
		return ser
	}
	ser := &series{}
	s.series[symbol] = ser
	return ser
}

// RecordTick appends the tick to the log and folds it into its bucket.
// A tick for a bucket that has already closed is rejected with ErrBucketClosed.
func (s *TimeSeriesStore) RecordTick(t *models.Tick) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(t.Symbol, t.Timestamp); err != nil {
		return err
	}
	ser := s.getOrCreate(t.Symbol)

	ser.mu.Lock()
	defer ser.mu.Unlock()

	ser.ticks = append(ser.ticks, *t)
	s.trimLocked(ser)
	s.foldLocked(ser, t.Symbol, t.Price, t.Volume, t.Timestamp)
	return nil
}

// FoldIntoBucket creates or updates the bucket that contains ts.
func (s *TimeSeriesStore) FoldIntoBucket(symbol string, price decimal.Decimal, volume int64, ts time.Time) error {
	if err := s.checkOpen(symbol, ts); err != nil {
		return err
	}
	ser := s.getOrCreate(symbol)
	ser.mu.Lock()
	defer ser.mu.Unlock()
	s.foldLocked(ser, symbol, models.RoundPrice(price), volume, ts)
	return nil
}

// checkOpen fails when the bucket containing ts ended at or before now. Such a bucket
// may already be archived, so neither an update nor a late insert is allowed.
func (s *TimeSeriesStore) checkOpen(symbol string, ts time.Time) error {
	start := ts.UTC().Truncate(s.width)
	if !start.Add(s.width).After(s.now().UTC()) {
		return fmt.Errorf("%s bucket %s: %w", symbol, start.Format(time.RFC3339), models.ErrBucketClosed)
	}
	return nil
}

// trimLocked bounds the tick log. It lets the log overshoot by a quarter before
// compacting so the copy is amortised over many ticks.
func (s *TimeSeriesStore) trimLocked(ser *series) {
	if s.maxTicks <= 0 {
		return
	}
	slack := s.maxTicks / 4
	if slack < 1 {
		slack = 1
	}
	if len(ser.ticks) <= s.maxTicks+slack {
		return
	}
	n := copy(ser.ticks, ser.ticks[len(ser.ticks)-s.maxTicks:])
	clear(ser.ticks[n:])
	ser.ticks = ser.ticks[:n]
}

// retainedLocked is the visible part of the tick log.
func (s *TimeSeriesStore) retainedLocked(ser *series) []models.Tick {
	if s.maxTicks > 0 && len(ser.ticks) > s.maxTicks {
		return ser.ticks[len(ser.ticks)-s.maxTicks:]
	}
	return ser.ticks
}

func (s *TimeSeriesStore) foldLocked(ser *series, symbol string, price decimal.Decimal, volume int64, ts time.Time) {
	start := ts.UTC().Truncate(s.width)

	// Buckets almost always grow at the tail; search from there.
	n := len(ser.buckets)
	if n > 0 && ser.buckets[n-1].Bucket.Equal(start) {
		ser.buckets[n-1].Fold(price, volume)
		return
	}
	i := sort.Search(n, func(i int) bool { return !ser.buckets[i].Bucket.Before(start) })
	if i < n && ser.buckets[i].Bucket.Equal(start) {
		ser.buckets[i].Fold(price, volume)
		return
	}
	c := models.NewCandle(symbol, start, price, volume)
	ser.buckets = append(ser.buckets, nil)
	copy(ser.buckets[i+1:], ser.buckets[i:])
	ser.buckets[i] = c
}

// Latest returns the most recent tick by timestamp; ties go to the later arrival.
func (s *TimeSeriesStore) Latest(symbol string) (*models.Tick, bool) {
	ser, ok := s.get(symbol)
	if !ok {
		return nil, false
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	ticks := s.retainedLocked(ser)
	if len(ticks) == 0 {
		return nil, false
	}
	best := len(ticks) - 1
	for i := len(ticks) - 2; i >= 0; i-- {
		if ticks[i].Timestamp.After(ticks[best].Timestamp) {
			best = i
		}
	}
	t := ticks[best]
	return &t, true
}

// Ticks returns a copy of the retained tick log for symbol in arrival order.
func (s *TimeSeriesStore) Ticks(symbol string) []models.Tick {
	ser, ok := s.get(symbol)
	if !ok {
		return nil
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	ticks := s.retainedLocked(ser)
	out := make([]models.Tick, len(ticks))
	copy(out, ticks)
	return out
}

// RecentBuckets returns buckets starting within the last windowMinutes, most recent first.
func (s *TimeSeriesStore) RecentBuckets(symbol string, windowMinutes int) []models.Candle {
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	now := s.now().UTC()
	return s.bucketsBetween(symbol, now.Add(-time.Duration(windowMinutes)*time.Minute), now)
}

// LatestBucketWithin returns the most recent bucket whose start lies in [at-window, at].
func (s *TimeSeriesStore) LatestBucketWithin(symbol string, window time.Duration, at time.Time) (*models.Candle, bool) {
	ser, ok := s.get(symbol)
	if !ok {
		return nil, false
	}
	at = at.UTC()
	from := at.Add(-window)

	ser.mu.RLock()
	defer ser.mu.RUnlock()
	for i := len(ser.buckets) - 1; i >= 0; i-- {
		b := ser.buckets[i].Bucket
		if b.After(at) {
			continue
		}
		if b.Before(from) {
			return nil, false
		}
		c := *ser.buckets[i]
		return &c, true
	}
	return nil, false
}

func (s *TimeSeriesStore) bucketsBetween(symbol string, from, to time.Time) []models.Candle {
	ser, ok := s.get(symbol)
	if !ok {
		return nil
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()

	out := make([]models.Candle, 0)
	for i := len(ser.buckets) - 1; i >= 0; i-- {
		b := ser.buckets[i].Bucket
		if b.After(to) {
			continue
		}
		if b.Before(from) {
			break
		}
		out = append(out, *ser.buckets[i])
	}
	return out
}

// ClosedBuckets returns, for every symbol, the buckets that start in [from, to)
// and have ended by to.
func (s *TimeSeriesStore) ClosedBuckets(from, to time.Time) []models.Candle {
	var out []models.Candle
	for _, sym := range s.KnownSymbols() {
		ser, _ := s.get(sym)
		ser.mu.RLock()
		for _, c := range ser.buckets {
			if c.Bucket.Before(from) || !c.Bucket.Before(to) || c.End(s.width).After(to) {
				continue
			}
			out = append(out, *c)
		}
		ser.mu.RUnlock()
	}
	return out
}

// KnownSymbols lists every symbol with at least one tick or bucket, sorted.
func (s *TimeSeriesStore) KnownSymbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
