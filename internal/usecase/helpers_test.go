package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
)

var t0 = time.Date(2024, 10, 10, 9, 15, 0, 0, time.UTC)

// newStore returns a store whose wall clock sits at t0, so every bucket from t0 on is open.
func newStore(maxTicks int) *TimeSeriesStore {
	return NewTimeSeriesStore(time.Minute, maxTicks).WithClock(func() time.Time { return t0 })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tick(symbol, price string, volume int64, ts time.Time) *models.Tick {
	return models.NewTick(symbol, dec(price), volume, ts, "test")
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n *models.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, *n)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}
