package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
)

// FeedSource is one upstream market data provider.
// Fetch returns (nil, nil) when there is no fresh value for the symbol.
type FeedSource interface {
	Name() string
	Start(ctx context.Context) error
	Fetch(ctx context.Context, symbol string) (*models.Tick, error)
	PollInterval() time.Duration
	Close() error
}

// TickSink receives normalized ticks from the feed orchestrator.
type TickSink func(ctx context.Context, t *models.Tick) error

// TimeSeries is the read side of the tick/OHLCV store.
type TimeSeries interface {
	Latest(symbol string) (*models.Tick, bool)
	RecentBuckets(symbol string, windowMinutes int) []models.Candle
	LatestBucketWithin(symbol string, window time.Duration, at time.Time) (*models.Candle, bool)
	KnownSymbols() []string
}

// RuleRepository is the persistence boundary for alert rules and triggers.
type RuleRepository interface {
	ListActiveRules(ctx context.Context, symbol string) ([]models.Rule, error)
	LastTrigger(ctx context.Context, ruleID int64) (*models.Trigger, error)
	// CreateTrigger records a firing. With deactivate set, the rule is switched off
	// in the same unit of work and ErrRuleInactive is returned if it already was.
	CreateTrigger(ctx context.Context, ruleID int64, value decimal.Decimal, at time.Time, deactivate bool) (*models.Trigger, error)
	MarkNotified(ctx context.Context, triggerID int64, at time.Time) error
	DeactivateRule(ctx context.Context, ruleID int64) error
	ListTriggers(ctx context.Context, ruleID int64, limit int) ([]models.Trigger, error)
	Close() error
}

// Notifier delivers a trigger to the user.
type Notifier interface {
	Notify(ctx context.Context, trigger *models.Trigger, rule *models.Rule, value decimal.Decimal) error
}

// Dispatcher runs notification delivery off the evaluation path.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notification) error
}

// Broadcaster pushes live ticks to subscribers; delivery is best effort.
type Broadcaster interface {
	Broadcast(t *models.Tick)
}

// Publisher emits ticks and closed buckets to a downstream bus.
type Publisher interface {
	Publish(ctx context.Context, t *models.Tick) error
	PublishCandles(ctx context.Context, candles []models.Candle) error
	Close() error
}

// TickArchive is the durable copy of the tick log and closed buckets.
type TickArchive interface {
	StoreBatch(ctx context.Context, ticks []*models.Tick) error
	StoreCandles(ctx context.Context, candles []models.Candle) error
	Health(ctx context.Context) error
	Close() error
}

// Metrics records pipeline telemetry.
type Metrics interface {
	RecordTick(source, symbol string)
	RecordStale(provider string)
	RecordPollError(provider string)
	RecordActiveProvider(provider string)
	RecordTrigger(mode string)
	RecordNotification(result string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
