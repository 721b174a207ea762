package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	pkgkafka "github.com/vijayshreepathak/QuantAlert/pkg/kafka"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
	"github.com/vijayshreepathak/QuantAlert/pkg/util"
)

// KafkaConfig configures the upstream tick topic adapter.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	PollInterval time.Duration
	Freshness    time.Duration
	Consumer     []pkgkafka.ConsumerOption
}

// KafkaFeed consumes {symbol, price, volume, ts} messages and keeps the
// newest tick per symbol.
type KafkaFeed struct {
	cfg     KafkaConfig
	fresh   Freshness
	metrics drepo.Metrics
	lgr     *logger.Logger

	mu       sync.RWMutex
	latest   map[string]*models.Tick
	consumer *pkgkafka.Consumer
}

var (
	_ drepo.FeedSource        = (*KafkaFeed)(nil)
	_ pkgkafka.MessageHandler = (*KafkaFeed)(nil)
)

func NewKafkaFeed(cfg KafkaConfig, metrics drepo.Metrics, lgr *logger.Logger) *KafkaFeed {
	return &KafkaFeed{
		cfg:     cfg,
		fresh:   NewFreshness(cfg.Freshness),
		metrics: metrics,
		lgr:     lgr.With(logger.String("provider", Kafka)),
		latest:  make(map[string]*models.Tick),
	}
}

func (f *KafkaFeed) Name() string                { return Kafka }
func (f *KafkaFeed) PollInterval() time.Duration { return f.cfg.PollInterval }
func (f *KafkaFeed) Topic() string               { return f.cfg.Topic }

// Start fails as unavailable when no broker answers.
func (f *KafkaFeed) Start(ctx context.Context) error {
	if err := pkgkafka.Ping(ctx, f.cfg.Brokers); err != nil {
		return fmt.Errorf("%s: %v: %w", Kafka, err, models.ErrProviderUnavailable)
	}
	opts := append([]pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(f.cfg.Brokers),
		pkgkafka.WithConsumerLogger(f.lgr),
	}, f.cfg.Consumer...)
	c, err := pkgkafka.NewConsumer(opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", Kafka, err)
	}
	c.RegisterHandler(f)
	c.WithConsumerHook(pkgkafka.HookFuncs{
		After: func(_ context.Context, _ string, km kafka.Message, _ []byte, err error) {
			if err == nil && !km.Time.IsZero() {
				f.metrics.RecordLatency("kafka_feed_lag", time.Since(km.Time).Seconds())
			}
		},
	})
	if err := c.Start(); err != nil {
		return fmt.Errorf("%s: %w", Kafka, err)
	}
	f.mu.Lock()
	f.consumer = c
	f.mu.Unlock()
	return nil
}

type kafkaTick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Volume int64           `json:"volume"`
	TS     json.RawMessage `json:"ts"`
}

// Handle decodes one upstream message.
func (f *KafkaFeed) Handle(_ context.Context, b []byte) error {
	var m kafkaTick
	if err := json.Unmarshal(b, &m); err != nil {
		f.metrics.RecordError("feed_decode")
		return fmt.Errorf("decode tick: %w", err)
	}
	ts, ok := util.ParseTime(string(bytes.Trim(m.TS, `"`)))
	if !ok || m.Symbol == "" {
		f.metrics.RecordError("feed_decode")
		return fmt.Errorf("decode tick: missing symbol or ts in %s", b)
	}
	t := models.NewTick(strings.ToUpper(m.Symbol), m.Price, m.Volume, ts, Kafka)
	if err := t.Validate(); err != nil {
		f.metrics.RecordError("feed_decode")
		return fmt.Errorf("decode tick: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.latest[t.Symbol]; ok && prev.Timestamp.After(t.Timestamp) {
		return nil
	}
	f.latest[t.Symbol] = t
	return nil
}

func (f *KafkaFeed) Fetch(_ context.Context, symbol string) (*models.Tick, error) {
	f.mu.RLock()
	t, ok := f.latest[symbol]
	f.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !f.fresh.Fresh(t.Timestamp) {
		f.metrics.RecordStale(Kafka)
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *KafkaFeed) Close() error {
	f.mu.Lock()
	c := f.consumer
	f.consumer = nil
	f.mu.Unlock()
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Stop(ctx)
}
