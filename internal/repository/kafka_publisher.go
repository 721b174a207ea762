package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	pkgkafka "github.com/vijayshreepathak/QuantAlert/pkg/kafka"
)

// Event types on the egress topic.
const (
	EventTick   = "tick"
	EventCandle = "ohlcv_1m"
)

// MarketEvent is the envelope written to the tick topic.
type MarketEvent struct {
	EventID   string      `json:"event_id"`
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	EmittedAt time.Time   `json:"emitted_at"`
	Data      interface{} `json:"data"`
}

// producer is the subset of pkg/kafka.Producer the publisher needs.
type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaPublisher emits ticks and closed buckets keyed by symbol.
type KafkaPublisher struct {
	producer producer
	topic    string
	now      func() time.Time
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to topic.
func NewKafkaPublisher(p *pkgkafka.Producer, topic string) *KafkaPublisher {
	return newKafkaPublisher(p, topic)
}

func newKafkaPublisher(p producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, t *models.Tick) error {
	return p.producer.Publish(ctx, p.topic, []byte(t.Symbol), p.envelope(EventTick, t.Symbol, t))
}

// PublishCandles writes all buckets in one batch.
func (p *KafkaPublisher) PublishCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(candles))
	for i := range candles {
		c := candles[i]
		msgs[i] = pkgkafka.Message{
			Key:   []byte(c.Symbol),
			Value: p.envelope(EventCandle, c.Symbol, c),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) envelope(kind, symbol string, data interface{}) MarketEvent {
	return MarketEvent{
		EventID:   uuid.NewString(),
		Type:      kind,
		Symbol:    symbol,
		EmittedAt: p.now().UTC(),
		Data:      data,
	}
}

// Close is a no-op; the producer is shared with the notifier and the log collector.
func (p *KafkaPublisher) Close() error { return nil }
