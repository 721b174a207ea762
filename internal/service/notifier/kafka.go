package notifier

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	pkgkafka "github.com/vijayshreepathak/QuantAlert/pkg/kafka"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaNotifier publishes alerts to the trigger topic keyed by symbol.
type KafkaNotifier struct {
	producer publisher
	topic    string
}

func NewKafkaNotifier(p *pkgkafka.Producer, topic string) *KafkaNotifier {
	return newKafkaNotifier(p, topic)
}

func newKafkaNotifier(p publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: p, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, t *models.Trigger, r *models.Rule, value decimal.Decimal) error {
	a := NewAlert(t, r, value)
	a.EventID = uuid.NewString()
	if err := n.producer.Publish(ctx, n.topic, []byte(r.Symbol), a); err != nil {
		return failed(ChannelKafka, err)
	}
	return nil
}
