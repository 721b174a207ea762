// Package notifier delivers fired triggers to users. Every channel returns an
// error wrapping models.ErrNotificationFailed when delivery fails.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// Channel names accepted in configuration.
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
	ChannelKafka   = "kafka"
)

// Alert is the payload shared by the webhook and kafka channels.
type Alert struct {
	EventID     string          `json:"event_id,omitempty"`
	Message     string          `json:"message"`
	Symbol      string          `json:"symbol"`
	TriggerID   int64           `json:"trigger_id"`
	RuleID      int64           `json:"rule_id"`
	UserID      int64           `json:"user_id"`
	Condition   string          `json:"condition"`
	Target      decimal.Decimal `json:"target"`
	Value       decimal.Decimal `json:"value"`
	Mode        models.RuleMode `json:"mode"`
	TriggeredAt time.Time       `json:"triggered_at"`
}

// NewAlert renders the alert for a trigger.
func NewAlert(t *models.Trigger, r *models.Rule, value decimal.Decimal) Alert {
	return Alert{
		Message: fmt.Sprintf("%s triggered at %s (%s %s %s)",
			r.Symbol, value.StringFixed(models.PriceScale), r.Source, r.Operator, r.Target.StringFixed(models.PriceScale)),
		Symbol:      r.Symbol,
		TriggerID:   t.ID,
		RuleID:      r.ID,
		UserID:      r.UserID,
		Condition:   r.String(),
		Target:      r.Target,
		Value:       value,
		Mode:        r.Mode,
		TriggeredAt: t.TriggeredAt,
	}
}

func failed(channel string, err error) error {
	return fmt.Errorf("%s: %w: %w", channel, models.ErrNotificationFailed, err)
}

// LogNotifier writes one structured line per trigger.
type LogNotifier struct {
	lgr *logger.Logger
}

func NewLogNotifier(lgr *logger.Logger) *LogNotifier {
	return &LogNotifier{lgr: lgr}
}

func (n *LogNotifier) Notify(_ context.Context, t *models.Trigger, r *models.Rule, value decimal.Decimal) error {
	n.lgr.Info("alert triggered",
		logger.Int64("trigger_id", t.ID),
		logger.Int64("rule_id", r.ID),
		logger.Int64("user_id", r.UserID),
		logger.String("condition", r.String()),
		logger.Decimal("value", value),
		logger.Time("triggered_at", t.TriggeredAt))
	return nil
}

// MultiNotifier fans out to every channel and fails if any channel fails.
type MultiNotifier struct {
	channels []drepo.Notifier
}

func NewMultiNotifier(channels ...drepo.Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

func (m *MultiNotifier) Notify(ctx context.Context, t *models.Trigger, r *models.Rule, value decimal.Decimal) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Notify(ctx, t, r, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ drepo.Notifier = (*LogNotifier)(nil)
	_ drepo.Notifier = (*MultiNotifier)(nil)
	_ drepo.Notifier = (*WebhookNotifier)(nil)
	_ drepo.Notifier = (*KafkaNotifier)(nil)
)
