package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trigger is the durable record of one rule firing.
type Trigger struct {
	ID                 int64           `json:"id"`
	RuleID             int64           `json:"rule_id"`
	Value              decimal.Decimal `json:"value"`
	TriggeredAt        time.Time       `json:"triggered_at"`
	NotificationSent   bool            `json:"notification_sent"`
	NotificationSentAt *time.Time      `json:"notification_sent_at,omitempty"`
}

// Notification is the unit of work handed to the notification dispatcher.
type Notification struct {
	Trigger Trigger         `json:"trigger"`
	Rule    Rule            `json:"rule"`
	Value   decimal.Decimal `json:"value"`
}
