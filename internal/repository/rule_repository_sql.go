package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
)

// Column lists shared by the SQL rule stores. Prices are selected as text so
// both drivers scan them into a string and parse with decimal.
const (
	ruleColumnsFmt = `id, user_id, symbol, condition_type, %s, alert_type, cooldown_minutes,
        data_source, column_name, ohlcv_timeframe_minutes, is_active`
	triggerColumnsFmt = `id, alert_rule_id, %s, triggered_at, email_sent, email_sent_at`
)

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type ruleRow struct {
	id, userID                     int64
	symbol, condition, price, mode string
	cooldown, window               int
	dataSource, column             string
	active                         bool
}

func scanRule(s rowScanner) (models.Rule, error) {
	var r ruleRow
	if err := s.Scan(&r.id, &r.userID, &r.symbol, &r.condition, &r.price, &r.mode, &r.cooldown,
		&r.dataSource, &r.column, &r.window, &r.active); err != nil {
		return models.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	return r.model()
}

func (r ruleRow) model() (models.Rule, error) {
	target, err := decimal.NewFromString(r.price)
	if err != nil {
		return models.Rule{}, fmt.Errorf("rule %d: target_price %q: %w", r.id, r.price, err)
	}
	src, err := models.ParseValueSource(r.dataSource, r.column)
	if err != nil {
		// kept unparsed so Validate rejects it and the evaluator skips the rule
		src = models.ValueSource(r.dataSource + "." + r.column)
	}
	return models.Rule{
		ID:              r.id,
		UserID:          r.userID,
		Symbol:          r.symbol,
		Operator:        models.Operator(r.condition),
		Target:          target,
		Source:          src,
		WindowMinutes:   r.window,
		Mode:            models.RuleMode(r.mode),
		CooldownMinutes: r.cooldown,
		Active:          r.active,
	}, nil
}

// ruleArgs returns the insert arguments in ruleColumnsFmt order, minus id.
func ruleArgs(r models.Rule) []any {
	dataSource, column := r.Source.Columns()
	mode := r.Mode
	if mode == "" {
		mode = models.ModeOneShot
	}
	window := r.WindowMinutes
	if window <= 0 {
		window = 1
	}
	return []any{
		r.UserID, r.Symbol, string(r.Operator), models.RoundPrice(r.Target).StringFixed(models.PriceScale),
		string(mode), r.CooldownMinutes, dataSource, column, window, r.Active,
	}
}

func newTrigger(id, ruleID int64, price string, at time.Time, sent bool, sentAt *time.Time) (models.Trigger, error) {
	v, err := decimal.NewFromString(price)
	if err != nil {
		return models.Trigger{}, fmt.Errorf("trigger %d: triggered_price %q: %w", id, price, err)
	}
	t := models.Trigger{
		ID:               id,
		RuleID:           ruleID,
		Value:            v,
		TriggeredAt:      at.UTC(),
		NotificationSent: sent,
	}
	if sentAt != nil {
		u := sentAt.UTC()
		t.NotificationSentAt = &u
	}
	return t, nil
}
