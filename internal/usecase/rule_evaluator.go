package usecase

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

// RuleEvaluator checks every active rule of a symbol against each incoming tick.
type RuleEvaluator struct {
	rules      drepo.RuleRepository
	series     drepo.TimeSeries
	locker     RuleLocker
	dispatcher drepo.Dispatcher
	metrics    drepo.Metrics
	lgr        *logger.Logger
	timeout    time.Duration
}

// NewRuleEvaluator creates a new RuleEvaluator instance.
func NewRuleEvaluator(
	rules drepo.RuleRepository,
	series drepo.TimeSeries,
	locker RuleLocker,
	dispatcher drepo.Dispatcher,
	metrics drepo.Metrics,
	lgr *logger.Logger,
	timeout time.Duration,
) *RuleEvaluator {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RuleEvaluator{
		rules:      rules,
		series:     series,
		locker:     locker,
		dispatcher: dispatcher,
		metrics:    metrics,
		lgr:        lgr,
		timeout:    timeout,
	}
}

// Evaluate runs all active rules bound to the tick's symbol and returns the triggers it persisted.
// The error is non-nil only when the rules could not be listed.
func (e *RuleEvaluator) Evaluate(ctx context.Context, t *models.Tick) ([]models.Trigger, error) {
	start := time.Now()
	defer func() { e.metrics.RecordLatency("evaluate", time.Since(start).Seconds()) }()

	lctx, cancel := context.WithTimeout(ctx, e.timeout)
	rules, err := e.rules.ListActiveRules(lctx, t.Symbol)
	cancel()
	if err != nil {
		e.metrics.RecordError("list_rules")
		return nil, fmt.Errorf("list active rules %s: %w", t.Symbol, err)
	}

	var fired []models.Trigger
	for i := range rules {
		r := &rules[i]
		if !r.Active || r.Symbol != t.Symbol {
			continue
		}
		if err := r.Validate(); err != nil {
			e.lgr.Warn("skipping invalid rule", logger.Int64("rule_id", r.ID), logger.Error(err))
			continue
		}

		value, err := e.Resolve(r, t)
		if err != nil {
			if errors.Is(err, models.ErrRuleResolutionMiss) {
				e.lgr.Debug("rule has no data yet", logger.Int64("rule_id", r.ID), logger.String("source", string(r.Source)))
			} else {
				e.lgr.Warn("resolve rule value", logger.Int64("rule_id", r.ID), logger.Error(err))
			}
			continue
		}
		if !r.Operator.Compare(value, r.Target) {
			continue
		}

		trig, err := e.fire(ctx, r, value, t)
		if err != nil {
			continue
		}
		if trig != nil {
			fired = append(fired, *trig)
		}
	}
	return fired, nil
}

// Resolve maps a rule to the value it compares: tick fields come from the tick,
// OHLCV fields from the newest bucket within the rule window ending at the tick time.
func (e *RuleEvaluator) Resolve(r *models.Rule, t *models.Tick) (decimal.Decimal, error) {
	if r.Source.IsTick() {
		return r.Source.FromTick(t)
	}
	c, ok := e.series.LatestBucketWithin(r.Symbol, r.Window(), t.Timestamp)
	if !ok {
		return decimal.Zero, fmt.Errorf("rule %d %s: %w", r.ID, r.Source, models.ErrRuleResolutionMiss)
	}
	return r.Source.FromCandle(c)
}

// Eligible applies one-shot and cooldown gating given the last firing (nil when never fired).
func Eligible(r *models.Rule, last *models.Trigger, at time.Time) bool {
	if last == nil {
		return true
	}
	if r.IsOneShot() {
		return false
	}
	return at.Sub(last.TriggeredAt) >= r.Cooldown()
}

// fire runs the check-persist-dispatch sequence under the rule lock.
// A nil trigger with nil error means the rule was not eligible.
func (e *RuleEvaluator) fire(ctx context.Context, r *models.Rule, value decimal.Decimal, t *models.Tick) (*models.Trigger, error) {
	unlock, err := e.locker.Lock(ctx, r.ID)
	if err != nil {
		e.metrics.RecordError("rule_lock")
		e.lgr.Error("acquire rule lock", logger.Int64("rule_id", r.ID), logger.Error(err))
		return nil, err
	}
	defer unlock()

	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	last, err := e.rules.LastTrigger(pctx, r.ID)
	if err != nil {
		e.metrics.RecordError("persistence")
		e.lgr.Error("load last trigger", logger.Int64("rule_id", r.ID), logger.Error(err))
		return nil, err
	}
	if !Eligible(r, last, t.Timestamp) {
		return nil, nil
	}

	trig, err := e.rules.CreateTrigger(pctx, r.ID, value, t.Timestamp, r.IsOneShot())
	if err != nil {
		if errors.Is(err, models.ErrRuleInactive) {
			e.lgr.Debug("rule already fired", logger.Int64("rule_id", r.ID))
			return nil, nil
		}
		e.metrics.RecordError("persistence")
		e.lgr.Error("persist trigger", logger.Int64("rule_id", r.ID), logger.Error(err))
		return nil, err
	}
	e.metrics.RecordTrigger(string(r.Mode))
	e.lgr.Info("alert triggered",
		logger.Int64("rule_id", r.ID),
		logger.Int64("trigger_id", trig.ID),
		logger.String("condition", r.String()),
		logger.Decimal("value", value),
		logger.Time("triggered_at", trig.TriggeredAt),
	)

	n := &models.Notification{Trigger: *trig, Rule: *r, Value: value}
	if r.IsOneShot() {
		n.Rule.Active = false
	}
	if err := e.dispatcher.Dispatch(ctx, n); err != nil {
		e.metrics.RecordNotification("dispatch_failed")
		e.lgr.Error("dispatch notification", logger.Int64("trigger_id", trig.ID), logger.Error(err))
	}
	return trig, nil
}
