package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/cache"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

const activeRulesPrefix = "rules:active"

// CachedRuleRepository caches ListActiveRules per symbol. Writes that can
// change the active set drop every cached symbol list.
type CachedRuleRepository struct {
	repository.RuleRepository
	cache cache.Service
	ttl   time.Duration
	lgr   *logger.Logger
}

var _ repository.RuleRepository = (*CachedRuleRepository)(nil)

// NewCachedRuleRepository wraps inner; a non-positive ttl disables caching.
func NewCachedRuleRepository(inner repository.RuleRepository, c cache.Service, ttl time.Duration, lgr *logger.Logger) *CachedRuleRepository {
	return &CachedRuleRepository{RuleRepository: inner, cache: c, ttl: ttl, lgr: lgr}
}

func (r *CachedRuleRepository) ListActiveRules(ctx context.Context, symbol string) ([]models.Rule, error) {
	if r.ttl <= 0 {
		return r.RuleRepository.ListActiveRules(ctx, symbol)
	}
	key := cache.Key(activeRulesPrefix, symbol)

	var rules []models.Rule
	err := r.cache.Get(ctx, key, &rules)
	if err == nil {
		return rules, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.lgr.Warn("rule cache read", logger.String("key", key), logger.Error(err))
	}

	rules, err = r.RuleRepository.ListActiveRules(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, rules, r.ttl); err != nil {
		r.lgr.Warn("rule cache write", logger.String("key", key), logger.Error(err))
	}
	return rules, nil
}

func (r *CachedRuleRepository) CreateTrigger(ctx context.Context, ruleID int64, value decimal.Decimal, at time.Time, deactivate bool) (*models.Trigger, error) {
	t, err := r.RuleRepository.CreateTrigger(ctx, ruleID, value, at, deactivate)
	// an inactive error also means the cached list is stale
	if deactivate && (err == nil || errors.Is(err, models.ErrRuleInactive)) {
		r.invalidate(ctx)
	}
	return t, err
}

func (r *CachedRuleRepository) DeactivateRule(ctx context.Context, ruleID int64) error {
	if err := r.RuleRepository.DeactivateRule(ctx, ruleID); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

// Invalidate drops all cached rule lists.
func (r *CachedRuleRepository) Invalidate(ctx context.Context) {
	r.invalidate(ctx)
}

func (r *CachedRuleRepository) invalidate(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	if err := r.cache.DeleteByPattern(ctx, activeRulesPrefix+":*"); err != nil {
		r.lgr.Warn("rule cache invalidate", logger.Error(err))
	}
}
