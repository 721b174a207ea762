package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
)

// MemoryRuleRepository keeps rules and triggers in process memory.
type MemoryRuleRepository struct {
	mu            sync.Mutex
	rules         map[int64]*models.Rule
	triggers      map[int64][]models.Trigger
	nextRuleID    int64
	nextTriggerID int64
}

var _ repository.RuleRepository = (*MemoryRuleRepository)(nil)

// NewMemoryRuleRepository creates an empty repository.
func NewMemoryRuleRepository() *MemoryRuleRepository {
	return &MemoryRuleRepository{
		rules:    make(map[int64]*models.Rule),
		triggers: make(map[int64][]models.Trigger),
	}
}

// AddRule stores r, assigning an id when r.ID is zero.
func (m *MemoryRuleRepository) AddRule(r models.Rule) models.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextRuleID++
		r.ID = m.nextRuleID
	} else if r.ID > m.nextRuleID {
		m.nextRuleID = r.ID
	}
	cp := r
	m.rules[r.ID] = &cp
	return r
}

func (m *MemoryRuleRepository) ListActiveRules(_ context.Context, symbol string) ([]models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Rule, 0)
	for _, r := range m.rules {
		if r.Active && r.Symbol == symbol {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRuleRepository) LastTrigger(_ context.Context, ruleID int64) (*models.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.triggers[ruleID]
	if len(ts) == 0 {
		return nil, nil
	}
	last := ts[0]
	for _, t := range ts[1:] {
		if t.TriggeredAt.After(last.TriggeredAt) || (t.TriggeredAt.Equal(last.TriggeredAt) && t.ID > last.ID) {
			last = t
		}
	}
	return &last, nil
}

func (m *MemoryRuleRepository) CreateTrigger(_ context.Context, ruleID int64, value decimal.Decimal, at time.Time, deactivate bool) (*models.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
	}
	if deactivate {
		if !r.Active {
			return nil, fmt.Errorf("rule %d: %w", ruleID, models.ErrRuleInactive)
		}
		r.Active = false
	}
	m.nextTriggerID++
	t := models.Trigger{
		ID:          m.nextTriggerID,
		RuleID:      ruleID,
		Value:       models.RoundPrice(value),
		TriggeredAt: at.UTC(),
	}
	m.triggers[ruleID] = append(m.triggers[ruleID], t)
	return &t, nil
}

func (m *MemoryRuleRepository) MarkNotified(_ context.Context, triggerID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ruleID, ts := range m.triggers {
		for i := range ts {
			if ts[i].ID != triggerID {
				continue
			}
			if !ts[i].NotificationSent {
				sentAt := at.UTC()
				ts[i].NotificationSent = true
				ts[i].NotificationSentAt = &sentAt
				m.triggers[ruleID] = ts
			}
			return nil
		}
	}
	return fmt.Errorf("trigger %d: %w", triggerID, models.ErrNotFound)
}

func (m *MemoryRuleRepository) DeactivateRule(_ context.Context, ruleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
	}
	r.Active = false
	return nil
}

func (m *MemoryRuleRepository) ListTriggers(_ context.Context, ruleID int64, limit int) ([]models.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[ruleID]; !ok {
		return nil, fmt.Errorf("rule %d: %w", ruleID, models.ErrNotFound)
	}
	ts := append([]models.Trigger(nil), m.triggers[ruleID]...)
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].TriggeredAt.Equal(ts[j].TriggeredAt) {
			return ts[i].ID > ts[j].ID
		}
		return ts[i].TriggeredAt.After(ts[j].TriggeredAt)
	})
	if limit > 0 && len(ts) > limit {
		ts = ts[:limit]
	}
	return ts, nil
}

func (m *MemoryRuleRepository) Close() error { return nil }
