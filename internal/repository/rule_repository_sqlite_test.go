package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
)

var t0 = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

func sampleRule(symbol string, mode models.RuleMode) models.Rule {
	return models.Rule{
		UserID:          1,
		Symbol:          symbol,
		Operator:        models.OpGreater,
		Target:          decimal.RequireFromString("2500.456"),
		Source:          models.SourceOHLCVClose,
		WindowMinutes:   5,
		Mode:            mode,
		CooldownMinutes: 15,
		Active:          true,
	}
}

func newSQLite(t *testing.T) *SQLiteRuleRepository {
	t.Helper()
	repo, err := NewSQLiteRuleRepository(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRuleRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)

	added, err := repo.AddRule(ctx, sampleRule("RELIANCE", models.ModeRecurring))
	require.NoError(t, err)
	_, err = repo.AddRule(ctx, sampleRule("TCS", models.ModeOneShot))
	require.NoError(t, err)

	rules, err := repo.ListActiveRules(ctx, "RELIANCE")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	got := rules[0]
	assert.Equal(t, added.ID, got.ID)
	assert.Equal(t, models.SourceOHLCVClose, got.Source)
	assert.Equal(t, 5, got.WindowMinutes)
	assert.Equal(t, models.ModeRecurring, got.Mode)
	assert.True(t, got.Target.Equal(decimal.RequireFromString("2500.46")), got.Target.String())
	assert.NoError(t, got.Validate())
}

func TestSQLiteCreateTriggerAndHistory(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)
	rule, err := repo.AddRule(ctx, sampleRule("TCS", models.ModeRecurring))
	require.NoError(t, err)

	last, err := repo.LastTrigger(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	first, err := repo.CreateTrigger(ctx, rule.ID, decimal.RequireFromString("3800.123"), t0, false)
	require.NoError(t, err)
	second, err := repo.CreateTrigger(ctx, rule.ID, decimal.RequireFromString("3810"), t0.Add(20*time.Minute), false)
	require.NoError(t, err)

	last, err = repo.LastTrigger(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second.ID, last.ID)
	assert.True(t, last.TriggeredAt.Equal(t0.Add(20*time.Minute)))

	require.NoError(t, repo.MarkNotified(ctx, first.ID, t0.Add(time.Second)))
	require.NoError(t, repo.MarkNotified(ctx, first.ID, t0.Add(time.Hour)))

	history, err := repo.ListTriggers(ctx, rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, "3800.12", history[1].Value.StringFixed(2))
	assert.True(t, history[1].NotificationSent)
	require.NotNil(t, history[1].NotificationSentAt)
	assert.True(t, history[1].NotificationSentAt.Equal(t0.Add(time.Second)))
	assert.False(t, history[0].NotificationSent)

	limited, err := repo.ListTriggers(ctx, rule.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = repo.ListTriggers(ctx, 9999, 10)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.MarkNotified(ctx, 9999, t0), models.ErrNotFound)
}

func TestSQLiteOneShotDeactivatesOnce(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)
	rule, err := repo.AddRule(ctx, sampleRule("INFY", models.ModeOneShot))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		inactive int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateTrigger(ctx, rule.ID, decimal.NewFromInt(1500), t0, true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, models.ErrRuleInactive):
				inactive++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, inactive)
	rules, err := repo.ListActiveRules(ctx, "INFY")
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = repo.CreateTrigger(ctx, 9999, decimal.NewFromInt(1), t0, true)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = repo.CreateTrigger(ctx, 9999, decimal.NewFromInt(1), t0, false)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSQLiteDeactivateRule(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)
	rule, err := repo.AddRule(ctx, sampleRule("HDFCBANK", models.ModeRecurring))
	require.NoError(t, err)

	require.NoError(t, repo.DeactivateRule(ctx, rule.ID))
	rules, err := repo.ListActiveRules(ctx, "HDFCBANK")
	require.NoError(t, err)
	assert.Empty(t, rules)
	assert.ErrorIs(t, repo.DeactivateRule(ctx, 9999), models.ErrNotFound)
}

func TestSQLiteSkipsUnknownValueSource(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)
	_, err := repo.db.ExecContext(ctx, `INSERT INTO alert_rules
        (symbol, condition_type, target_price, data_source, column_name) VALUES ('TCS', '>', '1.00', 'ohlcv', 'vwap')`)
	require.NoError(t, err)

	rules, err := repo.ListActiveRules(ctx, "TCS")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Error(t, rules[0].Validate())
}
