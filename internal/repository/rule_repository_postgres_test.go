package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
)

// newPostgres needs a disposable database at RULES_TEST_POSTGRES_DSN.
func newPostgres(t *testing.T) *PostgresRuleRepository {
	t.Helper()
	dsn := os.Getenv("RULES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RULES_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	repo, err := NewPostgresRuleRepository(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// uniqueSymbol keeps runs against a shared database apart.
func uniqueSymbol(base string) string {
	return base + "-" + uuid.NewString()[:8]
}

func TestPostgresRuleRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newPostgres(t)
	sym := uniqueSymbol("RELIANCE")

	added, err := repo.AddRule(ctx, sampleRule(sym, models.ModeRecurring))
	require.NoError(t, err)

	rules, err := repo.ListActiveRules(ctx, sym)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, added.ID, rules[0].ID)
	assert.Equal(t, models.SourceOHLCVClose, rules[0].Source)
	assert.True(t, rules[0].Target.Equal(decimal.RequireFromString("2500.46")), rules[0].Target.String())

	require.NoError(t, repo.DeactivateRule(ctx, added.ID))
	rules, err = repo.ListActiveRules(ctx, sym)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestPostgresCreateTriggerAndHistory(t *testing.T) {
	ctx := context.Background()
	repo := newPostgres(t)
	rule, err := repo.AddRule(ctx, sampleRule(uniqueSymbol("TCS"), models.ModeRecurring))
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

	_, err = repo.ListTriggers(ctx, -1, 10)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.MarkNotified(ctx, -1, t0), models.ErrNotFound)
}

func TestPostgresOneShotDeactivatesOnce(t *testing.T) {
	ctx := context.Background()
	repo := newPostgres(t)
	sym := uniqueSymbol("INFY")
	rule, err := repo.AddRule(ctx, sampleRule(sym, models.ModeOneShot))
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
	rules, err := repo.ListActiveRules(ctx, sym)
	require.NoError(t, err)
	assert.Empty(t, rules)

	history, err := repo.ListTriggers(ctx, rule.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = repo.CreateTrigger(ctx, -1, decimal.NewFromInt(1), t0, true)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = repo.CreateTrigger(ctx, -1, decimal.NewFromInt(1), t0, false)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
