package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/internal/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/cache"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
	"github.com/vijayshreepathak/QuantAlert/pkg/metrics"
)

type evalFixture struct {
	store *TimeSeriesStore
	repo  *repository.MemoryRuleRepository
	disp  *recordingDispatcher
	eval  *RuleEvaluator
}

func newEvalFixture(locker RuleLocker) *evalFixture {
	f := &evalFixture{
		store: newStore(0),
		repo:  repository.NewMemoryRuleRepository(),
		disp:  &recordingDispatcher{},
	}
	f.eval = NewRuleEvaluator(f.repo, f.store, locker, f.disp, metrics.Noop{}, logger.Nop(), time.Second)
	return f
}

// feed records the tick then evaluates it, the way a pipeline lane does.
func (f *evalFixture) feed(t *testing.T, tk *models.Tick) []models.Trigger {
	t.Helper()
	require.NoError(t, f.store.RecordTick(tk))
	fired, err := f.eval.Evaluate(context.Background(), tk)
	require.NoError(t, err)
	return fired
}

func priceRule(symbol string, op models.Operator, target string, mode models.RuleMode, cooldown int) models.Rule {
	return models.Rule{
		UserID:          1,
		Symbol:          symbol,
		Operator:        op,
		Target:          dec(target),
		Source:          models.SourceTickPrice,
		Mode:            mode,
		CooldownMinutes: cooldown,
		Active:          true,
	}
}

func TestEvaluateRelianceOneShotScenario(t *testing.T) {
	f := newEvalFixture(nil)
	rule := f.repo.AddRule(priceRule("RELIANCE", models.OpGreater, "2500", models.ModeOneShot, 0))

	assert.Empty(t, f.feed(t, tick("RELIANCE", "2490", 100, t0)))

	fired := f.feed(t, tick("RELIANCE", "2501", 100, t0.Add(10*time.Second)))
	require.Len(t, fired, 1)
	assert.True(t, fired[0].Value.Equal(dec("2501")))
	assert.Equal(t, t0.Add(10*time.Second), fired[0].TriggeredAt)

	assert.Empty(t, f.feed(t, tick("RELIANCE", "2499", 100, t0.Add(20*time.Second))))

	active, err := f.repo.ListActiveRules(context.Background(), "RELIANCE")
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := f.repo.ListTriggers(context.Background(), rule.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	require.Equal(t, 1, f.disp.count())
	assert.False(t, f.disp.sent[0].Rule.Active)
}

func TestEvaluateOneShotFiresOnceAcrossSatisfyingTicks(t *testing.T) {
	f := newEvalFixture(nil)
	f.repo.AddRule(priceRule("TCS", models.OpGreaterEqual, "3800", models.ModeOneShot, 0))

	total := 0
	for i := 0; i < 5; i++ {
		total += len(f.feed(t, tick("TCS", "3900", 1, t0.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(t, 1, total)
}

// staleListRepo keeps returning the rule as active, like a cached rule list would.
type staleListRepo struct {
	*repository.MemoryRuleRepository
	rule models.Rule
}

func (s staleListRepo) ListActiveRules(context.Context, string) ([]models.Rule, error) {
	return []models.Rule{s.rule}, nil
}

func TestEvaluateConcurrentDuplicateDeliveryFiresOnce(t *testing.T) {
	for name, locker := range map[string]RuleLocker{
		"keyed mutex":  NewKeyedMutex(),
		"cache locker": NewCacheLocker(cache.NewMemoryCache(), time.Second),
	} {
		t.Run(name, func(t *testing.T) {
			store := newStore(0)
			mem := repository.NewMemoryRuleRepository()
			rule := mem.AddRule(priceRule("INFY", models.OpLess, "1500", models.ModeOneShot, 0))
			disp := &recordingDispatcher{}
			eval := NewRuleEvaluator(staleListRepo{mem, rule}, store, locker, disp, metrics.Noop{}, logger.Nop(), time.Second)

			tk := tick("INFY", "1400", 1, t0)
			require.NoError(t, store.RecordTick(tk))

			var wg sync.WaitGroup
			var mu sync.Mutex
			total := 0
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					fired, err := eval.Evaluate(context.Background(), tk)
					assert.NoError(t, err)
					mu.Lock()
					total += len(fired)
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, total)
			assert.Equal(t, 1, disp.count())
		})
	}
}

func TestEvaluateCooldownBoundary(t *testing.T) {
	f := newEvalFixture(nil)
	rule := f.repo.AddRule(priceRule("HDFCBANK", models.OpGreater, "1600", models.ModeRecurring, 5))

	require.Len(t, f.feed(t, tick("HDFCBANK", "1610", 1, t0)), 1)
	assert.Empty(t, f.feed(t, tick("HDFCBANK", "1611", 1, t0.Add(time.Minute))))
	assert.Empty(t, f.feed(t, tick("HDFCBANK", "1612", 1, t0.Add(5*time.Minute-time.Second))))
	require.Len(t, f.feed(t, tick("HDFCBANK", "1613", 1, t0.Add(5*time.Minute))), 1)

	active, err := f.repo.ListActiveRules(context.Background(), "HDFCBANK")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, rule.ID, active[0].ID)
}

func TestEvaluateRecurringZeroCooldownAlwaysEligible(t *testing.T) {
	f := newEvalFixture(nil)
	f.repo.AddRule(priceRule("TCS", models.OpLessEqual, "100", models.ModeRecurring, 0))

	total := 0
	for i := 0; i < 3; i++ {
		total += len(f.feed(t, tick("TCS", "99", 1, t0.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(t, 3, total)
}

func TestEvaluateOHLCVCloseScenario(t *testing.T) {
	f := newEvalFixture(nil)
	r := priceRule("ICICIBANK", models.OpGreaterEqual, "100", models.ModeOneShot, 0)
	r.Source = models.SourceOHLCVClose
	r.WindowMinutes = 1
	f.repo.AddRule(r)

	assert.Empty(t, f.feed(t, tick("ICICIBANK", "98", 1, t0.Add(1*time.Second))))
	fired := f.feed(t, tick("ICICIBANK", "101", 1, t0.Add(2*time.Second)))
	require.Len(t, fired, 1)
	assert.True(t, fired[0].Value.Equal(dec("101")))
	assert.Empty(t, f.feed(t, tick("ICICIBANK", "99", 1, t0.Add(3*time.Second))))

	c, ok := f.store.LatestBucketWithin("ICICIBANK", time.Minute, t0.Add(3*time.Second))
	require.True(t, ok)
	assert.True(t, c.Close.Equal(dec("99")))
	assert.True(t, c.High.Equal(dec("101")))
}

func TestEvaluateOHLCVMissingBucketSkips(t *testing.T) {
	f := newEvalFixture(nil)
	r := priceRule("TCS", models.OpGreater, "0", models.ModeRecurring, 0)
	r.Source = models.SourceOHLCVVolume
	f.repo.AddRule(r)

	// evaluated without recording, so no bucket exists
	fired, err := f.eval.Evaluate(context.Background(), tick("TCS", "10", 5, t0))
	require.NoError(t, err)
	assert.Empty(t, fired)

	_, err = f.eval.Resolve(&r, tick("TCS", "10", 5, t0))
	assert.ErrorIs(t, err, models.ErrRuleResolutionMiss)
}

func TestEvaluateEqualityTolerance(t *testing.T) {
	f := newEvalFixture(nil)
	f.repo.AddRule(priceRule("TCS", models.OpEqual, "3800.00", models.ModeRecurring, 0))

	assert.Len(t, f.feed(t, tick("TCS", "3800.01", 1, t0)), 1)
	assert.Len(t, f.feed(t, tick("TCS", "3799.99", 1, t0.Add(time.Second))), 1)
	assert.Empty(t, f.feed(t, tick("TCS", "3800.02", 1, t0.Add(2*time.Second))))
}

func TestEvaluateTickVolumeSource(t *testing.T) {
	f := newEvalFixture(nil)
	r := priceRule("TCS", models.OpGreater, "5000", models.ModeOneShot, 0)
	r.Source = models.SourceTickVolume
	f.repo.AddRule(r)

	assert.Empty(t, f.feed(t, tick("TCS", "1", 4000, t0)))
	assert.Len(t, f.feed(t, tick("TCS", "1", 6000, t0.Add(time.Second))), 1)
}

type failingCreateRepo struct {
	*repository.MemoryRuleRepository
}

func (failingCreateRepo) CreateTrigger(context.Context, int64, decimal.Decimal, time.Time, bool) (*models.Trigger, error) {
	return nil, models.ErrPersistence
}

func TestEvaluatePersistenceFailureSkipsDispatchOnly(t *testing.T) {
	store := newStore(0)
	mem := repository.NewMemoryRuleRepository()
	mem.AddRule(priceRule("TCS", models.OpGreater, "1", models.ModeOneShot, 0))
	mem.AddRule(priceRule("TCS", models.OpGreater, "2", models.ModeOneShot, 0))
	disp := &recordingDispatcher{}
	eval := NewRuleEvaluator(failingCreateRepo{mem}, store, nil, disp, metrics.Noop{}, logger.Nop(), time.Second)

	fired, err := eval.Evaluate(context.Background(), tick("TCS", "10", 1, t0))
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Equal(t, 0, disp.count())
}

func TestEvaluateDispatchFailureKeepsTrigger(t *testing.T) {
	f := newEvalFixture(nil)
	f.disp.err = errors.New("queue full")
	rule := f.repo.AddRule(priceRule("TCS", models.OpGreater, "1", models.ModeOneShot, 0))

	assert.Len(t, f.feed(t, tick("TCS", "10", 1, t0)), 1)

	history, err := f.repo.ListTriggers(context.Background(), rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].NotificationSent)
}

func TestEligible(t *testing.T) {
	one := priceRule("X", models.OpGreater, "1", models.ModeOneShot, 0)
	rec := priceRule("X", models.OpGreater, "1", models.ModeRecurring, 10)
	last := &models.Trigger{TriggeredAt: t0}

	assert.True(t, Eligible(&one, nil, t0))
	assert.False(t, Eligible(&one, last, t0.Add(time.Hour)))
	assert.False(t, Eligible(&rec, last, t0.Add(10*time.Minute-time.Nanosecond)))
	assert.True(t, Eligible(&rec, last, t0.Add(10*time.Minute)))
}
