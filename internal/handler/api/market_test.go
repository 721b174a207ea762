package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	"github.com/vijayshreepathak/QuantAlert/internal/repository"
	"github.com/vijayshreepathak/QuantAlert/internal/service/ratelimit"
	"github.com/vijayshreepathak/QuantAlert/internal/usecase"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

var now = time.Date(2024, 6, 3, 10, 15, 30, 0, time.UTC)

type stubFeed struct{ st usecase.FeedStatus }

func (s stubFeed) Status() usecase.FeedStatus { return s.st }

type stubArchive struct {
	candles   []models.Candle
	err       error
	healthErr error
	from, to  time.Time
}

func (a *stubArchive) QueryCandles(_ context.Context, _ string, from, to time.Time) ([]models.Candle, error) {
	a.from, a.to = from, to
	return a.candles, a.err
}

func (a *stubArchive) Health(context.Context) error { return a.healthErr }

type fixture struct {
	e       *echo.Echo
	store   *usecase.TimeSeriesStore
	rules   *repository.MemoryRuleRepository
	archive *stubArchive
	clock   time.Time
}

func newFixture(t *testing.T, withArchive bool) *fixture {
	t.Helper()
	f := &fixture{
		e:     echo.New(),
		rules: repository.NewMemoryRuleRepository(),
		clock: now,
	}
	f.store = usecase.NewTimeSeriesStore(time.Minute, 100).WithClock(func() time.Time { return f.clock })
	var archive CandleArchive
	if withArchive {
		f.archive = &stubArchive{}
		archive = f.archive
	}
	h := NewMarketHandler(logger.Nop(), f.store, stubFeed{usecase.FeedStatus{Active: "yahoo"}}, f.rules, archive,
		[]string{"RELIANCE", "TCS"}, ratelimit.New())
	h.now = func() time.Time { return now }
	h.RegisterRoutes(f.e)
	return f
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func rows(t *testing.T, body map[string]interface{}) []interface{} {
	t.Helper()
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	r, _ := data["rows"].([]interface{})
	return r
}

func (f *fixture) record(t *testing.T, sym, price string, at time.Time) {
	t.Helper()
	// record as of the tick's own time so older buckets are still open
	f.clock = at
	defer func() { f.clock = now }()
	require.NoError(t, f.store.RecordTick(models.NewTick(sym, decimal.RequireFromString(price), 10, at, "test")))
}

func TestPriceEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.record(t, "RELIANCE", "2501.5", now.Add(-10*time.Second))

	code, body := f.get(t, "/api/v1/price/reliance")
	assert.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "RELIANCE", data["symbol"])
	assert.Equal(t, "2501.5", data["price"])

	code, body = f.get(t, "/api/v1/price/TCS")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
}

func TestOHLCVFromMemory(t *testing.T) {
	f := newFixture(t, true)
	f.record(t, "TCS", "100", now.Add(-2*time.Minute))
	f.record(t, "TCS", "101", now.Add(-10*time.Second))

	code, body := f.get(t, "/api/v1/ohlcv/TCS?minutes=5")
	require.Equal(t, http.StatusOK, code)
	r := rows(t, body)
	require.Len(t, r, 2)
	assert.Equal(t, "101", r[0].(map[string]interface{})["close"])
	assert.True(t, f.archive.from.IsZero())
}

func TestOHLCVFallsBackToArchive(t *testing.T) {
	f := newFixture(t, true)
	f.archive.candles = []models.Candle{
		{Bucket: now.Add(-3 * time.Minute).Truncate(time.Minute), Symbol: "INFY", Close: decimal.NewFromInt(1),
			Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1)},
		{Bucket: now.Add(-2 * time.Minute).Truncate(time.Minute), Symbol: "INFY", Close: decimal.NewFromInt(2),
			Open: decimal.NewFromInt(2), High: decimal.NewFromInt(2), Low: decimal.NewFromInt(2)},
	}

	code, body := f.get(t, "/api/v1/ohlcv/INFY")
	require.Equal(t, http.StatusOK, code)
	r := rows(t, body)
	require.Len(t, r, 2)
	assert.Equal(t, "2", r[0].(map[string]interface{})["close"])
	assert.Equal(t, time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC), f.archive.from)
	assert.Equal(t, time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC), f.archive.to)

	f.archive.candles, f.archive.err = nil, errors.New("down")
	code, _ = f.get(t, "/api/v1/ohlcv/INFY")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestOHLCVValidation(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.get(t, "/api/v1/ohlcv/TCS?minutes=5000")
	assert.Equal(t, http.StatusBadRequest, code)
	errs := body["data"].([]interface{})
	assert.Equal(t, "ERR_LTE", errs[0].(map[string]interface{})["code"])

	code, body = f.get(t, "/api/v1/ohlcv/TCS")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, rows(t, body))
}

func TestTriggerHistory(t *testing.T) {
	f := newFixture(t, false)
	rule := f.rules.AddRule(models.Rule{
		Symbol: "RELIANCE", Operator: models.OpGreater, Target: decimal.NewFromInt(2500),
		Source: models.SourceTickPrice, Mode: models.ModeRecurring, Active: true,
	})
	for i := 0; i < 3; i++ {
		_, err := f.rules.CreateTrigger(context.Background(), rule.ID, decimal.NewFromInt(2501), now.Add(time.Duration(i)*time.Minute), false)
		require.NoError(t, err)
	}

	code, body := f.get(t, "/api/v1/rules/1/triggers?limit=2")
	require.Equal(t, http.StatusOK, code)
	r := rows(t, body)
	require.Len(t, r, 2)
	assert.Equal(t, float64(3), r[0].(map[string]interface{})["id"])

	code, _ = f.get(t, "/api/v1/rules/99/triggers")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.get(t, "/api/v1/rules/abc/triggers")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSymbolsAndHealth(t *testing.T) {
	f := newFixture(t, true)
	f.record(t, "INFY", "1500", now)

	_, body := f.get(t, "/api/v1/symbols")
	assert.Equal(t, []interface{}{"INFY", "RELIANCE", "TCS"}, rows(t, body))

	code, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "yahoo", data["provider"])

	f.archive.healthErr = errors.New("down")
	_, body = f.get(t, "/health")
	assert.Equal(t, "degraded", body["data"].(map[string]interface{})["status"])
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, false)
	var limited bool
	for i := 0; i < clientBurst+5; i++ {
		code, _ := f.get(t, "/api/v1/feed")
		if code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}
