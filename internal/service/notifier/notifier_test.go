package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

func fixture() (*models.Trigger, *models.Rule, decimal.Decimal) {
	at := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	rule := &models.Rule{
		ID:       7,
		UserID:   3,
		Symbol:   "RELIANCE",
		Operator: models.OpGreater,
		Target:   decimal.NewFromInt(2500),
		Source:   models.SourceTickPrice,
		Mode:     models.ModeOneShot,
		Active:   true,
	}
	trig := &models.Trigger{ID: 11, RuleID: 7, Value: decimal.RequireFromString("2501.50"), TriggeredAt: at}
	return trig, rule, trig.Value
}

func notify(n drepo.Notifier) error {
	trig, rule, value := fixture()
	return n.Notify(context.Background(), trig, rule, value)
}

func TestNewAlert(t *testing.T) {
	a := NewAlert(fixture())
	assert.Equal(t, "RELIANCE triggered at 2501.50 (tick.price > 2500.00)", a.Message)
	assert.Equal(t, int64(11), a.TriggerID)
	assert.Equal(t, int64(3), a.UserID)
	assert.Equal(t, models.ModeOneShot, a.Mode)
}

func TestWebhookNotifier(t *testing.T) {
	var got Alert
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	require.NoError(t, notify(n))
	assert.Equal(t, "RELIANCE", got.Symbol)
	assert.True(t, got.Value.Equal(decimal.RequireFromString("2501.5")))

	status = http.StatusServiceUnavailable
	err := notify(n)
	assert.ErrorIs(t, err, models.ErrNotificationFailed)
}

type fakePublisher struct {
	topic string
	key   []byte
	value interface{}
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

func TestKafkaNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := newKafkaNotifier(pub, "quantalert.triggers")

	require.NoError(t, notify(n))
	assert.Equal(t, "quantalert.triggers", pub.topic)
	assert.Equal(t, []byte("RELIANCE"), pub.key)
	a, ok := pub.value.(Alert)
	require.True(t, ok)
	assert.Len(t, a.EventID, 36)

	pub.err = errors.New("broker down")
	assert.ErrorIs(t, notify(n), models.ErrNotificationFailed)
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, *models.Trigger, *models.Rule, decimal.Decimal) error {
	s.calls++
	return s.err
}

func TestMultiNotifierCallsEveryChannel(t *testing.T) {
	ok := &stubNotifier{}
	bad := &stubNotifier{err: failed(ChannelWebhook, errors.New("boom"))}
	last := &stubNotifier{}
	m := NewMultiNotifier(NewLogNotifier(logger.Nop()), ok, bad, last)

	err := notify(m)
	assert.ErrorIs(t, err, models.ErrNotificationFailed)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, last.calls)

	assert.NoError(t, notify(NewMultiNotifier(ok)))
}
