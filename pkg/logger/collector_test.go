package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollectorAggregatesRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		Service:        "quantalert",
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "quantalert.logs",
		Publisher:      pub,
	})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "persist trigger", map[string]interface{}{"rule_id": 7}, "rule_evaluator.go:10")
	}
	c.AddLog("error", "persist trigger", map[string]interface{}{"rule_id": 8}, "rule_evaluator.go:10")
	assert.Equal(t, 2, c.Pending())

	c.Close()

	got := pub.entries()
	require.Len(t, got, 2)
	assert.Equal(t, "quantalert.logs", pub.topic)
	counts := map[int]int{}
	for _, e := range got {
		assert.Equal(t, "quantalert", e.Service)
		counts[e.Fields["rule_id"].(int)] = e.Count
	}
	assert.Equal(t, map[int]int{7: 3, 8: 1}, counts)
}

func TestCollectorFlushesOnThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x")
	c.AddLog("error", "b", nil, "x")

	assert.Eventually(t, func() bool { return len(pub.entries()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Pending())
}

func TestLoggerFeedsErrorsToCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Publisher: pub})

	l.Warn("not collected")
	l.Error("feed failed", String("provider", "yahoo"), Error(errors.New("timeout")))
	l.RemoveCollector()

	got := pub.entries()
	require.Len(t, got, 1)
	assert.Equal(t, "feed failed", got[0].Message)
	assert.Equal(t, "yahoo", got[0].Fields["provider"])
}
