package logger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships aggregated log batches, normally to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	Service        string        // reported on every entry
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // unique entries before an early flush
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration
}

type AggregatedLogEntry struct {
	Service   string                 `json:"service,omitempty"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated error lines into counted entries and publishes them in batches.
type LogCollector struct {
	config *CollectionConfig
	logMap map[string]*AggregatedLogEntry
	mutex  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sends  sync.WaitGroup
	once   sync.Once
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	collector := &LogCollector{
		config: config,
		logMap: make(map[string]*AggregatedLogEntry),
		ctx:    ctx,
		cancel: cancel,
	}

	collector.wg.Add(1)
	go collector.periodicFlush()

	return collector
}

func (d *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now().UTC()
	key := entryKey(level, message, fields, caller)

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if entry, exists := d.logMap[key]; exists {
		entry.Count++
		entry.LastSeen = now
	} else {
		d.logMap[key] = &AggregatedLogEntry{
			Service:   d.config.Service,
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(d.logMap) >= d.config.CountThreshold {
		d.flushLocked()
	}
}

// Pending returns the number of unique entries waiting for the next flush.
func (d *LogCollector) Pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.logMap)
}

// entryKey hashes the identity of a log line; json.Marshal sorts map keys so equal fields hash equally.
func entryKey(level, message string, fields map[string]interface{}, caller string) string {
	data := struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, fields, caller}

	b, err := json.Marshal(data)
	if err != nil {
		b = []byte(fmt.Sprintf("%s|%s|%s", level, message, caller))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (d *LogCollector) periodicFlush() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mutex.Lock()
			d.flushLocked()
			d.mutex.Unlock()
		case <-d.ctx.Done():
			d.mutex.Lock()
			d.flushLocked()
			d.mutex.Unlock()
			return
		}
	}
}

func (d *LogCollector) flushLocked() {
	if len(d.logMap) == 0 || d.config.Publisher == nil {
		return
	}

	logs := make([]AggregatedLogEntry, 0, len(d.logMap))
	for _, entry := range d.logMap {
		logs = append(logs, *entry)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].FirstSeen.Before(logs[j].FirstSeen) })
	d.logMap = make(map[string]*AggregatedLogEntry)

	d.sends.Add(1)
	go func() {
		defer d.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.config.PublishTimeout)
		defer cancel()

		// the logger itself would feed back into this collector
		if err := d.config.Publisher.PublishMessage(ctx, d.config.Topic, logs); err != nil {
			fmt.Fprintf(os.Stderr, "log collector: publish %d entries: %v\n", len(logs), err)
		}
	}()
}

// Close flushes what is pending and waits for in-flight publishes.
func (d *LogCollector) Close() {
	d.once.Do(func() {
		d.cancel()
		d.wg.Wait()
		d.sends.Wait()
	})
}
