package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	AutoOffsetReset string
	WorkerCount     int
	BufferSize      int
	RetryMax        int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	DLQTopic        string
	MinBytes        int
	MaxBytes        int
	Logger          *logger.Logger
}

// WithConsumerBrokers sets Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

// WithConsumerGroupID sets consumer group ID.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerAutoOffsetReset sets where a new group starts: "earliest" or "latest".
func WithConsumerAutoOffsetReset(autoOffsetReset string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.AutoOffsetReset = autoOffsetReset
	}
}

// WithConsumerWorkers sets number of worker goroutines.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if count > 0 {
			c.WorkerCount = count
		}
	}
}

// WithConsumerRetry configures retry attempts and backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets a Kafka topic name for DLQ.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

// WithConsumerFetch sets fetch min/max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerBufferSize sets the internal channel buffer size.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Logger = l
	}
}

// Consumer wraps Kafka readers with a worker pool.
type Consumer struct {
	cfg       *ConsumerConfig
	lgr       *logger.Logger
	readers   map[string]*kafka.Reader
	handlers  map[string]MessageHandler
	stopChan  chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	msgChan   chan *message
	dlq       *kafka.Writer
	partMu    sync.Mutex
	partLocks map[string]map[int]*sync.Mutex
	hook      ConsumerHook
}

type message struct {
	topic string
	data  []byte
	km    kafka.Message
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:         "default",
		AutoOffsetReset: "earliest",
		WorkerCount:     1,
		BufferSize:      10,
		RetryMax:        3,
		BackoffMin:      50 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		MinBytes:        10e3,
		MaxBytes:        10e6,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	lgr := cfg.Logger
	if lgr == nil {
		lgr = logger.Nop()
	}

	c := &Consumer{
		cfg:       cfg,
		lgr:       lgr,
		readers:   make(map[string]*kafka.Reader),
		handlers:  make(map[string]MessageHandler),
		stopChan:  make(chan struct{}),
		msgChan:   make(chan *message, cfg.BufferSize),
		partLocks: make(map[string]map[int]*sync.Mutex),
		hook:      NoopHook{},
	}

	initConsumerMetrics()

	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}

	return c, nil
}

// Ping dials the first reachable broker.
func Ping(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	return fmt.Errorf("kafka ping: %w", lastErr)
}

// RegisterHandler registers a message handler for a specific topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.lgr.Warn("kafka handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start creates one reader per registered topic and starts the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	start := kafka.FirstOffset
	if c.cfg.AutoOffsetReset == "latest" {
		start = kafka.LastOffset
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: start,
		})
		c.lgr.Info("kafka consumer topic registered", logger.String("topic", topic))
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.messageWorker()
	}

	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.consumeMessages(topic, reader)
	}

	c.lgr.Info("kafka consumer started",
		logger.Int("workers", c.cfg.WorkerCount),
		logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop stops the Kafka consumer gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		close(c.stopChan)
		stopErr = c.waitForWg(ctx)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.lgr.Warn("close kafka reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.lgr.Warn("close dlq writer", logger.Error(err))
			}
		}
		if stopErr == nil {
			c.lgr.Info("kafka consumer stopped")
		}
	})

	return stopErr
}

func (c *Consumer) waitForWg(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-doneChan:
		return nil
	}
}

func (c *Consumer) consumeMessages(topic string, reader *kafka.Reader) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := reader.FetchMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				c.lgr.Warn("kafka fetch", logger.String("topic", topic), logger.Error(err))
			}
			continue
		}

		// backpressure instead of drops
		for sent := false; !sent; {
			select {
			case c.msgChan <- &message{topic: topic, data: msg.Value, km: msg}:
				sent = true
			case <-c.stopChan:
				return
			default:
				full := float64(len(c.msgChan)) / float64(cap(c.msgChan))
				consumerQueueFullness.WithLabelValues(topic).Set(full)
				if full > 0.8 {
					time.Sleep(10 * time.Millisecond)
				} else {
					runtime.Gosched()
				}
			}
		}
		consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgChan)))
	}
}

func (c *Consumer) messageWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case msg := <-c.msgChan:
			if handler, ok := c.handlers[msg.topic]; ok {
				c.handle(handler, msg)
			}
		}
	}
}

func (c *Consumer) handle(handler MessageHandler, msg *message) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.lgr.Error("panic in kafka handler", logger.String("topic", msg.topic), logger.Any("panic", r))
		}
	}()

	// max in-flight of one per (topic, partition)
	pl := c.partitionLock(msg.topic, msg.km.Partition)
	pl.Lock()
	defer pl.Unlock()

	var err error
	attempts := 0
	for {
		attempts++
		hctx, hmsg, hdata, berr := c.hook.BeforeHandle(context.Background(), msg.topic, msg.km, msg.data)
		if berr != nil {
			err = berr
			break
		}

		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, msg.topic, hmsg, hdata, err)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		c.hook.OnError(hctx, msg.topic, hmsg, hdata, err)

		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.stopChan:
			return
		}
	}

	if err != nil {
		c.hook.OnError(context.Background(), msg.topic, msg.km, msg.data, err)
		c.lgr.Error("kafka message failed",
			logger.String("topic", msg.topic),
			logger.Int("attempts", attempts),
			logger.Error(err))
		if c.dlq != nil {
			if dlqErr := c.dlq.WriteMessages(context.Background(), kafka.Message{
				Topic:   c.cfg.DLQTopic,
				Value:   msg.data,
				Time:    time.Now(),
				Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.topic)}},
			}); dlqErr != nil {
				c.lgr.Error("kafka dlq write", logger.String("topic", c.cfg.DLQTopic), logger.Error(dlqErr))
			}
		}
	}

	// commit after success or after DLQ to avoid poison loops
	if err == nil || c.dlq != nil {
		if reader := c.readers[msg.topic]; reader != nil {
			_ = c.commitWithRetry(reader, msg.km, 3)
		}
	}
	consumerHandleLatency.WithLabelValues(msg.topic).Observe(time.Since(start).Seconds())
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(reader *kafka.Reader, km kafka.Message, max int) error {
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.lgr.Warn("kafka commit failed", logger.Int("attempts", max), logger.Error(err))
	return err
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.partMu.Lock()
	defer c.partMu.Unlock()
	m, ok := c.partLocks[topic]
	if !ok {
		m = make(map[int]*sync.Mutex)
		c.partLocks[topic] = m
	}
	l, ok := m[partition]
	if !ok {
		l = &sync.Mutex{}
		m[partition] = l
	}
	return l
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	// up to 50% jitter
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp - jitter
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerQueueFullness *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          sync.Once
	consumerRegisterer    prometheus.Registerer = prometheus.DefaultRegisterer
)

// SetConsumerMetricsRegisterer sets a custom Prometheus registerer for consumer metrics; call before NewConsumer.
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetrics() {
	consumerOnce.Do(func() {
		f := promauto.With(consumerRegisterer)
		consumerQueueDepth = f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "quantalert_kafka_consumer_queue_depth", Help: "Number of messages waiting in consumer queue"},
			[]string{"topic"},
		)
		consumerQueueFullness = f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "quantalert_kafka_consumer_queue_fullness", Help: "Queue utilization ratio (len/cap)"},
			[]string{"topic"},
		)
		consumerHandleLatency = f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "quantalert_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
	})
}
