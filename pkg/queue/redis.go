package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// RedisQueue is a Queue on a Redis list, shared by every replica pointing at the same prefix.
// Each message is handled once; a failed message is pushed to the dead-letter list.
type RedisQueue struct {
	logger    *logger.Logger
	config    *QueueConfig
	client    *redis.Client
	keyPrefix string
	pollWait  time.Duration

	jobsMu sync.RWMutex
	jobs   map[string]Job

	mu        sync.RWMutex
	isRunning bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// WithPollWait bounds how long a worker blocks on an empty list before checking for shutdown.
func WithPollWait(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) {
		if d > 0 {
			r.pollWait = d
		}
	}
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	rq := &RedisQueue{
		logger:    lgr,
		config:    config,
		client:    client,
		keyPrefix: "quantalert:queue",
		pollWait:  time.Second,
		jobs:      make(map[string]Job),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob registers a single job.
func (r *RedisQueue) RegisterJob(job Job) {
	r.jobsMu.Lock()
	defer r.jobsMu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
}

// Start pings Redis and launches the workers.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.isRunning = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("addr", r.client.Options().Addr),
		logger.String("key", r.queueKey()))
	return nil
}

// Stop lets in-flight messages finish and waits for the workers. Messages still in
// the list stay there for the next consumer.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.cancel()
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.cancel()
		return nil
	}
}

// Enqueue pushes a message onto the list.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.isRunning {
		return fmt.Errorf("queue not running")
	}
	r.jobsMu.RLock()
	_, exists := r.jobs[msgType]
	r.jobsMu.RUnlock()
	if !exists {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	msgData, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(), msgData).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// DeadLetters returns the length of the dead-letter list.
func (r *RedisQueue) DeadLetters(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.deadLetterKey()).Result()
}

func (r *RedisQueue) running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isRunning
}

func (r *RedisQueue) worker() {
	defer r.wg.Done()
	for r.running() {
		r.processNext()
	}
}

func (r *RedisQueue) processNext() {
	result, err := r.client.BRPop(r.ctx, r.pollWait, r.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("brpop error", logger.Error(err))
		select {
		case <-r.ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		return
	}
	r.process(msg)
}

func (r *RedisQueue) process(msg Message) {
	r.jobsMu.RLock()
	job, exists := r.jobs[msg.Type]
	r.jobsMu.RUnlock()
	if !exists {
		r.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(msg)
		return
	}

	// A message decoded from JSON carries its payload as a map; hand the job raw JSON instead.
	payload := msg.Payload
	if m, ok := payload.(map[string]interface{}); ok {
		if raw, err := json.Marshal(m); err == nil {
			payload = json.RawMessage(raw)
		}
	}

	err := job.Handle(r.ctx, payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Error(err))
	msg.Attempts++
	r.deadLetter(msg)
}

func (r *RedisQueue) deadLetter(msg Message) {
	msgData, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dlq", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.deadLetterKey(), msgData).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) queueKey() string {
	return r.keyPrefix + ":messages"
}

func (r *RedisQueue) deadLetterKey() string {
	return r.keyPrefix + ":dlq"
}
