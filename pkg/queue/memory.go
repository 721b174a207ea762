package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// MemoryQueue is an in-process Queue backed by a buffered channel and a fixed worker pool.
// Each message is handled once; failures are logged and counted as dead letters.
type MemoryQueue struct {
	logger *logger.Logger
	config *QueueConfig
	msgCh  chan Message
	wg     sync.WaitGroup
	mu     sync.RWMutex

	jobsMu sync.RWMutex
	jobs   map[string]Job

	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc

	deadMu sync.Mutex
	dead   int
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(lgr *logger.Logger, config *QueueConfig) *MemoryQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		logger: lgr,
		config: config,
		jobs:   make(map[string]Job),
		msgCh:  make(chan Message, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob registers a single job.
func (q *MemoryQueue) RegisterJob(job Job) {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()

	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

// Start launches the workers.
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers))
	return nil
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.isRunning {
		return fmt.Errorf("queue not running")
	}
	q.jobsMu.RLock()
	_, exists := q.jobs[msgType]
	q.jobsMu.RUnlock()
	if !exists {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	select {
	case q.msgCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued messages and waits for the workers.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	close(q.msgCh)
	q.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		q.cancel()
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		q.cancel()
		return nil
	}
}

// DeadLetters returns the number of messages dropped after their last attempt.
func (q *MemoryQueue) DeadLetters() int {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	return q.dead
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for msg := range q.msgCh {
		q.process(msg)
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.jobsMu.RLock()
	job := q.jobs[msg.Type]
	q.jobsMu.RUnlock()

	err := job.Handle(q.ctx, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	q.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Error(err))
	q.deadMu.Lock()
	q.dead++
	q.deadMu.Unlock()
}
