package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
	"github.com/vijayshreepathak/QuantAlert/pkg/queue"
)

// NotifyJobType is the queue message type carrying a models.Notification.
const NotifyJobType = "notify_trigger"

// NotificationDispatcher moves notification delivery off the evaluation path.
// It works on any queue.Queue: the in-process MemoryQueue or the Redis-backed RedisQueue.
// Delivery is attempted once; failures are logged and counted, never retried.
type NotificationDispatcher struct {
	q        queue.Queue
	notifier drepo.Notifier
	rules    drepo.RuleRepository
	metrics  drepo.Metrics
	lgr      *logger.Logger
	timeout  time.Duration
	// enqueueWait bounds Dispatch so a full queue never stalls an evaluation lane.
	enqueueWait time.Duration
}

// NewNotificationDispatcher registers the notify job on q.
func NewNotificationDispatcher(
	q queue.Queue,
	notifier drepo.Notifier,
	rules drepo.RuleRepository,
	metrics drepo.Metrics,
	lgr *logger.Logger,
	timeout time.Duration,
) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &NotificationDispatcher{
		q:           q,
		notifier:    notifier,
		rules:       rules,
		metrics:     metrics,
		lgr:         lgr,
		timeout:     timeout,
		enqueueWait: 100 * time.Millisecond,
	}
	q.RegisterJob(notifyJob{d: d})
	return d
}

// WithEnqueueWait overrides how long Dispatch waits for room in the queue.
func (d *NotificationDispatcher) WithEnqueueWait(wait time.Duration) *NotificationDispatcher {
	if wait > 0 {
		d.enqueueWait = wait
	}
	return d
}

func (d *NotificationDispatcher) Start() error { return d.q.Start() }

func (d *NotificationDispatcher) Stop(ctx context.Context) error { return d.q.Stop(ctx) }

// Dispatch enqueues the notification. It gives up after the enqueue wait when the queue is full.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, n *models.Notification) error {
	ectx, cancel := context.WithTimeout(ctx, d.enqueueWait)
	defer cancel()
	if err := d.q.Enqueue(ectx, NotifyJobType, n); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Deliver calls the notifier and marks the trigger notified on success.
func (d *NotificationDispatcher) Deliver(ctx context.Context, n *models.Notification) error {
	nctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.notifier.Notify(nctx, &n.Trigger, &n.Rule, n.Value); err != nil {
		d.metrics.RecordNotification("failed")
		d.lgr.Error("notification failed",
			logger.Int64("trigger_id", n.Trigger.ID),
			logger.Int64("rule_id", n.Rule.ID),
			logger.Error(err))
		return fmt.Errorf("%w: %v", models.ErrNotificationFailed, err)
	}
	d.metrics.RecordNotification("sent")

	mctx, mcancel := context.WithTimeout(ctx, d.timeout)
	defer mcancel()
	if err := d.rules.MarkNotified(mctx, n.Trigger.ID, time.Now().UTC()); err != nil {
		d.metrics.RecordError("persistence")
		d.lgr.Error("mark trigger notified", logger.Int64("trigger_id", n.Trigger.ID), logger.Error(err))
	}
	return nil
}

type notifyJob struct {
	d *NotificationDispatcher
}

func (j notifyJob) Name() string { return "notification_dispatcher" }
func (j notifyJob) Type() string { return NotifyJobType }

func (j notifyJob) Handle(ctx context.Context, payload interface{}) error {
	n, err := queue.ParsePayload[models.Notification](payload)
	if err != nil {
		return err
	}
	return j.d.Deliver(ctx, n)
}
