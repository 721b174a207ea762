package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// ClosedBucketSource lists buckets that ended inside a time range.
type ClosedBucketSource interface {
	ClosedBuckets(from, to time.Time) []models.Candle
	BucketWidth() time.Duration
}

// SnapshotJob periodically copies closed OHLCV buckets to the archive and the candle topic.
type SnapshotJob struct {
	cron    *cron.Cron
	spec    string
	source  ClosedBucketSource
	archive drepo.TickArchive
	pub     drepo.Publisher
	metrics drepo.Metrics
	lgr     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	lastEnd time.Time
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSnapshotJob creates the job; spec is a six-field cron expression. archive and pub may be nil.
func NewSnapshotJob(spec string, source ClosedBucketSource, archive drepo.TickArchive, pub drepo.Publisher, metrics drepo.Metrics, lgr *logger.Logger) *SnapshotJob {
	ctx, cancel := context.WithCancel(context.Background())
	return &SnapshotJob{
		cron:    cron.New(cron.WithSeconds()),
		spec:    spec,
		source:  source,
		archive: archive,
		pub:     pub,
		metrics: metrics,
		lgr:     lgr,
		timeout: 30 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the job and starts the scheduler.
func (j *SnapshotJob) Start() error {
	if _, err := j.cron.AddFunc(j.spec, func() {
		if _, err := j.RunOnce(j.ctx, time.Now()); err != nil {
			j.lgr.Error("ohlcv snapshot failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register snapshot job: %w", err)
	}
	j.cron.Start()
	j.lgr.Info("snapshot scheduler started", logger.String("schedule", j.spec))
	return nil
}

// Stop stops the scheduler and waits for a running snapshot.
func (j *SnapshotJob) Stop() {
	j.cancel()
	<-j.cron.Stop().Done()
	j.lgr.Info("snapshot scheduler stopped")
}

// RunOnce writes every bucket that closed since the previous run and before now.
// It returns the number of buckets written.
func (j *SnapshotJob) RunOnce(ctx context.Context, now time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	width := j.source.BucketWidth()
	to := now.UTC().Truncate(width)
	if j.lastEnd.IsZero() {
		j.lastEnd = to.Add(-width)
	}
	from := j.lastEnd
	if !to.After(from) {
		return 0, nil
	}

	candles := j.source.ClosedBuckets(from, to)
	if len(candles) == 0 {
		j.lastEnd = to
		return 0, nil
	}

	cctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	if j.archive != nil {
		if err := j.archive.StoreCandles(cctx, candles); err != nil {
			j.metrics.RecordError("snapshot_archive")
			return 0, fmt.Errorf("store candles: %w", err)
		}
	}
	if j.pub != nil {
		if err := j.pub.PublishCandles(cctx, candles); err != nil {
			j.metrics.RecordError("snapshot_publish")
			j.lgr.Warn("publish candles", logger.Error(err))
		}
	}
	j.lastEnd = to
	j.metrics.RecordLatency("snapshot", time.Since(start).Seconds())
	j.lgr.Debug("ohlcv snapshot written",
		logger.Int("buckets", len(candles)),
		logger.Time("from", from),
		logger.Time("to", to))
	return len(candles), nil
}
