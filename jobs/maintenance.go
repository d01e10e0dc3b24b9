package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-wms/internal/jobs"
)

// ExpiryNotifier runs the batch expiry scan.
type ExpiryNotifier interface {
	NotifyBatchExpiry(ctx context.Context) (inventory.ExpiryScanResult, error)
}

// BatchExpiryJob emits batch_expiring and batch_expired events.
type BatchExpiryJob struct {
	Inventory ExpiryNotifier
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskBatchExpiryScan tasks.
func (j *BatchExpiryJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Inventory == nil {
		return errors.New("batch expiry: handler not configured")
	}
	tracker := j.Metrics.Track(TaskBatchExpiryScan)
	defer func() { err = tracker.End(err) }()

	result, err := j.Inventory.NotifyBatchExpiry(ctx)
	if err != nil {
		loggerOrDefault(j.Logger).Error("batch expiry scan", slog.Any("error", err))
		return err
	}
	j.Metrics.AddExpiryNotices(string(inventory.NoticeExpiring), result.Expiring)
	j.Metrics.AddExpiryNotices(string(inventory.NoticeExpired), result.Expired)
	loggerOrDefault(j.Logger).Info("batch expiry scan complete",
		slog.Int("expiring", result.Expiring),
		slog.Int("expired", result.Expired))
	return nil
}

// IdempotencyCleaner prunes stale idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob removes keys older than Retention.
type IdempotencyCleanupJob struct {
	Store     IdempotencyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	retention := j.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		return err
	}
	loggerOrDefault(j.Logger).Info("idempotency keys pruned", slog.Int64("removed", removed))
	return nil
}
