package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-wms/internal/webhooks"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueWebhooks carries webhook fan-out and delivery.
	QueueWebhooks = webhooks.QueueWebhooks

	// TaskBatchExpiryScan announces batches entering or passing expiry.
	TaskBatchExpiryScan = "inventory:batch_expiry_scan"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ScheduledPayload carries scheduling metadata for cron tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBatchExpiryScanTask constructs the batch expiry scan task.
func NewBatchExpiryScanTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskBatchExpiryScan, at)
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskIdempotencyCleanup, at)
}

func newScheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault), asynq.MaxRetry(2)), nil
}
