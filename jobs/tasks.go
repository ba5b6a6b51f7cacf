package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBackorderRetry re-attempts backorder fulfilment for one stocking
	// point. Enqueued when the synchronous post-commit retry failed; the
	// trigger is always a supply-increasing posting, never a poll.
	TaskBackorderRetry = "backorders:retry"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// BackorderRetryPayload identifies the stocking point to retry.
type BackorderRetryPayload struct {
	TenantID   int64  `json:"tenant_id"`
	ItemID     int64  `json:"item_id"`
	LocationID int64  `json:"location_id"`
	UOM        string `json:"uom"`
}

// NewBackorderRetryTask constructs an Asynq task.
func NewBackorderRetryTask(payload BackorderRetryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBackorderRetry, data, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task for cron scheduling.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
