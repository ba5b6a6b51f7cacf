package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jwfreed/inventory-manager-sub012/internal/reservations"
	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// BackorderRetryJob processes deferred backorder retries.
type BackorderRetryJob struct {
	reservations *reservations.Service
	logger       *slog.Logger
}

// NewBackorderRetryJob constructs the job.
func NewBackorderRetryJob(res *reservations.Service, logger *slog.Logger) *BackorderRetryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackorderRetryJob{reservations: res, logger: logger}
}

// Handle processes TaskBackorderRetry tasks.
func (j *BackorderRetryJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload BackorderRetryPayload
	if err := unmarshalPayload(t, &payload); err != nil {
		return err
	}
	key := shared.StockKey{
		TenantID:   payload.TenantID,
		ItemID:     payload.ItemID,
		LocationID: payload.LocationID,
		UOM:        payload.UOM,
	}
	created, err := j.reservations.RetryBackorders(ctx, key)
	if err != nil {
		return err
	}
	j.logger.Info("backorder retry processed",
		slog.String("key", key.String()), slog.Int("reservations", len(created)))
	return nil
}

// IdempotencyCleanupJob prunes expired idempotency keys on a cron schedule.
type IdempotencyCleanupJob struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := unmarshalPayload(t, &payload); err != nil {
		return err
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 168 * time.Hour
	}
	if err := j.store.Cleanup(ctx, retention); err != nil {
		return err
	}
	j.logger.Info("idempotency keys cleaned", slog.Duration("retention", retention))
	return nil
}
