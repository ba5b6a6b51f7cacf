package integration

import (
	"context"
	"log/slog"

	"github.com/jwfreed/inventory-manager-sub012/internal/ledger"
	"github.com/jwfreed/inventory-manager-sub012/internal/reservations"
	"github.com/jwfreed/inventory-manager-sub012/jobs"
)

// Hooks wires ledger events into the reservation side: every posting that
// raises on-hand triggers a synchronous backorder retry. When the retry
// fails the trigger is preserved by enqueueing the asynq task instead.
type Hooks struct {
	reservations *reservations.Service
	queue        *jobs.Client
	logger       *slog.Logger
}

// NewHooks constructs integration hooks. The queue client is optional; a
// nil queue simply drops the fallback.
func NewHooks(res *reservations.Service, queue *jobs.Client, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{reservations: res, queue: queue, logger: logger}
}

// HandleSupplyIncreased attempts backorder fulfilment for the key whose
// on-hand just increased.
func (h *Hooks) HandleSupplyIncreased(ctx context.Context, evt ledger.SupplyIncreasedEvent) error {
	if h == nil || h.reservations == nil {
		return nil
	}
	if _, err := h.reservations.RetryBackorders(ctx, evt.Key); err != nil {
		h.logger.Warn("backorder retry failed, deferring to worker",
			slog.String("key", evt.Key.String()), slog.Any("error", err))
		if h.queue != nil {
			if _, qErr := h.queue.EnqueueBackorderRetry(ctx, jobs.BackorderRetryPayload{
				TenantID:   evt.Key.TenantID,
				ItemID:     evt.Key.ItemID,
				LocationID: evt.Key.LocationID,
				UOM:        evt.Key.UOM,
			}); qErr != nil {
				return qErr
			}
			return nil
		}
		return err
	}
	return nil
}

var _ ledger.IntegrationHandler = (*Hooks)(nil)
