package backorders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// TxStore is the transactional surface the manager writes through.
type TxStore interface {
	// UpsertOpen merges qty into the open row for (key, demand), inserting
	// it when absent, and returns the row. The merge must be atomic.
	UpsertOpen(ctx context.Context, key shared.StockKey, demand shared.DemandRef, qty decimal.Decimal) (Backorder, error)
	// ListOpenOldestFirst returns open rows for a stocking point ordered by
	// backordered_at then id, locked for update.
	ListOpenOldestFirst(ctx context.Context, key shared.StockKey) ([]Backorder, error)
	// SetQtyStatus rewrites the remaining quantity and status of one row.
	SetQtyStatus(ctx context.Context, id int64, qty decimal.Decimal, status Status) error
	// CancelOpenForDemand cancels open rows owned by a demand line at one
	// stocking point.
	CancelOpenForDemand(ctx context.Context, key shared.StockKey, demand shared.DemandRef) error
	// ListByDemand returns all rows for a demand reference within a tenant.
	ListByDemand(ctx context.Context, tenantID int64, demand shared.DemandRef) ([]Backorder, error)
}

// Manager enforces backorder invariants over a TxStore.
type Manager struct{}

// NewManager constructs the manager.
func NewManager() *Manager {
	return &Manager{}
}

// Open records unmet demand, merging into an existing open row when the
// same demand line already backordered this stocking point.
func (m *Manager) Open(ctx context.Context, store TxStore, key shared.StockKey, demand shared.DemandRef, qty decimal.Decimal) (Backorder, error) {
	if err := key.Validate(); err != nil {
		return Backorder{}, fmt.Errorf("%w: %v", ErrInvalidBackorder, err)
	}
	if err := demand.Validate(); err != nil {
		return Backorder{}, fmt.Errorf("%w: %v", ErrInvalidBackorder, err)
	}
	if !qty.IsPositive() {
		return Backorder{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidBackorder)
	}
	return store.UpsertOpen(ctx, key, demand, qty)
}

// Reduce consumes part of an open backorder after a retry converted it into
// a reservation, closing the row when nothing remains.
func (m *Manager) Reduce(ctx context.Context, store TxStore, bo Backorder, taken decimal.Decimal) error {
	if !taken.IsPositive() || taken.GreaterThan(bo.Qty) {
		return fmt.Errorf("%w: reduce %s out of range", ErrInvalidBackorder, taken)
	}
	left := bo.Qty.Sub(taken)
	if left.IsZero() {
		return store.SetQtyStatus(ctx, bo.ID, decimal.Zero, StatusFulfilled)
	}
	return store.SetQtyStatus(ctx, bo.ID, left, StatusOpen)
}

// CancelForDemand withdraws open backorders when their reservation is
// canceled or expired.
func (m *Manager) CancelForDemand(ctx context.Context, store TxStore, key shared.StockKey, demand shared.DemandRef) error {
	if err := demand.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBackorder, err)
	}
	return store.CancelOpenForDemand(ctx, key, demand)
}
