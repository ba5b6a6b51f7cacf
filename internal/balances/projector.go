package balances

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// TxStore is the transactional surface the projector writes through. The
// pgx implementation increments rows with single conditional statements;
// test fakes guard the same operations with a mutex.
type TxStore interface {
	// AddOnHand increments on_hand by delta for the key, creating the row
	// with a zero baseline when absent, and returns the updated balance.
	// The increment must be atomic per key.
	AddOnHand(ctx context.Context, key shared.StockKey, delta decimal.Decimal) (Balance, error)
	// AddReserved increments reserved the same way.
	AddReserved(ctx context.Context, key shared.StockKey, delta decimal.Decimal) (Balance, error)
	// GetForUpdate reads the balance row holding a row lock until commit.
	GetForUpdate(ctx context.Context, key shared.StockKey) (Balance, error)
	// Get reads the balance row without locking.
	Get(ctx context.Context, key shared.StockKey) (Balance, error)
}

// Projector maintains balance rows from posted movement lines and
// reservation transitions. It is stateless; the transaction it participates
// in is carried by the store.
type Projector struct{}

// NewProjector constructs the projector.
func NewProjector() *Projector {
	return &Projector{}
}

// ApplyLines applies each signed delta to its balance row. Deltas for the
// same key are applied in order; there is no cross-key ordering guarantee.
func (p *Projector) ApplyLines(ctx context.Context, store TxStore, deltas []Delta) error {
	for _, d := range deltas {
		if err := d.Key.Validate(); err != nil {
			return err
		}
		if d.Qty.IsZero() {
			return ErrZeroDelta
		}
		if _, err := store.AddOnHand(ctx, d.Key, d.Qty); err != nil {
			return fmt.Errorf("balances: apply %s: %w", d.Key, err)
		}
	}
	return nil
}

// AdjustReserved applies the net reserved-quantity change of one reservation
// state transition. Reserved is a running total, so each transition must call
// this exactly once with the net delta rather than re-deriving from scratch.
func (p *Projector) AdjustReserved(ctx context.Context, store TxStore, key shared.StockKey, delta decimal.Decimal) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if delta.IsZero() {
		return ErrZeroDelta
	}
	if _, err := store.AddReserved(ctx, key, delta); err != nil {
		return fmt.Errorf("balances: adjust reserved %s: %w", key, err)
	}
	return nil
}

// Read returns the snapshot for one key. Missing rows read as all-zero.
func (p *Projector) Read(ctx context.Context, store TxStore, key shared.StockKey) (Reading, error) {
	if err := key.Validate(); err != nil {
		return Reading{}, err
	}
	bal, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return Reading{}, err
	}
	return Reading{
		Key:       key,
		OnHand:    bal.OnHand,
		Reserved:  bal.Reserved,
		Available: bal.Available(),
	}, nil
}
