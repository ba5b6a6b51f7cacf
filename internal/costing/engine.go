package costing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// TxStore is the transactional surface the engine works through. FIFO
// consumption is a read-modify-write, so implementations must lock the
// selected layers for the duration of the transaction.
type TxStore interface {
	InsertLayer(ctx context.Context, layer CostLayer) (int64, error)
	// LayersForConsume returns eligible layers for the key ordered by layer
	// date then id, locked for update.
	LayersForConsume(ctx context.Context, key shared.StockKey) ([]CostLayer, error)
	UpdateRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error
	GetLayerForUpdate(ctx context.Context, tenantID, layerID int64) (CostLayer, error)
	// LayersBySourceLine returns the layers a given movement line created.
	LayersBySourceLine(ctx context.Context, tenantID, lineID int64) ([]CostLayer, error)
	MarkVoided(ctx context.Context, layerID int64, reason string, at time.Time) error
}

// ReceiveInput describes a new layer.
type ReceiveInput struct {
	Key          shared.StockKey
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	LayerDate    time.Time
	SourceLineID int64
}

// Engine maintains FIFO valuation layers. Stateless like the projector; the
// transaction rides on the store.
type Engine struct{}

// NewEngine constructs the engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Receive appends a new layer with remaining = quantity.
func (e *Engine) Receive(ctx context.Context, store TxStore, in ReceiveInput) (int64, error) {
	if err := in.Key.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLayer, err)
	}
	if !in.Qty.IsPositive() {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrInvalidLayer)
	}
	if in.UnitCost.IsNegative() {
		return 0, fmt.Errorf("%w: unit cost must be >= 0", ErrInvalidLayer)
	}
	if in.LayerDate.IsZero() {
		return 0, fmt.Errorf("%w: layer date required", ErrInvalidLayer)
	}
	layer := CostLayer{
		Key:          in.Key,
		LayerDate:    in.LayerDate,
		UnitCost:     in.UnitCost,
		OriginalQty:  in.Qty,
		RemainingQty: in.Qty,
		SourceLineID: in.SourceLineID,
	}
	return store.InsertLayer(ctx, layer)
}

// ConsumeFIFO drains eligible layers oldest-first until qty is covered and
// reports the breakdown. Fails with ErrInsufficientCostedStock when the
// eligible remaining total is short; nothing is decremented in that case
// because the surrounding transaction rolls back.
func (e *Engine) ConsumeFIFO(ctx context.Context, store TxStore, key shared.StockKey, qty decimal.Decimal) (Consumption, error) {
	if err := key.Validate(); err != nil {
		return Consumption{}, err
	}
	if !qty.IsPositive() {
		return Consumption{}, fmt.Errorf("%w: consume quantity must be positive", ErrInvalidLayer)
	}
	layers, err := store.LayersForConsume(ctx, key)
	if err != nil {
		return Consumption{}, err
	}
	remaining := qty
	cons := Consumption{Qty: qty, TotalCost: decimal.Zero}
	for _, layer := range layers {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, layer.RemainingQty)
		if !take.IsPositive() {
			continue
		}
		if err := store.UpdateRemaining(ctx, layer.ID, layer.RemainingQty.Sub(take)); err != nil {
			return Consumption{}, err
		}
		cons.Layers = append(cons.Layers, ConsumedLayer{LayerID: layer.ID, Qty: take, UnitCost: layer.UnitCost})
		cons.TotalCost = cons.TotalCost.Add(take.Mul(layer.UnitCost))
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return Consumption{}, fmt.Errorf("%w: short %s for %s", ErrInsufficientCostedStock, remaining, key)
	}
	return cons, nil
}

// Void marks a layer voided. Only legal while nothing has been consumed from
// it; otherwise the caller must post a corrective adjustment instead.
func (e *Engine) Void(ctx context.Context, store TxStore, tenantID, layerID int64, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: void reason required", ErrInvalidLayer)
	}
	layer, err := store.GetLayerForUpdate(ctx, tenantID, layerID)
	if err != nil {
		return err
	}
	if layer.VoidedAt != nil || layer.SupersededByID != nil {
		return ErrLayerNotEligible
	}
	if !layer.RemainingQty.Equal(layer.OriginalQty) {
		return ErrLayerPartiallyConsumed
	}
	return store.MarkVoided(ctx, layerID, reason, time.Now().UTC())
}
