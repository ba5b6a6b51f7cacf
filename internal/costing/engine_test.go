package costing

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

type memoryLayerStore struct {
	layers map[int64]*CostLayer
	nextID int64
}

func newMemoryLayerStore() *memoryLayerStore {
	return &memoryLayerStore{layers: make(map[int64]*CostLayer)}
}

func (s *memoryLayerStore) InsertLayer(ctx context.Context, layer CostLayer) (int64, error) {
	s.nextID++
	layer.ID = s.nextID
	layer.CreatedAt = time.Now().UTC()
	s.layers[layer.ID] = &layer
	return layer.ID, nil
}

func (s *memoryLayerStore) LayersForConsume(ctx context.Context, key shared.StockKey) ([]CostLayer, error) {
	var out []CostLayer
	for _, l := range s.layers {
		if l.Key == key && l.Eligible() {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LayerDate.Equal(out[j].LayerDate) {
			return out[i].LayerDate.Before(out[j].LayerDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryLayerStore) UpdateRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	l, ok := s.layers[layerID]
	if !ok {
		return ErrLayerNotFound
	}
	l.RemainingQty = remaining
	return nil
}

func (s *memoryLayerStore) GetLayerForUpdate(ctx context.Context, tenantID, layerID int64) (CostLayer, error) {
	l, ok := s.layers[layerID]
	if !ok || l.Key.TenantID != tenantID {
		return CostLayer{}, ErrLayerNotFound
	}
	return *l, nil
}

func (s *memoryLayerStore) LayersBySourceLine(ctx context.Context, tenantID, lineID int64) ([]CostLayer, error) {
	var out []CostLayer
	for _, l := range s.layers {
		if l.Key.TenantID == tenantID && l.SourceLineID == lineID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memoryLayerStore) MarkVoided(ctx context.Context, layerID int64, reason string, at time.Time) error {
	l, ok := s.layers[layerID]
	if !ok {
		return ErrLayerNotFound
	}
	l.VoidedAt = &at
	l.VoidReason = reason
	return nil
}

func layerKey() shared.StockKey {
	return shared.StockKey{TenantID: 1, ItemID: 100, LocationID: 7, UOM: "EA"}
}

func mustReceive(t *testing.T, e *Engine, store TxStore, qty, cost string, day int) int64 {
	t.Helper()
	id, err := e.Receive(context.Background(), store, ReceiveInput{
		Key:       layerKey(),
		Qty:       decimal.RequireFromString(qty),
		UnitCost:  decimal.RequireFromString(cost),
		LayerDate: time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return id
}

func TestConsumeFIFOOldestFirst(t *testing.T) {
	store := newMemoryLayerStore()
	engine := NewEngine()
	ctx := context.Background()

	mustReceive(t, engine, store, "5", "1.00", 1)
	d2 := mustReceive(t, engine, store, "10", "1.50", 2)

	cons, err := engine.ConsumeFIFO(ctx, store, layerKey(), decimal.NewFromInt(7))
	require.NoError(t, err)
	require.Len(t, cons.Layers, 2)
	require.True(t, cons.Layers[0].Qty.Equal(decimal.NewFromInt(5)))
	require.True(t, cons.Layers[1].Qty.Equal(decimal.NewFromInt(2)))

	remaining, err := store.GetLayerForUpdate(ctx, 1, d2)
	require.NoError(t, err)
	require.True(t, remaining.RemainingQty.Equal(decimal.NewFromInt(8)), "D2 remaining = %s", remaining.RemainingQty)
}

func TestConsumeFIFOWeightedCost(t *testing.T) {
	store := newMemoryLayerStore()
	engine := NewEngine()
	ctx := context.Background()

	l1 := mustReceive(t, engine, store, "100", "2.00", 1)
	l2 := mustReceive(t, engine, store, "50", "3.00", 2)

	cons, err := engine.ConsumeFIFO(ctx, store, layerKey(), decimal.NewFromInt(120))
	require.NoError(t, err)
	// 100 @ 2.00 + 20 @ 3.00 = 260.00
	require.True(t, cons.TotalCost.Equal(decimal.RequireFromString("260")), "total = %s", cons.TotalCost)
	require.True(t, cons.WeightedUnitCost().Equal(decimal.RequireFromString("2.1667")), "weighted = %s", cons.WeightedUnitCost())

	first, err := store.GetLayerForUpdate(ctx, 1, l1)
	require.NoError(t, err)
	require.True(t, first.RemainingQty.IsZero())
	second, err := store.GetLayerForUpdate(ctx, 1, l2)
	require.NoError(t, err)
	require.True(t, second.RemainingQty.Equal(decimal.NewFromInt(30)))
}

func TestConsumeFIFOInsufficientStock(t *testing.T) {
	store := newMemoryLayerStore()
	engine := NewEngine()

	mustReceive(t, engine, store, "5", "1.00", 1)

	_, err := engine.ConsumeFIFO(context.Background(), store, layerKey(), decimal.NewFromInt(6))
	require.ErrorIs(t, err, ErrInsufficientCostedStock)
}

func TestConsumeFIFOSkipsVoidedLayers(t *testing.T) {
	store := newMemoryLayerStore()
	engine := NewEngine()
	ctx := context.Background()

	l1 := mustReceive(t, engine, store, "5", "1.00", 1)
	mustReceive(t, engine, store, "5", "2.00", 2)

	require.NoError(t, engine.Void(ctx, store, 1, l1, "mis-keyed receipt"))

	cons, err := engine.ConsumeFIFO(ctx, store, layerKey(), decimal.NewFromInt(5))
	require.NoError(t, err)
	require.Len(t, cons.Layers, 1)
	require.True(t, cons.TotalCost.Equal(decimal.NewFromInt(10)))
}

func TestVoidRejectsPartiallyConsumed(t *testing.T) {
	store := newMemoryLayerStore()
	engine := NewEngine()
	ctx := context.Background()

	l1 := mustReceive(t, engine, store, "10", "1.00", 1)
	_, err := engine.ConsumeFIFO(ctx, store, layerKey(), decimal.NewFromInt(1))
	require.NoError(t, err)

	err = engine.Void(ctx, store, 1, l1, "too late")
	require.ErrorIs(t, err, ErrLayerPartiallyConsumed)
}

func TestVoidIsIneligibleTwice(t *testing.T) {
	store := newMemoryLayerStore()
	engine := NewEngine()
	ctx := context.Background()

	l1 := mustReceive(t, engine, store, "10", "1.00", 1)
	require.NoError(t, engine.Void(ctx, store, 1, l1, "dup"))
	require.ErrorIs(t, engine.Void(ctx, store, 1, l1, "dup"), ErrLayerNotEligible)
}

func TestReceiveValidation(t *testing.T) {
	store := newMemoryLayerStore()
	engine := NewEngine()
	ctx := context.Background()

	_, err := engine.Receive(ctx, store, ReceiveInput{Key: layerKey(), Qty: decimal.Zero, UnitCost: decimal.NewFromInt(1), LayerDate: time.Now()})
	require.ErrorIs(t, err, ErrInvalidLayer)

	_, err = engine.Receive(ctx, store, ReceiveInput{Key: layerKey(), Qty: decimal.NewFromInt(1), UnitCost: decimal.NewFromInt(-1), LayerDate: time.Now()})
	require.ErrorIs(t, err, ErrInvalidLayer)

	zero := decimal.NewFromInt(1)
	_, err = engine.Receive(ctx, store, ReceiveInput{Key: layerKey(), Qty: zero, UnitCost: zero})
	require.ErrorIs(t, err, ErrInvalidLayer)
}
