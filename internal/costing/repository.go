package costing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

const layerColumns = `id, tenant_id, item_id, location_id, uom, layer_date, unit_cost,
original_qty, remaining_qty, source_line_id, voided_at, void_reason, superseded_by_id, created_at`

// Repository serves valuation reads outside of ledger transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Valuation aggregates eligible layers for one stocking point.
func (r *Repository) Valuation(ctx context.Context, key shared.StockKey) (Valuation, error) {
	if r == nil {
		return Valuation{}, errors.New("costing repository not initialised")
	}
	if err := key.Validate(); err != nil {
		return Valuation{}, err
	}
	return scanValuation(r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(remaining_qty), 0), COALESCE(SUM(remaining_qty * unit_cost), 0), MIN(layer_date), MAX(layer_date)
FROM inventory_cost_layers
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND uom=$4
  AND voided_at IS NULL AND superseded_by_id IS NULL AND remaining_qty > 0`,
		key.TenantID, key.ItemID, key.LocationID, key.UOM))
}

// ItemValuation aggregates eligible layers across all locations of an item.
func (r *Repository) ItemValuation(ctx context.Context, tenantID, itemID int64) (Valuation, error) {
	if r == nil {
		return Valuation{}, errors.New("costing repository not initialised")
	}
	if tenantID == 0 || itemID == 0 {
		return Valuation{}, errors.New("costing: tenant and item required")
	}
	return scanValuation(r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(remaining_qty), 0), COALESCE(SUM(remaining_qty * unit_cost), 0), MIN(layer_date), MAX(layer_date)
FROM inventory_cost_layers
WHERE tenant_id=$1 AND item_id=$2
  AND voided_at IS NULL AND superseded_by_id IS NULL AND remaining_qty > 0`,
		tenantID, itemID))
}

func scanValuation(row pgx.Row) (Valuation, error) {
	var v Valuation
	if err := row.Scan(&v.QtyOnHandCosted, &v.InventoryValue, &v.OldestLayerDate, &v.NewestLayerDate); err != nil {
		return Valuation{}, err
	}
	return v, nil
}

// NewTxStore wraps a pgx transaction as a TxStore.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) InsertLayer(ctx context.Context, layer CostLayer) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO inventory_cost_layers (tenant_id, item_id, location_id, uom, layer_date, unit_cost, original_qty, remaining_qty, source_line_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		layer.Key.TenantID, layer.Key.ItemID, layer.Key.LocationID, layer.Key.UOM,
		layer.LayerDate, layer.UnitCost, layer.OriginalQty, layer.RemainingQty, nullInt(layer.SourceLineID)).Scan(&id)
	return id, err
}

func (s *txStore) LayersForConsume(ctx context.Context, key shared.StockKey) ([]CostLayer, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_cost_layers
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND uom=$4
  AND voided_at IS NULL AND superseded_by_id IS NULL AND remaining_qty > 0
ORDER BY layer_date ASC, id ASC
FOR UPDATE`, key.TenantID, key.ItemID, key.LocationID, key.UOM)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLayers(rows)
}

func (s *txStore) UpdateRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	tag, err := s.tx.Exec(ctx, `UPDATE inventory_cost_layers SET remaining_qty=$2 WHERE id=$1 AND $2 >= 0 AND $2 <= original_qty`, layerID, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLayerNotFound
	}
	return nil
}

func (s *txStore) GetLayerForUpdate(ctx context.Context, tenantID, layerID int64) (CostLayer, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_cost_layers
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, layerID)
	if err != nil {
		return CostLayer{}, err
	}
	defer rows.Close()
	layers, err := collectLayers(rows)
	if err != nil {
		return CostLayer{}, err
	}
	if len(layers) == 0 {
		return CostLayer{}, ErrLayerNotFound
	}
	return layers[0], nil
}

func (s *txStore) LayersBySourceLine(ctx context.Context, tenantID, lineID int64) ([]CostLayer, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_cost_layers
WHERE tenant_id=$1 AND source_line_id=$2 ORDER BY id ASC FOR UPDATE`, tenantID, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLayers(rows)
}

func (s *txStore) MarkVoided(ctx context.Context, layerID int64, reason string, at time.Time) error {
	tag, err := s.tx.Exec(ctx, `UPDATE inventory_cost_layers SET voided_at=$2, void_reason=$3 WHERE id=$1 AND voided_at IS NULL`, layerID, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLayerNotEligible
	}
	return nil
}

func collectLayers(rows pgx.Rows) ([]CostLayer, error) {
	var layers []CostLayer
	for rows.Next() {
		var l CostLayer
		var sourceLineID *int64
		var voidReason *string
		if err := rows.Scan(&l.ID, &l.Key.TenantID, &l.Key.ItemID, &l.Key.LocationID, &l.Key.UOM,
			&l.LayerDate, &l.UnitCost, &l.OriginalQty, &l.RemainingQty,
			&sourceLineID, &l.VoidedAt, &voidReason, &l.SupersededByID, &l.CreatedAt); err != nil {
			return nil, err
		}
		if sourceLineID != nil {
			l.SourceLineID = *sourceLineID
		}
		if voidReason != nil {
			l.VoidReason = *voidReason
		}
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return layers, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
