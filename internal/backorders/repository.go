package backorders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

const backorderColumns = `id, tenant_id, item_id, location_id, uom, demand_type, demand_id, qty, status, backordered_at, updated_at`

// Repository serves backorder status queries outside of transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByDemand returns all backorders owned by a demand reference.
func (r *Repository) ListByDemand(ctx context.Context, tenantID int64, demand shared.DemandRef) ([]Backorder, error) {
	if r == nil {
		return nil, errors.New("backorders repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+backorderColumns+` FROM inventory_backorders
WHERE tenant_id=$1 AND demand_type=$2 AND demand_id=$3 ORDER BY backordered_at ASC, id ASC`,
		tenantID, demand.Type, demand.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBackorders(rows)
}

// NewTxStore wraps a pgx transaction as a TxStore.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) UpsertOpen(ctx context.Context, key shared.StockKey, demand shared.DemandRef, qty decimal.Decimal) (Backorder, error) {
	var bo Backorder
	bo.Key = key
	bo.Demand = demand
	err := s.tx.QueryRow(ctx, `INSERT INTO inventory_backorders (tenant_id, item_id, location_id, uom, demand_type, demand_id, qty, status, backordered_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,'open',NOW(),NOW())
ON CONFLICT (tenant_id, demand_type, demand_id, item_id, location_id, uom) WHERE status = 'open'
DO UPDATE SET qty = inventory_backorders.qty + EXCLUDED.qty, updated_at = NOW()
RETURNING id, qty, status, backordered_at, updated_at`,
		key.TenantID, key.ItemID, key.LocationID, key.UOM, demand.Type, demand.ID, qty).
		Scan(&bo.ID, &bo.Qty, &bo.Status, &bo.BackorderedAt, &bo.UpdatedAt)
	if err != nil {
		return Backorder{}, err
	}
	return bo, nil
}

func (s *txStore) ListOpenOldestFirst(ctx context.Context, key shared.StockKey) ([]Backorder, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+backorderColumns+` FROM inventory_backorders
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND uom=$4 AND status='open'
ORDER BY backordered_at ASC, id ASC
FOR UPDATE`, key.TenantID, key.ItemID, key.LocationID, key.UOM)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBackorders(rows)
}

func (s *txStore) SetQtyStatus(ctx context.Context, id int64, qty decimal.Decimal, status Status) error {
	tag, err := s.tx.Exec(ctx, `UPDATE inventory_backorders SET qty=$2, status=$3, updated_at=NOW() WHERE id=$1`, id, qty, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBackorderNotFound
	}
	return nil
}

func (s *txStore) CancelOpenForDemand(ctx context.Context, key shared.StockKey, demand shared.DemandRef) error {
	_, err := s.tx.Exec(ctx, `UPDATE inventory_backorders SET status='canceled', updated_at=NOW()
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND uom=$4 AND demand_type=$5 AND demand_id=$6 AND status='open'`,
		key.TenantID, key.ItemID, key.LocationID, key.UOM, demand.Type, demand.ID)
	return err
}

func (s *txStore) ListByDemand(ctx context.Context, tenantID int64, demand shared.DemandRef) ([]Backorder, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+backorderColumns+` FROM inventory_backorders
WHERE tenant_id=$1 AND demand_type=$2 AND demand_id=$3 ORDER BY backordered_at ASC, id ASC`,
		tenantID, demand.Type, demand.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBackorders(rows)
}

func collectBackorders(rows pgx.Rows) ([]Backorder, error) {
	var items []Backorder
	for rows.Next() {
		var bo Backorder
		if err := rows.Scan(&bo.ID, &bo.Key.TenantID, &bo.Key.ItemID, &bo.Key.LocationID, &bo.Key.UOM,
			&bo.Demand.Type, &bo.Demand.ID, &bo.Qty, &bo.Status, &bo.BackorderedAt, &bo.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, bo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
