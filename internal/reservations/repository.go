package reservations

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/backorders"
	"github.com/jwfreed/inventory-manager-sub012/internal/balances"
	"github.com/jwfreed/inventory-manager-sub012/internal/platform/db"
	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

const reservationColumns = `id, tenant_id, item_id, location_id, uom, demand_type, demand_id, qty, status, fulfilled_by_movement_id, expires_at, created_at, updated_at`

// Repository persists reservations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reservations repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListByDemand returns all reservations owned by a demand reference.
func (r *Repository) ListByDemand(ctx context.Context, tenantID int64, demand shared.DemandRef) ([]Reservation, error) {
	if r == nil {
		return nil, errors.New("reservations repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM inventory_reservations
WHERE tenant_id=$1 AND demand_type=$2 AND demand_id=$3 ORDER BY created_at ASC, id ASC`,
		tenantID, demand.Type, demand.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_reservations (tenant_id, item_id, location_id, uom, demand_type, demand_id, qty, status, expires_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		res.Key.TenantID, res.Key.ItemID, res.Key.LocationID, res.Key.UOM,
		res.Demand.Type, res.Demand.ID, res.Qty, string(res.Status), res.ExpiresAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, reservationID int64) (Reservation, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+reservationColumns+` FROM inventory_reservations
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	defer rows.Close()
	items, err := collectReservations(rows)
	if err != nil {
		return Reservation{}, err
	}
	if len(items) == 0 {
		return Reservation{}, ErrReservationNotFound
	}
	return items[0], nil
}

func (r *txRepository) SetStatus(ctx context.Context, reservationID int64, status Status, fulfilledBy *int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_reservations SET status=$2, fulfilled_by_movement_id=COALESCE($3, fulfilled_by_movement_id), updated_at=NOW() WHERE id=$1`,
		reservationID, string(status), fulfilledBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (r *txRepository) SumAllocated(ctx context.Context, key shared.StockKey) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM inventory_reservations
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND uom=$4 AND status=$5`,
		key.TenantID, key.ItemID, key.LocationID, key.UOM, string(StatusAllocated)).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (r *txRepository) Balances() balances.TxStore {
	return balances.NewTxStore(r.tx)
}

func (r *txRepository) Backorders() backorders.TxStore {
	return backorders.NewTxStore(r.tx)
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	var items []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.Key.TenantID, &res.Key.ItemID, &res.Key.LocationID, &res.Key.UOM,
			&res.Demand.Type, &res.Demand.ID, &res.Qty, &res.Status,
			&res.FulfilledByMovementID, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
