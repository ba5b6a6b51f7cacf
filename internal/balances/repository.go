package balances

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// Repository reads balances outside of ledger transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the balance row for a key.
func (r *Repository) Get(ctx context.Context, key shared.StockKey) (Balance, error) {
	if r == nil {
		return Balance{}, errors.New("balances repository not initialised")
	}
	return scanBalance(ctx, r.pool, key, false)
}

// NewTxStore wraps a pgx transaction as a TxStore for use by the ledger and
// reservation services.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) AddOnHand(ctx context.Context, key shared.StockKey, delta decimal.Decimal) (Balance, error) {
	return s.add(ctx, key, delta, decimal.Zero)
}

func (s *txStore) AddReserved(ctx context.Context, key shared.StockKey, delta decimal.Decimal) (Balance, error) {
	return s.add(ctx, key, decimal.Zero, delta)
}

// add performs the single conditionally-atomic upsert per key required to
// avoid lost updates under concurrent postings.
func (s *txStore) add(ctx context.Context, key shared.StockKey, onHand, reserved decimal.Decimal) (Balance, error) {
	var bal Balance
	bal.Key = key
	err := s.tx.QueryRow(ctx, `INSERT INTO inventory_balances (tenant_id, item_id, location_id, uom, on_hand, reserved, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (tenant_id, item_id, location_id, uom)
DO UPDATE SET on_hand = inventory_balances.on_hand + EXCLUDED.on_hand,
              reserved = inventory_balances.reserved + EXCLUDED.reserved,
              updated_at = NOW()
RETURNING on_hand, reserved, updated_at`,
		key.TenantID, key.ItemID, key.LocationID, key.UOM, onHand, reserved).
		Scan(&bal.OnHand, &bal.Reserved, &bal.UpdatedAt)
	if err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func (s *txStore) GetForUpdate(ctx context.Context, key shared.StockKey) (Balance, error) {
	return scanBalance(ctx, s.tx, key, true)
}

func (s *txStore) Get(ctx context.Context, key shared.StockKey) (Balance, error) {
	return scanBalance(ctx, s.tx, key, false)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanBalance(ctx context.Context, q rowQuerier, key shared.StockKey, forUpdate bool) (Balance, error) {
	query := `SELECT on_hand, reserved, updated_at FROM inventory_balances
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 AND uom=$4`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var bal Balance
	bal.Key = key
	err := q.QueryRow(ctx, query, key.TenantID, key.ItemID, key.LocationID, key.UOM).
		Scan(&bal.OnHand, &bal.Reserved, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Key: key}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}
