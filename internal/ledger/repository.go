package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/balances"
	"github.com/jwfreed/inventory-manager-sub012/internal/costing"
	"github.com/jwfreed/inventory-manager-sub012/internal/platform/db"
)

const movementColumns = `id, tenant_id, movement_type, status, occurred_at, source_type, source_id,
reversal_of_id, reversed_by_id, reversal_reason, metadata, created_at, posted_at`

const lineColumns = `id, movement_id, item_id, location_id, uom, qty, reason_code, note, unit_cost, cost_snapshot`

// Repository persists the movement ledger in PostgreSQL.
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
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get returns one movement with its lines.
func (r *Repository) Get(ctx context.Context, tenantID, movementID int64) (Movement, error) {
	mv, err := scanMovement(r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_movements WHERE tenant_id=$1 AND id=$2`, tenantID, movementID))
	if err != nil {
		return Movement{}, err
	}
	lines, err := queryLines(ctx, r.pool, movementID)
	if err != nil {
		return Movement{}, err
	}
	mv.Lines = lines
	return mv, nil
}

// List queries movement headers for the audit trail. Item/location filters
// match movements having at least one line at that stocking point.
func (r *Repository) List(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT m.id, m.tenant_id, m.movement_type, m.status, m.occurred_at, m.source_type, m.source_id,
m.reversal_of_id, m.reversed_by_id, m.reversal_reason, m.metadata, m.created_at, m.posted_at
FROM inventory_movements m
LEFT JOIN inventory_movement_lines l ON l.movement_id = m.id
WHERE m.tenant_id=$1
  AND ($2::bigint IS NULL OR l.item_id=$2)
  AND ($3::bigint IS NULL OR l.location_id=$3)
  AND m.occurred_at BETWEEN COALESCE($4, '-infinity') AND COALESCE($5, 'infinity')
  AND ($6::text IS NULL OR m.source_type=$6)
  AND ($7::text IS NULL OR m.source_id=$7)
ORDER BY m.occurred_at ASC, m.id ASC
LIMIT $8`,
		filter.TenantID, nullInt(filter.ItemID), nullInt(filter.LocationID),
		nullTime(filter.From), nullTime(filter.To),
		nullStr(filter.SourceType), nullStr(filter.SourceID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

// FindBySource resolves the posted movement behind an external source
// reference, used for idempotent replay.
func (r *Repository) FindBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (Movement, error) {
	mv, err := scanMovement(r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_movements
WHERE tenant_id=$1 AND source_type=$2 AND source_id=$3 AND status='posted'
ORDER BY id ASC LIMIT 1`, tenantID, sourceType, sourceID))
	if err != nil {
		return Movement{}, err
	}
	lines, err := queryLines(ctx, r.pool, mv.ID)
	if err != nil {
		return Movement{}, err
	}
	mv.Lines = lines
	return mv, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	metaJSON, err := json.Marshal(mv.Metadata)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (tenant_id, movement_type, status, occurred_at, source_type, source_id, reversal_of_id, reversal_reason, metadata, created_at, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),$10) RETURNING id`,
		mv.TenantID, string(mv.Type), string(mv.Status), mv.OccurredAt,
		nullStr(mv.SourceType), nullStr(mv.SourceID), mv.ReversalOfID, nullStr(mv.ReversalReason),
		metaJSON, mv.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, movementID int64, lines []MovementLine) ([]MovementLine, error) {
	inserted := make([]MovementLine, 0, len(lines))
	for _, line := range lines {
		var id int64
		err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movement_lines (movement_id, item_id, location_id, uom, qty, reason_code, note, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			movementID, line.ItemID, line.LocationID, line.UOM, line.Qty,
			nullStr(line.ReasonCode), nullStr(line.Note), line.UnitCost).Scan(&id)
		if err != nil {
			return nil, err
		}
		line.ID = id
		line.MovementID = movementID
		inserted = append(inserted, line)
	}
	return inserted, nil
}

func (r *txRepository) SetLineCost(ctx context.Context, lineID int64, unitCost decimal.Decimal, snapshot *costing.Consumption) error {
	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_movement_lines SET unit_cost=$2, cost_snapshot=$3 WHERE id=$1`, lineID, unitCost, snapJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, tenantID, movementID int64) (Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM inventory_movements
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, movementID))
}

func (r *txRepository) GetLines(ctx context.Context, movementID int64) ([]MovementLine, error) {
	return queryLines(ctx, r.tx, movementID)
}

func (r *txRepository) MarkPosted(ctx context.Context, tenantID, movementID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_movements SET status='posted', posted_at=$3 WHERE tenant_id=$1 AND id=$2 AND status='draft'`, tenantID, movementID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotDraft
	}
	return nil
}

// SetReversedBy links the original to its reversal; the conditional update
// plus the partial unique index enforce one reversal per movement.
func (r *txRepository) SetReversedBy(ctx context.Context, tenantID, originalID, reversalID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_movements SET reversed_by_id=$3 WHERE tenant_id=$1 AND id=$2 AND reversed_by_id IS NULL`, tenantID, originalID, reversalID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReversal
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateReversal
	}
	return nil
}

func (r *txRepository) DeleteMovement(ctx context.Context, tenantID, movementID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM inventory_movement_lines WHERE movement_id=$1`, movementID); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM inventory_movements WHERE tenant_id=$1 AND id=$2`, tenantID, movementID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *txRepository) Balances() balances.TxStore {
	return balances.NewTxStore(r.tx)
}

func (r *txRepository) Layers() costing.TxStore {
	return costing.NewTxStore(r.tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (Movement, error) {
	var mv Movement
	var sourceType, sourceID, reversalReason *string
	var metaJSON []byte
	err := row.Scan(&mv.ID, &mv.TenantID, &mv.Type, &mv.Status, &mv.OccurredAt,
		&sourceType, &sourceID, &mv.ReversalOfID, &mv.ReversedByID, &reversalReason,
		&metaJSON, &mv.CreatedAt, &mv.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	if sourceType != nil {
		mv.SourceType = *sourceType
	}
	if sourceID != nil {
		mv.SourceID = *sourceID
	}
	if reversalReason != nil {
		mv.ReversalReason = *reversalReason
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &mv.Metadata)
	}
	return mv, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, movementID int64) ([]MovementLine, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM inventory_movement_lines WHERE movement_id=$1 ORDER BY id ASC`, movementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []MovementLine
	for rows.Next() {
		var line MovementLine
		var reasonCode, note *string
		var snapJSON []byte
		if err := rows.Scan(&line.ID, &line.MovementID, &line.ItemID, &line.LocationID, &line.UOM,
			&line.Qty, &reasonCode, &note, &line.UnitCost, &snapJSON); err != nil {
			return nil, err
		}
		if reasonCode != nil {
			line.ReasonCode = *reasonCode
		}
		if note != nil {
			line.Note = *note
		}
		if len(snapJSON) > 0 {
			var snap costing.Consumption
			if err := json.Unmarshal(snapJSON, &snap); err == nil {
				line.CostSnapshot = &snap
			}
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
