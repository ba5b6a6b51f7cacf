package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/costing"
	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// TypeReceipt represents incoming stock.
	TypeReceipt MovementType = "receipt"
	// TypeIssue represents outgoing stock.
	TypeIssue MovementType = "issue"
	// TypeTransfer moves stock between locations within a movement.
	TypeTransfer MovementType = "transfer"
	// TypeAdjustment reconciles counted stock with the ledger.
	TypeAdjustment MovementType = "adjustment"
	// TypeReceiptReversal compensates a previously posted movement. Only
	// movements of this type may carry a reversal link.
	TypeReceiptReversal MovementType = "receipt_reversal"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case TypeReceipt, TypeIssue, TypeTransfer, TypeAdjustment, TypeReceiptReversal:
		return true
	}
	return false
}

// MovementStatus enumerates header states.
type MovementStatus string

const (
	// StatusDraft marks a movement that has not affected any projection.
	StatusDraft MovementStatus = "draft"
	// StatusPosted marks an immutable, projected movement.
	StatusPosted MovementStatus = "posted"
	// StatusCanceled marks a draft removed before posting.
	StatusCanceled MovementStatus = "canceled"
)

// Movement is the header of one ledger entry. Posted movements and their
// lines are immutable; corrections happen through reversals, never edits.
type Movement struct {
	ID             int64
	TenantID       int64
	Type           MovementType
	Status         MovementStatus
	OccurredAt     time.Time
	SourceType     string
	SourceID       string
	ReversalOfID   *int64
	ReversedByID   *int64
	ReversalReason string
	Metadata       map[string]any
	Lines          []MovementLine
	CreatedAt      time.Time
	PostedAt       *time.Time
}

// MovementLine is one signed quantity delta. Positive increases on-hand at
// the location, negative decreases it.
type MovementLine struct {
	ID         int64
	MovementID int64
	ItemID     int64
	LocationID int64
	UOM        string
	Qty        decimal.Decimal
	ReasonCode string
	Note       string
	// UnitCost is the received cost on inbound lines, or the weighted FIFO
	// cost once an outbound line consumed layers.
	UnitCost *decimal.Decimal
	// CostSnapshot is the per-layer breakdown of a FIFO draw, kept for audit.
	CostSnapshot *costing.Consumption
}

// Key returns the stocking point this line touches.
func (l MovementLine) Key(tenantID int64) shared.StockKey {
	return shared.StockKey{TenantID: tenantID, ItemID: l.ItemID, LocationID: l.LocationID, UOM: l.UOM}
}

// MovementFilter selects movements for the audit trail.
type MovementFilter struct {
	TenantID   int64
	ItemID     int64
	LocationID int64
	From       time.Time
	To         time.Time
	SourceType string
	SourceID   string
	Limit      int
}

var (
	// ErrInvalidMovementLines indicates a malformed request: no lines, a
	// zero delta, or an incomplete stocking key.
	ErrInvalidMovementLines = errors.New("ledger: invalid movement lines")
	// ErrReferenceNotFound indicates an item/location/uom or linked
	// movement that does not resolve.
	ErrReferenceNotFound = errors.New("ledger: reference not found")
	// ErrDuplicateReversal indicates the original movement is already
	// reversed.
	ErrDuplicateReversal = errors.New("ledger: movement already reversed")
	// ErrNotReversible indicates the target is a draft or itself a reversal.
	ErrNotReversible = errors.New("ledger: movement not reversible")
	// ErrReversalReasonRequired indicates a reversal without a reason.
	ErrReversalReasonRequired = errors.New("ledger: reversal reason required")
	// ErrMovementNotFound indicates a missing movement.
	ErrMovementNotFound = errors.New("ledger: movement not found")
	// ErrMovementNotDraft indicates a lifecycle operation that is only
	// legal on drafts.
	ErrMovementNotDraft = errors.New("ledger: movement not in draft status")
)
