package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementRequest is the payload collaborators submit for posting.
type MovementRequest struct {
	TenantID   int64         `validate:"required"`
	Type       MovementType  `validate:"required"`
	OccurredAt time.Time     `validate:"required"`
	Lines      []LineRequest `validate:"required,min=1,dive"`

	// External source reference; when both are set the posting is
	// idempotent per (tenant, source type, source id).
	SourceType string `validate:"omitempty,max=64"`
	SourceID   string `validate:"omitempty,uuid"`

	// Reversal link, only meaningful for TypeReceiptReversal.
	ReversalOfID   int64
	ReversalReason string

	ActorID  int64
	Metadata map[string]any
}

// LineRequest is one requested quantity delta.
type LineRequest struct {
	ItemID     int64           `validate:"required"`
	LocationID int64           `validate:"required"`
	UOM        string          `validate:"required,max=16"`
	Qty        decimal.Decimal `validate:"required"`
	// UnitCost values inbound stock; lines without it stay uncosted.
	UnitCost   *decimal.Decimal
	ReasonCode string `validate:"omitempty,max=32"`
	Note       string `validate:"omitempty,max=500"`
}
