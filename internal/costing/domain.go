package costing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// CostLayer is one lot of incoming valued stock. Layers are drained
// oldest-first; a voided or superseded layer no longer participates in
// valuation or consumption.
type CostLayer struct {
	ID             int64
	Key            shared.StockKey
	LayerDate      time.Time
	UnitCost       decimal.Decimal
	OriginalQty    decimal.Decimal
	RemainingQty   decimal.Decimal
	SourceLineID   int64
	VoidedAt       *time.Time
	VoidReason     string
	SupersededByID *int64
	CreatedAt      time.Time
}

// Eligible reports whether the layer can still be consumed or valued.
func (l CostLayer) Eligible() bool {
	return l.VoidedAt == nil && l.SupersededByID == nil && l.RemainingQty.IsPositive()
}

// ConsumedLayer records how much one FIFO draw took from one layer.
type ConsumedLayer struct {
	LayerID  int64           `json:"layer_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Consumption is the audit snapshot of a FIFO draw, attached to the
// consuming movement line.
type Consumption struct {
	Qty       decimal.Decimal `json:"qty"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Layers    []ConsumedLayer `json:"layers"`
}

// WeightedUnitCost is total cost over quantity, rounded to 4 places.
func (c Consumption) WeightedUnitCost() decimal.Decimal {
	if c.Qty.IsZero() {
		return decimal.Zero
	}
	return c.TotalCost.Div(c.Qty).Round(4)
}

// Valuation is the read-only report exposed to reporting collaborators.
type Valuation struct {
	QtyOnHandCosted decimal.Decimal `json:"qty_on_hand_costed"`
	InventoryValue  decimal.Decimal `json:"inventory_value"`
	OldestLayerDate *time.Time      `json:"oldest_layer_date,omitempty"`
	NewestLayerDate *time.Time      `json:"newest_layer_date,omitempty"`
}

var (
	// ErrInsufficientCostedStock indicates eligible layers cannot cover the
	// requested quantity. The caller decides whether to post uncosted or
	// reject the movement.
	ErrInsufficientCostedStock = errors.New("costing: insufficient costed stock")
	// ErrLayerPartiallyConsumed indicates a void was attempted on a layer
	// that has already been drawn down.
	ErrLayerPartiallyConsumed = errors.New("costing: layer partially consumed")
	// ErrLayerNotFound indicates a missing layer row.
	ErrLayerNotFound = errors.New("costing: layer not found")
	// ErrLayerNotEligible indicates the layer is already voided or superseded.
	ErrLayerNotEligible = errors.New("costing: layer voided or superseded")
	// ErrInvalidLayer indicates a malformed receive request.
	ErrInvalidLayer = errors.New("costing: invalid layer")
)
