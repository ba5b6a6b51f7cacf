package backorders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// Status enumerates backorder lifecycle states.
type Status string

const (
	// StatusOpen marks unmet demand still waiting on supply.
	StatusOpen Status = "open"
	// StatusFulfilled marks a backorder fully converted into reservations.
	StatusFulfilled Status = "fulfilled"
	// StatusCanceled marks demand withdrawn before fulfilment.
	StatusCanceled Status = "canceled"
)

// Backorder records demand that exceeded available supply at reservation
// time. At most one open row exists per (tenant, demand, item, location,
// uom); repeated shortfalls merge into it.
type Backorder struct {
	ID            int64
	Key           shared.StockKey
	Demand        shared.DemandRef
	Qty           decimal.Decimal
	Status        Status
	BackorderedAt time.Time
	UpdatedAt     time.Time
}

var (
	// ErrBackorderNotFound indicates a missing backorder row.
	ErrBackorderNotFound = errors.New("backorders: backorder not found")
	// ErrInvalidBackorder indicates a malformed open request.
	ErrInvalidBackorder = errors.New("backorders: invalid backorder")
)
