package reservations

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// Status enumerates reservation lifecycle states.
type Status string

const (
	// StatusReserved is the initial committed hold.
	StatusReserved Status = "RESERVED"
	// StatusAllocated marks intent to pick/ship; still part of the same
	// committed hold, so the reserved total does not change.
	StatusAllocated Status = "ALLOCATED"
	// StatusFulfilled closes the hold after the outbound movement posted.
	StatusFulfilled Status = "FULFILLED"
	// StatusCancelled withdraws the hold before allocation.
	StatusCancelled Status = "CANCELLED"
	// StatusExpired releases the hold after its deadline passed.
	StatusExpired Status = "EXPIRED"
)

// Reservation is demand's claim against supply.
type Reservation struct {
	ID        int64
	Key       shared.StockKey
	Demand    shared.DemandRef
	Qty       decimal.Decimal
	Status    Status
	// FulfilledByMovementID is the outbound movement that consumed the
	// reserved stock.
	FulfilledByMovementID *int64
	ExpiresAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ReserveRequest is the payload collaborators submit.
type ReserveRequest struct {
	TenantID   int64           `validate:"required"`
	ItemID     int64           `validate:"required"`
	LocationID int64           `validate:"required"`
	UOM        string          `validate:"required,max=16"`
	Qty        decimal.Decimal `validate:"required"`
	DemandType string          `validate:"required,max=64"`
	DemandID   string          `validate:"required,uuid"`
	ExpiresAt  *time.Time
	// Policy overrides the service default for this request.
	Policy ReservePolicy `validate:"omitempty,oneof=partial all_or_nothing"`
}

// Key returns the stocking point the request targets.
func (r ReserveRequest) Key() shared.StockKey {
	return shared.StockKey{TenantID: r.TenantID, ItemID: r.ItemID, LocationID: r.LocationID, UOM: r.UOM}
}

// ReserveResult reports the split between reserved and backordered quantity.
type ReserveResult struct {
	// Reservation is nil when nothing could be reserved.
	Reservation *Reservation
	ReservedQty decimal.Decimal
	// BackorderedQty is the shortfall handed to the backorder manager.
	BackorderedQty decimal.Decimal
}

// ReservePolicy decides the split when available stock cannot cover a
// request.
type ReservePolicy string

const (
	// PolicyPartial reserves the available portion and backorders the rest.
	PolicyPartial ReservePolicy = "partial"
	// PolicyAllOrNothing backorders the full quantity on any shortfall.
	PolicyAllOrNothing ReservePolicy = "all_or_nothing"
)

var (
	// ErrInvalidTransition indicates a transition outside the allowed set.
	ErrInvalidTransition = errors.New("reservations: invalid transition")
	// ErrTerminalState indicates a mutation attempt on a terminal
	// reservation.
	ErrTerminalState = errors.New("reservations: reservation in terminal state")
	// ErrReservationNotFound indicates a missing reservation row.
	ErrReservationNotFound = errors.New("reservations: reservation not found")
	// ErrInvalidRequest indicates a malformed reservation request.
	ErrInvalidRequest = errors.New("reservations: invalid request")
	// ErrAllocationExceedsOnHand guards the hard invariant that allocated
	// quantity never exceeds on-hand.
	ErrAllocationExceedsOnHand = errors.New("reservations: allocation exceeds on-hand")
	// ErrMovementRequired indicates Fulfill was called without the outbound
	// movement that consumed the stock.
	ErrMovementRequired = errors.New("reservations: fulfilling movement required")
)
