package balances

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// Balance is the projected quantity snapshot for one stocking point. It is
// never authored directly; posted movement lines and reservation transitions
// maintain it incrementally.
type Balance struct {
	Key       shared.StockKey
	OnHand    decimal.Decimal
	Reserved  decimal.Decimal
	UpdatedAt time.Time
}

// Available is on-hand minus reserved. It can be negative; callers must
// treat that as backorder territory, not clamp it.
func (b Balance) Available() decimal.Decimal {
	return b.OnHand.Sub(b.Reserved)
}

// Reading is the snapshot handed to collaborators.
type Reading struct {
	Key       shared.StockKey
	OnHand    decimal.Decimal
	Reserved  decimal.Decimal
	Available decimal.Decimal
}

// Delta carries one signed on-hand change for a stocking point.
type Delta struct {
	Key shared.StockKey
	Qty decimal.Decimal
}

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("balances: balance not found")

// ErrZeroDelta indicates a delta that would not change anything.
var ErrZeroDelta = errors.New("balances: zero quantity delta")
