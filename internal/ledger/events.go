package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// SupplyIncreasedEvent fires after a committed posting raised on-hand for a
// stocking point. The backorder retry hangs off this event; there is no
// polling loop.
type SupplyIncreasedEvent struct {
	Key        shared.StockKey
	Qty        decimal.Decimal
	MovementID int64
	PostedAt   time.Time
}

// IntegrationHandler receives ledger events after commit.
type IntegrationHandler interface {
	HandleSupplyIncreased(ctx context.Context, evt SupplyIncreasedEvent) error
}
