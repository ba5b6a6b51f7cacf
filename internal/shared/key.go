package shared

import "fmt"

// StockKey identifies a stocking point. TenantID always comes first so that
// every lock and every composite index is tenant-scoped.
type StockKey struct {
	TenantID   int64
	ItemID     int64
	LocationID int64
	UOM        string
}

// Validate reports whether the key is fully populated.
func (k StockKey) Validate() error {
	if k.TenantID == 0 {
		return fmt.Errorf("stock key: tenant required")
	}
	if k.ItemID == 0 || k.LocationID == 0 {
		return fmt.Errorf("stock key: item and location required")
	}
	if k.UOM == "" {
		return fmt.Errorf("stock key: uom required")
	}
	return nil
}

// String renders the key for log fields and map keys in fakes.
func (k StockKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%s", k.TenantID, k.ItemID, k.LocationID, k.UOM)
}

// DemandRef points at the demand line that owns a reservation or backorder,
// e.g. a sales-order line in the surrounding application.
type DemandRef struct {
	Type string
	ID   string
}

// Validate reports whether the reference is usable.
func (d DemandRef) Validate() error {
	if d.Type == "" || d.ID == "" {
		return fmt.Errorf("demand ref: type and id required")
	}
	return nil
}

func (d DemandRef) String() string {
	return d.Type + ":" + d.ID
}
