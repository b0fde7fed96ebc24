package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecentMovementLimit caps the denormalized movement history kept on an inventory record.
const RecentMovementLimit = 50

// Inventory is the single owner of a product's current stock. ReservedStock
// and AvailableStock are derived from the live reservation set.
type Inventory struct {
	ProductID       uuid.UUID       `json:"product_id" db:"product_id"`
	CurrentStock    int             `json:"current_stock" db:"current_stock"`
	ReservedStock   int             `json:"reserved_stock" db:"reserved_stock"`
	AvailableStock  int             `json:"available_stock" db:"available_stock"`
	ReorderPoint    int             `json:"reorder_point" db:"reorder_point"`
	ReorderQuantity int             `json:"reorder_quantity" db:"reorder_quantity"`
	StockValue      decimal.Decimal `json:"stock_value" db:"stock_value"`
	MovementCount   int             `json:"movement_count" db:"movement_count"`
	RecentMovements []uuid.UUID     `json:"recent_movements" db:"recent_movements"`
	LastUpdated     time.Time       `json:"last_updated" db:"last_updated"`
}

// NeedsReorder reports whether current stock has fallen to the reorder point.
func (i *Inventory) NeedsReorder() bool {
	return i.ReorderPoint > 0 && i.CurrentStock <= i.ReorderPoint
}

// AvailableFrom derives available stock the same way storage does.
func AvailableFrom(current, reserved int) int {
	if current-reserved < 0 {
		return 0
	}
	return current - reserved
}

// StockChange is the before/after pair produced by one atomic stock write.
type StockChange struct {
	Previous int `json:"previous"`
	Current  int `json:"current"`
}

func (c StockChange) Delta() int { return c.Current - c.Previous }

// InventorySettings is a partial update of reorder settings
type InventorySettings struct {
	ReorderPoint    *int `json:"reorder_point,omitempty"`
	ReorderQuantity *int `json:"reorder_quantity,omitempty"`
}

// Fields returns the column/value pairs set in s.
func (s InventorySettings) Fields() map[string]any {
	fields := make(map[string]any)
	if s.ReorderPoint != nil {
		fields["reorder_point"] = *s.ReorderPoint
	}
	if s.ReorderQuantity != nil {
		fields["reorder_quantity"] = *s.ReorderQuantity
	}
	return fields
}
