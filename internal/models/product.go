package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductFilter holds search criteria for product listing
type ProductFilter struct {
	Query  string `json:"query,omitempty"` // name or SKU prefix
	Limit  int    `json:"limit,omitempty"` // default 50
	Offset int    `json:"offset,omitempty"`
}

// Product is a catalog entry. Stock levels live on Inventory only.
type Product struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	SKU           string          `json:"sku" db:"sku"`
	Name          string          `json:"name" db:"name"`
	Description   *string         `json:"description,omitempty" db:"description"`
	UnitOfMeasure *string         `json:"unit_of_measure,omitempty" db:"unit_of_measure"`
	CostPrice     decimal.Decimal `json:"cost_price" db:"cost_price"`
	SellingPrice  decimal.Decimal `json:"selling_price" db:"selling_price"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ProductDetail is a product with its inventory projection.
type ProductDetail struct {
	*Product
	Inventory *Inventory `json:"inventory,omitempty"`
}
