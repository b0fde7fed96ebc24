package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultReservationMinutes = 15
	DefaultReservationRefType = "cart"
)

// StockReservation is a time-boxed hold against a product's available stock.
type StockReservation struct {
	ID            string    `json:"reservation_id" db:"reservation_id"`
	ProductID     uuid.UUID `json:"product_id" db:"product_id"`
	Quantity      int       `json:"quantity" db:"quantity"`
	OwnerID       string    `json:"owner_id,omitempty" db:"owner_id"`
	ReferenceType string    `json:"reference_type" db:"reference_type"`
	ReferenceID   string    `json:"reference_id,omitempty" db:"reference_id"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Live reports whether the hold still counts against available stock at now.
func (r *StockReservation) Live(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// ReserveOptions configures a reservation. Zero values take defaults.
type ReserveOptions struct {
	OwnerID          string `json:"owner_id"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
	ReferenceType    string `json:"reference_type"`
	ReferenceID      string `json:"reference_id"`
	ReservationID    string `json:"reservation_id"`
}

// ReservationResult is returned by a successful reserve.
type ReservationResult struct {
	Reservation *StockReservation `json:"reservation"`
	Inventory   *Inventory        `json:"inventory"`
}

// ReleaseSummary reports what an expiry sweep did
type ReleaseSummary struct {
	ProductsProcessed    int `json:"products_processed"`
	ReservationsReleased int `json:"reservations_released"`
}
