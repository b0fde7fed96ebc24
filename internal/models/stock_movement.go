package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType classifies a stock movement. The set is closed.
type MovementType string

const (
	MovementPurchase      MovementType = "purchase"
	MovementSale          MovementType = "sale"
	MovementReturnIn      MovementType = "return_in"
	MovementReturnOut     MovementType = "return_out"
	MovementAdjustmentIn  MovementType = "adjustment_in"
	MovementAdjustmentOut MovementType = "adjustment_out"
	MovementTransferIn    MovementType = "transfer_in"
	MovementTransferOut   MovementType = "transfer_out"
	MovementDamage        MovementType = "damage"
	MovementExpiry        MovementType = "expiry"
	MovementTheft         MovementType = "theft"
	MovementProduction    MovementType = "production"
	MovementConsumption   MovementType = "consumption"
	MovementInitialStock  MovementType = "initial_stock"
)

// Direction is the sign a movement applies to current stock.
type Direction int

const (
	DirectionOut Direction = -1
	DirectionIn  Direction = 1
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// movementDirections is the only place a movement type is classified as
// stock-increasing or stock-decreasing. A new type must be added here.
var movementDirections = map[MovementType]Direction{
	MovementPurchase:      DirectionIn,
	MovementReturnIn:      DirectionIn,
	MovementAdjustmentIn:  DirectionIn,
	MovementTransferIn:    DirectionIn,
	MovementProduction:    DirectionIn,
	MovementInitialStock:  DirectionIn,
	MovementSale:          DirectionOut,
	MovementReturnOut:     DirectionOut,
	MovementAdjustmentOut: DirectionOut,
	MovementTransferOut:   DirectionOut,
	MovementDamage:        DirectionOut,
	MovementExpiry:        DirectionOut,
	MovementTheft:         DirectionOut,
	MovementConsumption:   DirectionOut,
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	_, ok := movementDirections[t]
	return ok
}

// Direction returns the stock direction of t. Unknown types report DirectionOut
// so they can never silently add stock; callers validate with Valid first.
func (t MovementType) Direction() Direction {
	if d, ok := movementDirections[t]; ok {
		return d
	}
	return DirectionOut
}

func (t MovementType) IsIncreasing() bool { return t.Valid() && t.Direction() == DirectionIn }

func (t MovementType) IsDecreasing() bool { return t.Valid() && t.Direction() == DirectionOut }

// IncreasingTypes lists the stock-increasing types in stable order.
func IncreasingTypes() []MovementType { return typesWithDirection(DirectionIn) }

// DecreasingTypes lists the stock-decreasing types in stable order.
func DecreasingTypes() []MovementType { return typesWithDirection(DirectionOut) }

// MovementTypes lists every known type in stable order.
func MovementTypes() []MovementType {
	out := make([]MovementType, 0, len(movementDirections))
	for t := range movementDirections {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func typesWithDirection(d Direction) []MovementType {
	var out []MovementType
	for _, t := range MovementTypes() {
		if movementDirections[t] == d {
			out = append(out, t)
		}
	}
	return out
}

// MovementStatus is the lifecycle state of a ledger row.
type MovementStatus string

const (
	MovementStatusPending   MovementStatus = "pending"
	MovementStatusCompleted MovementStatus = "completed"
	MovementStatusCancelled MovementStatus = "cancelled"
	MovementStatusReversed  MovementStatus = "reversed"
)

// StockMovement is one immutable ledger entry. Only the reversal bookkeeping
// fields of an original row are ever written after insert.
type StockMovement struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	ProductID       uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName     string          `json:"product_name" db:"product_name"`
	ProductSKU      string          `json:"product_sku" db:"product_sku"`
	Type            MovementType    `json:"type" db:"type"`
	Quantity        int             `json:"quantity" db:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	TotalValue      decimal.Decimal `json:"total_value" db:"total_value"`
	PreviousStock   int             `json:"previous_stock" db:"previous_stock"`
	NewStock        int             `json:"new_stock" db:"new_stock"`
	ReferenceType   string          `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID     string          `json:"reference_id,omitempty" db:"reference_id"`
	ReferenceNumber string          `json:"reference_number,omitempty" db:"reference_number"`
	Reason          string          `json:"reason,omitempty" db:"reason"`
	Notes           string          `json:"notes,omitempty" db:"notes"`
	Status          MovementStatus  `json:"status" db:"status"`

	IsReversal         bool       `json:"is_reversal" db:"is_reversal"`
	OriginalMovementID *uuid.UUID `json:"original_movement_id,omitempty" db:"original_movement_id"`
	ReversalMovementID *uuid.UUID `json:"reversal_movement_id,omitempty" db:"reversal_movement_id"`
	ReversedBy         *string    `json:"reversed_by,omitempty" db:"reversed_by"`
	ReversedAt         *time.Time `json:"reversed_at,omitempty" db:"reversed_at"`

	PerformedBy string    `json:"performed_by" db:"performed_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// EffectiveDirection is the direction the row actually moved stock. A
// reversal moves stock against its type.
func (m *StockMovement) EffectiveDirection() Direction {
	d := m.Type.Direction()
	if m.IsReversal {
		return -d
	}
	return d
}

// StockDelta is the signed change this row applied to current stock.
func (m *StockMovement) StockDelta() int {
	return int(m.EffectiveDirection()) * m.Quantity
}

// Counted reports whether the row contributes to summaries.
func (m *StockMovement) Counted() bool {
	return m.Status == MovementStatusCompleted || m.Status == MovementStatusReversed
}

// MovementFilter holds criteria for listing ledger rows
type MovementFilter struct {
	ProductID   *uuid.UUID    `json:"product_id,omitempty"`
	Type        *MovementType `json:"type,omitempty"`
	ReferenceID string        `json:"reference_id,omitempty"`
	From        *time.Time    `json:"from,omitempty"`
	To          *time.Time    `json:"to,omitempty"`
	Limit       int           `json:"limit,omitempty"` // default 50
	Offset      int           `json:"offset,omitempty"`
}

// MovementAggregate is one (type, reversal) bucket of counted rows.
type MovementAggregate struct {
	Type       MovementType
	IsReversal bool
	Quantity   int
	Value      decimal.Decimal
	Count      int
}

// TypeBreakdown holds per-type totals. Reversed* are the totals of reversal rows of that type.
type TypeBreakdown struct {
	Direction        string          `json:"direction"`
	Count            int             `json:"count"`
	Quantity         int             `json:"quantity"`
	Value            decimal.Decimal `json:"value"`
	ReversedQuantity int             `json:"reversed_quantity"`
	ReversedValue    decimal.Decimal `json:"reversed_value"`
}

// ProductSummary aggregates a product's ledger up to AsOf
type ProductSummary struct {
	ProductID        uuid.UUID                      `json:"product_id"`
	AsOf             time.Time                      `json:"as_of"`
	TotalInQuantity  int                            `json:"total_in_quantity"`
	TotalInValue     decimal.Decimal                `json:"total_in_value"`
	TotalOutQuantity int                            `json:"total_out_quantity"`
	TotalOutValue    decimal.Decimal                `json:"total_out_value"`
	NetQuantity      int                            `json:"net_quantity"`
	NetValue         decimal.Decimal                `json:"net_value"`
	MovementCount    int                            `json:"movement_count"`
	ByType           map[MovementType]TypeBreakdown `json:"by_type"`
}

// NewProductSummary folds aggregates into in/out totals. Reversal rows count
// in their effective direction.
func NewProductSummary(productID uuid.UUID, asOf time.Time, aggs []MovementAggregate) *ProductSummary {
	s := &ProductSummary{
		ProductID:     productID,
		AsOf:          asOf,
		TotalInValue:  decimal.Zero,
		TotalOutValue: decimal.Zero,
		ByType:        make(map[MovementType]TypeBreakdown),
	}

	for _, a := range aggs {
		dir := a.Type.Direction()
		if a.IsReversal {
			dir = -dir
		}
		if dir == DirectionIn {
			s.TotalInQuantity += a.Quantity
			s.TotalInValue = s.TotalInValue.Add(a.Value)
		} else {
			s.TotalOutQuantity += a.Quantity
			s.TotalOutValue = s.TotalOutValue.Add(a.Value)
		}
		s.MovementCount += a.Count

		b, ok := s.ByType[a.Type]
		if !ok {
			b = TypeBreakdown{Direction: a.Type.Direction().String(), Value: decimal.Zero, ReversedValue: decimal.Zero}
		}
		b.Count += a.Count
		if a.IsReversal {
			b.ReversedQuantity += a.Quantity
			b.ReversedValue = b.ReversedValue.Add(a.Value)
		} else {
			b.Quantity += a.Quantity
			b.Value = b.Value.Add(a.Value)
		}
		s.ByType[a.Type] = b
	}

	s.NetQuantity = s.TotalInQuantity - s.TotalOutQuantity
	s.NetValue = s.TotalInValue.Sub(s.TotalOutValue)
	return s
}
