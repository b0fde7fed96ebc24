package repositories

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/internal/models"
)

// StockUpdateOptions controls the floor applied by AtomicStockUpdate.
//
// With AllowNegative unset the result is clamped to MinStock inside the same
// write. RequireSufficient instead refuses the write and reports
// ErrInsufficientStock when current+delta would fall below MinStock.
type StockUpdateOptions struct {
	AllowNegative     bool
	MinStock          int
	RequireSufficient bool
}

// column whitelists for the generic primitives
var (
	updatableInventoryFields = map[string]bool{
		"reorder_point":    true,
		"reorder_quantity": true,
	}
	incrementableInventoryFields = map[string]bool{
		"movement_count":   true,
		"reorder_point":    true,
		"reorder_quantity": true,
	}
)

func qualified(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// AtomicStockUpdate applies delta to current stock in one statement and
// returns the stock observed before and produced by the write. Available
// stock is derived in the same write.
func (r *inventoryRepo) AtomicStockUpdate(ctx context.Context, productID uuid.UUID, delta int, opts StockUpdateOptions) (models.StockChange, error) {
	floor := opts.MinStock
	if opts.AllowNegative && !opts.RequireSufficient {
		floor = math.MinInt32
	}

	guard := ""
	if opts.RequireSufficient {
		guard = " AND prev.current_stock + $2 >= $3"
	}

	query := `
		WITH prev AS (
			SELECT product_id, current_stock FROM inventory WHERE product_id = $1 FOR UPDATE
		), upd AS (
			UPDATE inventory i
			SET current_stock = GREATEST(i.current_stock + $2, $3),
				available_stock = GREATEST(GREATEST(i.current_stock + $2, $3) - i.reserved_stock, 0),
				last_updated = NOW()
			FROM prev
			WHERE i.product_id = prev.product_id` + guard + `
			RETURNING i.current_stock
		)
		SELECT prev.current_stock, upd.current_stock
		FROM prev LEFT JOIN upd ON TRUE
	`

	var change models.StockChange
	err := r.run(ctx, "atomic_stock_update", func(ctx context.Context) error {
		var current *int
		if err := r.db.QueryRow(ctx, query, productID, delta, floor).Scan(&change.Previous, &current); err != nil {
			return notFound(err)
		}
		if current == nil {
			return fmt.Errorf("%w: have %d, change %d", ErrInsufficientStock, change.Previous, delta)
		}
		change.Current = *current
		return nil
	})
	return change, err
}

// AtomicBalanceUpdate moves the inventory valuation by delta.
func (r *inventoryRepo) AtomicBalanceUpdate(ctx context.Context, productID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE inventory
		SET stock_value = stock_value + $2, last_updated = NOW()
		WHERE product_id = $1
		RETURNING stock_value
	`
	var balance decimal.Decimal
	err := r.run(ctx, "atomic_balance_update", func(ctx context.Context) error {
		return notFound(r.db.QueryRow(ctx, query, productID, delta).Scan(&balance))
	})
	return balance, err
}

// AppendRecentMovement pushes movementID onto the embedded history, keeping the newest limit entries.
func (r *inventoryRepo) AppendRecentMovement(ctx context.Context, productID, movementID uuid.UUID, limit int) error {
	if limit <= 0 {
		limit = models.RecentMovementLimit
	}
	query := `
		UPDATE inventory
		SET recent_movements = (array_append(recent_movements, $2::uuid))[GREATEST(cardinality(recent_movements) + 2 - $3, 1):],
			last_updated = NOW()
		WHERE product_id = $1
	`
	return r.run(ctx, "append_recent_movement", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, productID, movementID, limit)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *inventoryRepo) RemoveRecentMovement(ctx context.Context, productID, movementID uuid.UUID) error {
	query := `
		UPDATE inventory
		SET recent_movements = array_remove(recent_movements, $2::uuid), last_updated = NOW()
		WHERE product_id = $1
	`
	return r.run(ctx, "remove_recent_movement", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, productID, movementID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpdateFields sets several whitelisted columns in one write.
func (r *inventoryRepo) UpdateFields(ctx context.Context, productID uuid.UUID, fields map[string]any) (*models.Inventory, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	columns := make([]string, 0, len(fields))
	for column, value := range fields {
		if !updatableInventoryFields[column] {
			return nil, fmt.Errorf("%w: field %q cannot be updated", ErrValidation, column)
		}
		if n, ok := value.(int); !ok || n < 0 {
			return nil, fmt.Errorf("%w: field %q must be a non-negative integer", ErrValidation, column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	args := []any{productID}
	sets := make([]string, 0, len(columns)+1)
	for _, column := range columns {
		args = append(args, fields[column])
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	sets = append(sets, "last_updated = NOW()")

	query := `UPDATE inventory SET ` + strings.Join(sets, ", ") + ` WHERE product_id = $1 RETURNING ` + inventoryColumns

	var inv *models.Inventory
	err := r.run(ctx, "update_fields", func(ctx context.Context) error {
		var err error
		inv, err = scanInventory(r.db.QueryRow(ctx, query, args...))
		return err
	})
	return inv, err
}

// IncrementField adds delta to a whitelisted integer counter and returns the new value.
func (r *inventoryRepo) IncrementField(ctx context.Context, productID uuid.UUID, column string, delta int) (int, error) {
	if !incrementableInventoryFields[column] {
		return 0, fmt.Errorf("%w: field %q cannot be incremented", ErrValidation, column)
	}
	query := fmt.Sprintf(`UPDATE inventory SET %[1]s = %[1]s + $2 WHERE product_id = $1 RETURNING %[1]s`, column)

	var value int
	err := r.run(ctx, "increment_field", func(ctx context.Context) error {
		return notFound(r.db.QueryRow(ctx, query, productID, delta).Scan(&value))
	})
	return value, err
}
