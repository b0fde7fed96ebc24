package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/internal/models"
	"stockledger/internal/retry"
)

type InventoryRepository interface {
	Create(ctx context.Context, inventory *models.Inventory) error
	Ensure(ctx context.Context, productID uuid.UUID) error
	GetByProductID(ctx context.Context, productID uuid.UUID) (*models.Inventory, error)
	GetForUpdate(ctx context.Context, productID uuid.UUID) (*models.Inventory, error)
	ListLowStock(ctx context.Context, limit int) ([]*models.Inventory, error)

	AtomicStockUpdate(ctx context.Context, productID uuid.UUID, delta int, opts StockUpdateOptions) (models.StockChange, error)
	AtomicBalanceUpdate(ctx context.Context, productID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	AppendRecentMovement(ctx context.Context, productID, movementID uuid.UUID, limit int) error
	RemoveRecentMovement(ctx context.Context, productID, movementID uuid.UUID) error
	UpdateFields(ctx context.Context, productID uuid.UUID, fields map[string]any) (*models.Inventory, error)
	IncrementField(ctx context.Context, productID uuid.UUID, column string, delta int) (int, error)
	RecomputeReserved(ctx context.Context, productID uuid.UUID, now time.Time) (*models.Inventory, error)
}

type inventoryRepo struct {
	base
}

func NewInventoryRepo(db Database, policy retry.Policy) InventoryRepository {
	return &inventoryRepo{base: base{db: db, policy: policy}}
}

const inventoryColumns = `product_id, current_stock, reserved_stock, available_stock, reorder_point,
	reorder_quantity, stock_value, movement_count, recent_movements, last_updated`

func scanInventory(row scanner) (*models.Inventory, error) {
	inv := &models.Inventory{}
	err := row.Scan(&inv.ProductID, &inv.CurrentStock, &inv.ReservedStock, &inv.AvailableStock, &inv.ReorderPoint,
		&inv.ReorderQuantity, &inv.StockValue, &inv.MovementCount, &inv.RecentMovements, &inv.LastUpdated)
	if err != nil {
		return nil, notFound(err)
	}
	if inv.RecentMovements == nil {
		inv.RecentMovements = []uuid.UUID{}
	}
	return inv, nil
}

func (r *inventoryRepo) Create(ctx context.Context, inventory *models.Inventory) error {
	query := `
		INSERT INTO inventory (product_id, reorder_point, reorder_quantity, last_updated)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (product_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, inventory.ProductID, inventory.ReorderPoint, inventory.ReorderQuantity)
	return err
}

func (r *inventoryRepo) Ensure(ctx context.Context, productID uuid.UUID) error {
	query := `INSERT INTO inventory (product_id, last_updated) VALUES ($1, NOW()) ON CONFLICT (product_id) DO NOTHING`
	_, err := r.db.Exec(ctx, query, productID)
	return err
}

func (r *inventoryRepo) GetByProductID(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventory WHERE product_id = $1`
	return scanInventory(r.db.QueryRow(ctx, query, productID))
}

// GetForUpdate locks the row until the surrounding transaction ends.
func (r *inventoryRepo) GetForUpdate(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventory WHERE product_id = $1 FOR UPDATE`
	return scanInventory(r.db.QueryRow(ctx, query, productID))
}

func (r *inventoryRepo) ListLowStock(ctx context.Context, limit int) ([]*models.Inventory, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + inventoryColumns + `
		FROM inventory
		WHERE reorder_point > 0 AND current_stock <= reorder_point
		ORDER BY current_stock ASC, product_id
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

// RecomputeReserved derives reserved/available stock from the live
// reservation set in a single statement.
func (r *inventoryRepo) RecomputeReserved(ctx context.Context, productID uuid.UUID, now time.Time) (*models.Inventory, error) {
	query := `
		UPDATE inventory i
		SET reserved_stock = r.total,
			available_stock = GREATEST(i.current_stock - r.total, 0),
			last_updated = NOW()
		FROM (
			SELECT COALESCE(SUM(quantity), 0)::int AS total
			FROM stock_reservations
			WHERE product_id = $1 AND expires_at > $2
		) r
		WHERE i.product_id = $1
		RETURNING ` + qualified("i", inventoryColumns)

	var inv *models.Inventory
	err := r.run(ctx, "recompute_reserved", func(ctx context.Context) error {
		var err error
		inv, err = scanInventory(r.db.QueryRow(ctx, query, productID, now))
		return err
	})
	return inv, err
}
