package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stockledger/internal/models"
	"stockledger/internal/retry"
)

// MovementRepository persists the append-only ledger.
type MovementRepository interface {
	Create(ctx context.Context, movement *models.StockMovement) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.StockMovement, error)
	List(ctx context.Context, filter *models.MovementFilter) ([]*models.StockMovement, error)
	MarkReversed(ctx context.Context, id, reversalID uuid.UUID, actor string, at time.Time) error
	Aggregate(ctx context.Context, productID uuid.UUID, asOf time.Time) ([]models.MovementAggregate, error)
}

type movementRepo struct {
	base
}

func NewMovementRepo(db Database, policy retry.Policy) MovementRepository {
	return &movementRepo{base: base{db: db, policy: policy}}
}

const movementColumns = `id, product_id, product_name, product_sku, type, quantity, unit_cost, total_value,
	previous_stock, new_stock, reference_type, reference_id, reference_number, reason, notes, status,
	is_reversal, original_movement_id, reversal_movement_id, reversed_by, reversed_at, performed_by, created_at`

func scanMovement(row scanner) (*models.StockMovement, error) {
	m := &models.StockMovement{}
	err := row.Scan(&m.ID, &m.ProductID, &m.ProductName, &m.ProductSKU, &m.Type, &m.Quantity, &m.UnitCost, &m.TotalValue,
		&m.PreviousStock, &m.NewStock, &m.ReferenceType, &m.ReferenceID, &m.ReferenceNumber, &m.Reason, &m.Notes, &m.Status,
		&m.IsReversal, &m.OriginalMovementID, &m.ReversalMovementID, &m.ReversedBy, &m.ReversedAt, &m.PerformedBy, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (r *movementRepo) Create(ctx context.Context, m *models.StockMovement) error {
	query := `
		INSERT INTO stock_movements (` + movementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, clock_timestamp())
		RETURNING created_at
	`
	return r.run(ctx, "create_movement", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query,
			m.ID, m.ProductID, m.ProductName, m.ProductSKU, m.Type, m.Quantity, m.UnitCost, m.TotalValue,
			m.PreviousStock, m.NewStock, m.ReferenceType, m.ReferenceID, m.ReferenceNumber, m.Reason, m.Notes, m.Status,
			m.IsReversal, m.OriginalMovementID, m.ReversalMovementID, m.ReversedBy, m.ReversedAt, m.PerformedBy,
		).Scan(&m.CreatedAt)
	})
}

func (r *movementRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.StockMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE id = $1`
	return scanMovement(r.db.QueryRow(ctx, query, id))
}

func (r *movementRepo) List(ctx context.Context, filter *models.MovementFilter) ([]*models.StockMovement, error) {
	if filter == nil {
		filter = &models.MovementFilter{}
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != nil {
		add("product_id = $%d", *filter.ProductID)
	}
	if filter.Type != nil {
		add("type = $%d", string(*filter.Type))
	}
	if filter.ReferenceID != "" {
		add("reference_id = $%d", filter.ReferenceID)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}

	query := `SELECT ` + movementColumns + ` FROM stock_movements`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []*models.StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// MarkReversed stamps reversal bookkeeping on a completed original. It
// reports ErrStateConflict when the row is no longer completed.
func (r *movementRepo) MarkReversed(ctx context.Context, id, reversalID uuid.UUID, actor string, at time.Time) error {
	query := `
		UPDATE stock_movements
		SET status = 'reversed', reversal_movement_id = $2, reversed_by = $3, reversed_at = $4
		WHERE id = $1 AND status = 'completed' AND NOT is_reversal
	`
	return r.run(ctx, "mark_reversed", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, id, reversalID, actor, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStateConflict
		}
		return nil
	})
}

// Aggregate groups counted rows up to asOf by type and reversal flag. The
// in/out partition is applied by models.NewProductSummary.
func (r *movementRepo) Aggregate(ctx context.Context, productID uuid.UUID, asOf time.Time) ([]models.MovementAggregate, error) {
	query := `
		SELECT type, is_reversal, COALESCE(SUM(quantity), 0)::int, COALESCE(SUM(total_value), 0), COUNT(*)::int
		FROM stock_movements
		WHERE product_id = $1 AND created_at <= $2 AND status IN ('completed', 'reversed')
		GROUP BY type, is_reversal
		ORDER BY type, is_reversal
	`
	rows, err := r.db.Query(ctx, query, productID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []models.MovementAggregate
	for rows.Next() {
		var a models.MovementAggregate
		if err := rows.Scan(&a.Type, &a.IsReversal, &a.Quantity, &a.Value, &a.Count); err != nil {
			return nil, err
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}
