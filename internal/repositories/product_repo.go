package repositories

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"stockledger/internal/models"
	"stockledger/internal/retry"
)

type ProductRepository interface {
	Create(ctx context.Context, product *models.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	List(ctx context.Context, filter *models.ProductFilter) ([]*models.Product, error)
}

type productRepo struct {
	base
}

func NewProductRepo(db Database, policy retry.Policy) ProductRepository {
	return &productRepo{base: base{db: db, policy: policy}}
}

const productColumns = `id, sku, name, description, unit_of_measure, cost_price, selling_price, created_at, updated_at`

func scanProduct(row scanner) (*models.Product, error) {
	p := &models.Product{}
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.UnitOfMeasure, &p.CostPrice, &p.SellingPrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// Create inserts the product. A duplicate SKU surfaces as a uniqueness violation.
func (r *productRepo) Create(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (id, sku, name, description, unit_of_measure, cost_price, selling_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.run(ctx, "create_product", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, product.ID, product.SKU, product.Name, product.Description,
			product.UnitOfMeasure, product.CostPrice, product.SellingPrice).Scan(&product.CreatedAt, &product.UpdatedAt)
	})
}

func (r *productRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	return scanProduct(r.db.QueryRow(ctx, query, id))
}

func (r *productRepo) List(ctx context.Context, filter *models.ProductFilter) ([]*models.Product, error) {
	if filter == nil {
		filter = &models.ProductFilter{}
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + productColumns + ` FROM products`
	args := []any{}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, q+"%")
		query += ` WHERE name ILIKE $1 OR sku ILIKE $1`
	}
	args = append(args, filter.Limit, filter.Offset)
	query += ` ORDER BY name ASC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
