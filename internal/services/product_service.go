package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/models"
	"stockledger/internal/repositories"
	"stockledger/internal/retry"
)

// CreateProductInput registers a product with its inventory row. A positive
// InitialStock is booked as an initial_stock movement in the same transaction.
type CreateProductInput struct {
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	Description     *string         `json:"description,omitempty"`
	UnitOfMeasure   *string         `json:"unit_of_measure,omitempty"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	InitialStock    int             `json:"initial_stock"`
	ReorderPoint    int             `json:"reorder_point"`
	ReorderQuantity int             `json:"reorder_quantity"`
	PerformedBy     string          `json:"-"`
}

func (in *CreateProductInput) validate() error {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.SKU == "":
		return validationError("sku is required")
	case in.Name == "":
		return validationError("name is required")
	case in.CostPrice.IsNegative() || in.SellingPrice.IsNegative():
		return validationError("prices cannot be negative")
	case in.InitialStock < 0:
		return validationError("initial_stock cannot be negative")
	case in.ReorderPoint < 0 || in.ReorderQuantity < 0:
		return validationError("reorder settings cannot be negative")
	}
	return nil
}

type ProductService interface {
	Create(ctx context.Context, in CreateProductInput) (*models.ProductDetail, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProductDetail, error)
	List(ctx context.Context, filter *models.ProductFilter) ([]*models.Product, error)
}

type productService struct {
	store  repositories.Store
	ledger LedgerService
	cache  caching.CacheService
	logger logrus.FieldLogger
}

func NewProductService(store repositories.Store, ledger LedgerService, cache caching.CacheService, logger logrus.FieldLogger) ProductService {
	return &productService{store: store, ledger: ledger, cache: cache, logger: logger}
}

func (s *productService) Create(ctx context.Context, in CreateProductInput) (*models.ProductDetail, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{
		ID:            uuid.New(),
		SKU:           in.SKU,
		Name:          in.Name,
		Description:   in.Description,
		UnitOfMeasure: in.UnitOfMeasure,
		CostPrice:     in.CostPrice,
		SellingPrice:  in.SellingPrice,
	}

	var detail *models.ProductDetail
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		if err := repos.Products.Create(ctx, product); err != nil {
			if retry.IsUniqueViolation(err) {
				return ErrDuplicateSKU
			}
			return err
		}
		inv := &models.Inventory{
			ProductID:       product.ID,
			ReorderPoint:    in.ReorderPoint,
			ReorderQuantity: in.ReorderQuantity,
		}
		if err := repos.Inventory.Create(ctx, inv); err != nil {
			return err
		}

		if in.InitialStock > 0 {
			_, err := s.ledger.RecordMovementTx(ctx, repos, RecordMovementInput{
				ProductID:     product.ID,
				Type:          models.MovementInitialStock,
				Quantity:      in.InitialStock,
				ReferenceType: "product",
				ReferenceID:   product.ID.String(),
				Reason:        "opening balance",
				PerformedBy:   in.PerformedBy,
			})
			if err != nil {
				return err
			}
		}

		current, err := repos.Inventory.GetByProductID(ctx, product.ID)
		if err != nil {
			return err
		}
		detail = &models.ProductDetail{Product: product, Inventory: current}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"product_id":    product.ID,
		"sku":           product.SKU,
		"initial_stock": in.InitialStock,
	}).Info("product created")
	return detail, nil
}

func (s *productService) GetByID(ctx context.Context, id uuid.UUID) (*models.ProductDetail, error) {
	product, err := s.cache.GetProduct(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("product_id", id).Warn("product cache read failed")
	}
	repos := s.store.Repositories()
	if product == nil {
		product, err = repos.Products.GetByID(ctx, id)
		if err != nil {
			return nil, translate(err, ErrProductNotFound)
		}
		if err := s.cache.SetProduct(ctx, product, 15*time.Minute); err != nil {
			s.logger.WithError(err).WithField("product_id", id).Warn("failed to cache product")
		}
	}

	// stock figures are never served from the product cache
	inv, err := repos.Inventory.GetByProductID(ctx, id)
	if err != nil {
		return nil, translate(err, ErrProductNotFound)
	}
	return &models.ProductDetail{Product: product, Inventory: inv}, nil
}

func (s *productService) List(ctx context.Context, filter *models.ProductFilter) ([]*models.Product, error) {
	if filter == nil {
		filter = &models.ProductFilter{}
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.store.Repositories().Products.List(ctx, filter)
}
