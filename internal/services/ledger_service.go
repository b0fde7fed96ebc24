package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/repositories"
)

// RecordMovementInput describes one stock change.
//
// SkipInventoryUpdate writes an audit row only, for callers that already
// adjusted stock. PreviousStock/NewStock may then carry the levels the caller
// observed; otherwise the current level is recorded for both.
type RecordMovementInput struct {
	ProductID           uuid.UUID           `json:"product_id"`
	Type                models.MovementType `json:"type"`
	Quantity            int                 `json:"quantity"`
	UnitCost            *decimal.Decimal    `json:"unit_cost,omitempty"`
	ReferenceType       string              `json:"reference_type"`
	ReferenceID         string              `json:"reference_id"`
	ReferenceNumber     string              `json:"reference_number"`
	Reason              string              `json:"reason"`
	Notes               string              `json:"notes"`
	SkipInventoryUpdate bool                `json:"skip_inventory_update"`
	PreviousStock       *int                `json:"previous_stock,omitempty"`
	NewStock            *int                `json:"new_stock,omitempty"`
	PerformedBy         string              `json:"-"`
}

func (in *RecordMovementInput) validate() error {
	if in.ProductID == uuid.Nil {
		return validationError("product_id is required")
	}
	if !in.Type.Valid() {
		return validationError("unknown movement type %q", in.Type)
	}
	if in.Quantity <= 0 {
		return validationError("quantity must be greater than zero")
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return validationError("unit_cost cannot be negative")
	}
	if !in.SkipInventoryUpdate && (in.PreviousStock != nil || in.NewStock != nil) {
		return validationError("previous_stock/new_stock are only accepted with skip_inventory_update")
	}
	return nil
}

type LedgerService interface {
	RecordMovement(ctx context.Context, in RecordMovementInput) (*models.StockMovement, error)
	// RecordMovementTx records inside a unit of work the caller already opened.
	RecordMovementTx(ctx context.Context, repos *repositories.Repository, in RecordMovementInput) (*models.StockMovement, error)
	ReverseMovement(ctx context.Context, movementID uuid.UUID, actor, reason string) (*models.StockMovement, error)
	GetProductSummary(ctx context.Context, productID uuid.UUID, asOf time.Time) (*models.ProductSummary, error)
	GetMovement(ctx context.Context, id uuid.UUID) (*models.StockMovement, error)
	ListMovements(ctx context.Context, filter *models.MovementFilter) ([]*models.StockMovement, error)
}

type ledgerService struct {
	store  repositories.Store
	cache  caching.CacheService
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewLedgerService(store repositories.Store, cache caching.CacheService, logger logrus.FieldLogger) LedgerService {
	return &ledgerService{store: store, cache: cache, logger: logger, now: time.Now}
}

func (s *ledgerService) RecordMovement(ctx context.Context, in RecordMovementInput) (*models.StockMovement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var movement *models.StockMovement
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		m, err := s.RecordMovementTx(ctx, repos, in)
		movement = m
		return err
	})
	if err != nil {
		return nil, err
	}

	invalidateInventory(ctx, s.cache, s.logger, movement.ProductID)
	s.logger.WithFields(logrus.Fields{
		"movement_id": movement.ID,
		"product_id":  movement.ProductID,
		"type":        movement.Type,
		"quantity":    movement.Quantity,
		"new_stock":   movement.NewStock,
	}).Info("stock movement recorded")
	return movement, nil
}

func (s *ledgerService) RecordMovementTx(ctx context.Context, repos *repositories.Repository, in RecordMovementInput) (*models.StockMovement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	product, err := repos.Products.GetByID(ctx, in.ProductID)
	if err != nil {
		return nil, translate(err, ErrProductNotFound)
	}
	if err := repos.Inventory.Ensure(ctx, product.ID); err != nil {
		return nil, err
	}
	inv, err := repos.Inventory.GetForUpdate(ctx, product.ID)
	if err != nil {
		return nil, translate(err, ErrProductNotFound)
	}

	unitCost := product.CostPrice
	if in.UnitCost != nil {
		unitCost = *in.UnitCost
	}
	actor := in.PerformedBy
	if actor == "" {
		actor = common.SystemActor
	}

	m := &models.StockMovement{
		ID:              uuid.New(),
		ProductID:       product.ID,
		ProductName:     product.Name,
		ProductSKU:      product.SKU,
		Type:            in.Type,
		Quantity:        in.Quantity,
		UnitCost:        unitCost,
		TotalValue:      unitCost.Mul(decimal.NewFromInt(int64(in.Quantity))),
		ReferenceType:   in.ReferenceType,
		ReferenceID:     in.ReferenceID,
		ReferenceNumber: in.ReferenceNumber,
		Reason:          in.Reason,
		Notes:           in.Notes,
		Status:          models.MovementStatusCompleted,
		PerformedBy:     actor,
	}
	delta := m.StockDelta()

	if in.SkipInventoryUpdate {
		m.PreviousStock, m.NewStock = inv.CurrentStock, inv.CurrentStock
		if in.PreviousStock != nil {
			m.PreviousStock = *in.PreviousStock
		}
		if in.NewStock != nil {
			m.NewStock = *in.NewStock
		}
		if m.PreviousStock < 0 || m.NewStock < 0 {
			return nil, validationError("stock levels cannot be negative")
		}
	} else {
		if inv.CurrentStock+delta < 0 {
			return nil, fmt.Errorf("%w: %d in stock, %s of %d requested", ErrInsufficientStock, inv.CurrentStock, in.Type, in.Quantity)
		}
		change, err := repos.Inventory.AtomicStockUpdate(ctx, product.ID, delta, repositories.StockUpdateOptions{
			RequireSufficient: delta < 0,
		})
		if err != nil {
			return nil, translate(err, ErrProductNotFound)
		}
		m.PreviousStock, m.NewStock = change.Previous, change.Current
	}

	if err := s.applyLedgerRow(ctx, repos, m); err != nil {
		return nil, err
	}
	return m, nil
}

// applyLedgerRow writes the row and the inventory bookkeeping that follows every row.
func (s *ledgerService) applyLedgerRow(ctx context.Context, repos *repositories.Repository, m *models.StockMovement) error {
	value := m.TotalValue.Mul(decimal.NewFromInt(int64(m.EffectiveDirection())))
	if _, err := repos.Inventory.AtomicBalanceUpdate(ctx, m.ProductID, value); err != nil {
		return translate(err, ErrProductNotFound)
	}
	if err := repos.Movements.Create(ctx, m); err != nil {
		return err
	}
	if err := repos.Inventory.AppendRecentMovement(ctx, m.ProductID, m.ID, models.RecentMovementLimit); err != nil {
		return translate(err, ErrProductNotFound)
	}
	if _, err := repos.Inventory.IncrementField(ctx, m.ProductID, "movement_count", 1); err != nil {
		return translate(err, ErrProductNotFound)
	}
	return nil
}

// ReverseMovement writes a compensating row that inverts the original's
// stock effect. The original only gets its reversal bookkeeping stamped.
func (s *ledgerService) ReverseMovement(ctx context.Context, movementID uuid.UUID, actor, reason string) (*models.StockMovement, error) {
	if actor == "" {
		actor = common.SystemActor
	}

	var reversal *models.StockMovement
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		original, err := repos.Movements.GetByID(ctx, movementID)
		if err != nil {
			return translate(err, ErrMovementNotFound)
		}
		if original.IsReversal {
			return ErrAlreadyReversed
		}
		if original.Status != models.MovementStatusCompleted {
			return fmt.Errorf("%w: status is %s", ErrInvalidState, original.Status)
		}
		if _, err := repos.Inventory.GetForUpdate(ctx, original.ProductID); err != nil {
			return translate(err, ErrProductNotFound)
		}

		originalID := original.ID
		r := &models.StockMovement{
			ID:                 uuid.New(),
			ProductID:          original.ProductID,
			ProductName:        original.ProductName,
			ProductSKU:         original.ProductSKU,
			Type:               original.Type,
			Quantity:           original.Quantity,
			UnitCost:           original.UnitCost,
			TotalValue:         original.TotalValue,
			ReferenceType:      original.ReferenceType,
			ReferenceID:        original.ReferenceID,
			ReferenceNumber:    original.ReferenceNumber,
			Reason:             reason,
			Notes:              fmt.Sprintf("reversal of movement %s", original.ID),
			Status:             models.MovementStatusCompleted,
			IsReversal:         true,
			OriginalMovementID: &originalID,
			PerformedBy:        actor,
		}

		delta := r.StockDelta()
		change, err := repos.Inventory.AtomicStockUpdate(ctx, r.ProductID, delta, repositories.StockUpdateOptions{
			RequireSufficient: delta < 0,
		})
		if err != nil {
			return translate(err, ErrProductNotFound)
		}
		r.PreviousStock, r.NewStock = change.Previous, change.Current

		if err := s.applyLedgerRow(ctx, repos, r); err != nil {
			return err
		}
		if err := repos.Movements.MarkReversed(ctx, original.ID, r.ID, actor, s.now()); err != nil {
			return translate(err, ErrMovementNotFound)
		}
		if err := repos.Inventory.RemoveRecentMovement(ctx, r.ProductID, original.ID); err != nil {
			return translate(err, ErrProductNotFound)
		}
		reversal = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateInventory(ctx, s.cache, s.logger, reversal.ProductID)
	s.logger.WithFields(logrus.Fields{
		"movement_id":          reversal.ID,
		"original_movement_id": movementID,
		"product_id":           reversal.ProductID,
		"new_stock":            reversal.NewStock,
		"actor":                actor,
	}).Info("stock movement reversed")
	return reversal, nil
}

// GetProductSummary aggregates counted movements up to asOf. A zero asOf means now.
func (s *ledgerService) GetProductSummary(ctx context.Context, productID uuid.UUID, asOf time.Time) (*models.ProductSummary, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	repos := s.store.Repositories()
	if _, err := repos.Products.GetByID(ctx, productID); err != nil {
		return nil, translate(err, ErrProductNotFound)
	}
	aggs, err := repos.Movements.Aggregate(ctx, productID, asOf)
	if err != nil {
		return nil, err
	}
	return models.NewProductSummary(productID, asOf, aggs), nil
}

func (s *ledgerService) GetMovement(ctx context.Context, id uuid.UUID) (*models.StockMovement, error) {
	m, err := s.store.Repositories().Movements.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, ErrMovementNotFound)
	}
	return m, nil
}

func (s *ledgerService) ListMovements(ctx context.Context, filter *models.MovementFilter) ([]*models.StockMovement, error) {
	if filter != nil && filter.Type != nil && !filter.Type.Valid() {
		return nil, validationError("unknown movement type %q", *filter.Type)
	}
	if filter != nil && filter.Limit > 500 {
		filter.Limit = 500
	}
	return s.store.Repositories().Movements.List(ctx, filter)
}

func invalidateInventory(ctx context.Context, cache caching.CacheService, logger logrus.FieldLogger, productID uuid.UUID) {
	if cache == nil {
		return
	}
	if err := cache.DeleteInventory(ctx, productID); err != nil {
		logger.WithError(err).WithField("product_id", productID).Warn("failed to invalidate inventory cache")
	}
}
