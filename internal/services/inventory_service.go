package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/models"
	"stockledger/internal/repositories"
)

type InventoryService interface {
	// GetInventory serves the cached projection when present. Figures may lag
	// the ledger by at most the cache TTL; writes invalidate it.
	GetInventory(ctx context.Context, productID uuid.UUID) (*models.Inventory, error)
	UpdateSettings(ctx context.Context, productID uuid.UUID, settings models.InventorySettings) (*models.Inventory, error)
	LowStockAlerts(ctx context.Context, limit int) ([]*models.Inventory, error)
}

type inventoryService struct {
	store  repositories.Store
	cache  caching.CacheService
	logger logrus.FieldLogger
}

func NewInventoryService(store repositories.Store, cache caching.CacheService, logger logrus.FieldLogger) InventoryService {
	return &inventoryService{store: store, cache: cache, logger: logger}
}

// GetInventory serves the cached projection when present. A miss reads the
// store and caches the result; if a write commits and invalidates between that
// read and the cache set, the stale value is served until ReadThroughTTL.
func (s *inventoryService) GetInventory(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	if cached, err := s.cache.GetInventory(ctx, productID); cached != nil {
		return cached, nil
	} else if err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Warn("inventory cache read failed")
	}

	inv, err := s.store.Repositories().Inventory.GetByProductID(ctx, productID)
	if err != nil {
		return nil, translate(err, ErrProductNotFound)
	}
	if err := s.cache.SetInventory(ctx, inv, caching.ReadThroughTTL); err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Warn("failed to cache inventory")
	}
	return inv, nil
}

func (s *inventoryService) UpdateSettings(ctx context.Context, productID uuid.UUID, settings models.InventorySettings) (*models.Inventory, error) {
	fields := settings.Fields()
	if len(fields) == 0 {
		return nil, validationError("no settings to update")
	}
	for name, v := range fields {
		if n, ok := v.(int); ok && n < 0 {
			return nil, validationError("%s cannot be negative", name)
		}
	}

	var inv *models.Inventory
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		updated, err := repos.Inventory.UpdateFields(ctx, productID, fields)
		if err != nil {
			return translate(err, ErrProductNotFound)
		}
		inv = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	invalidateInventory(ctx, s.cache, s.logger, productID)
	return inv, nil
}

func (s *inventoryService) LowStockAlerts(ctx context.Context, limit int) ([]*models.Inventory, error) {
	return s.store.Repositories().Inventory.ListLowStock(ctx, limit)
}
