package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"stockledger/internal/services"
)

const alertBatchSize = 500

type InventoryAlertService struct {
	inventory services.InventoryService
	products  services.ProductService
	logger    logrus.FieldLogger
}

// InventoryAlert is one product at or below its reorder point.
type InventoryAlert struct {
	ProductID         uuid.UUID
	ProductName       string
	SKU               string
	CurrentStock      int
	AvailableStock    int
	ReorderPoint      int
	SuggestedQuantity int
}

func NewInventoryAlertService(inventory services.InventoryService, products services.ProductService, logger logrus.FieldLogger) *InventoryAlertService {
	return &InventoryAlertService{
		inventory: inventory,
		products:  products,
		logger:    logger,
	}
}

// suggestedQuantity is the configured reorder quantity, or enough to get back
// above the reorder point when none is configured.
func suggestedQuantity(reorderPoint, reorderQuantity, current int) int {
	if reorderQuantity > 0 {
		return reorderQuantity
	}
	return reorderPoint - current + 1
}

func (a *InventoryAlertService) CheckLowStock(ctx context.Context) ([]InventoryAlert, error) {
	items, err := a.inventory.LowStockAlerts(ctx, alertBatchSize)
	if err != nil {
		return nil, err
	}

	alerts := make([]InventoryAlert, 0, len(items))
	for _, inv := range items {
		detail, err := a.products.GetByID(ctx, inv.ProductID)
		if err != nil {
			a.logger.WithError(err).WithField("product_id", inv.ProductID).Warn("skipping reorder alert for unreadable product")
			continue
		}
		alerts = append(alerts, InventoryAlert{
			ProductID:         inv.ProductID,
			ProductName:       detail.Name,
			SKU:               detail.SKU,
			CurrentStock:      inv.CurrentStock,
			AvailableStock:    inv.AvailableStock,
			ReorderPoint:      inv.ReorderPoint,
			SuggestedQuantity: suggestedQuantity(inv.ReorderPoint, inv.ReorderQuantity, inv.CurrentStock),
		})
	}
	return alerts, nil
}

func (a *InventoryAlertService) LogLowStockAlerts(alerts []InventoryAlert) {
	if len(alerts) == 0 {
		a.logger.Debug("no products below reorder point")
		return
	}

	for _, alert := range alerts {
		a.logger.WithFields(logrus.Fields{
			"event":              "reorder_suggested",
			"product_id":         alert.ProductID,
			"sku":                alert.SKU,
			"product_name":       alert.ProductName,
			"current_stock":      alert.CurrentStock,
			"available_stock":    alert.AvailableStock,
			"reorder_point":      alert.ReorderPoint,
			"suggested_quantity": alert.SuggestedQuantity,
		}).Warn("product at or below reorder point")
	}
	a.logger.WithField("count", len(alerts)).Info("reorder check completed")
}

// ScheduledLowStockCheck is the scheduler entry point.
func (a *InventoryAlertService) ScheduledLowStockCheck(ctx context.Context) error {
	alerts, err := a.CheckLowStock(ctx)
	if err != nil {
		a.logger.WithError(err).Error("reorder check failed")
		return err
	}
	a.LogLowStockAlerts(alerts)
	return nil
}
