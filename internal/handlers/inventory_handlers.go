package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"stockledger/internal/models"
	"stockledger/internal/services"
)

// InventoryHandlers handles HTTP requests for stock levels and reorder settings
type InventoryHandlers struct {
	inventoryService services.InventoryService
}

// NewInventoryHandlers creates a new inventory handlers instance
func NewInventoryHandlers(inventoryService services.InventoryService) *InventoryHandlers {
	return &InventoryHandlers{inventoryService: inventoryService}
}

// GetInventory handles GET /v1/inventory/:product_id
func (h *InventoryHandlers) GetInventory(c echo.Context) error {
	productID, err := pathUUID(c, "product_id")
	if err != nil {
		return err
	}

	inv, err := h.inventoryService.GetInventory(c.Request().Context(), productID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

// UpdateSettings handles PATCH /v1/inventory/:product_id
func (h *InventoryHandlers) UpdateSettings(c echo.Context) error {
	productID, err := pathUUID(c, "product_id")
	if err != nil {
		return err
	}

	var settings models.InventorySettings
	if err := c.Bind(&settings); err != nil {
		return badRequest("body", err)
	}

	inv, err := h.inventoryService.UpdateSettings(c.Request().Context(), productID, settings)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

// LowStock handles GET /v1/inventory/low-stock
func (h *InventoryHandlers) LowStock(c echo.Context) error {
	limit, _, err := pagination(c)
	if err != nil {
		return err
	}

	items, err := h.inventoryService.LowStockAlerts(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}
