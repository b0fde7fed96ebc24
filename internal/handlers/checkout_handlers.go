package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"stockledger/internal/common"
	"stockledger/internal/services"
)

// OrderHandlers covers the multi-product operations: cart checkout and
// product transformation.
type OrderHandlers struct {
	checkoutService       services.CheckoutService
	transformationService services.TransformationService
}

func NewOrderHandlers(checkoutService services.CheckoutService, transformationService services.TransformationService) *OrderHandlers {
	return &OrderHandlers{
		checkoutService:       checkoutService,
		transformationService: transformationService,
	}
}

// Checkout handles POST /v1/checkout
func (h *OrderHandlers) Checkout(c echo.Context) error {
	var req services.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("body", err)
	}
	req.PerformedBy = common.ActorFromContext(c.Request().Context())

	result, err := h.checkoutService.Checkout(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// Transform handles POST /v1/transformations
func (h *OrderHandlers) Transform(c echo.Context) error {
	var req services.TransformationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("body", err)
	}
	req.PerformedBy = common.ActorFromContext(c.Request().Context())

	result, err := h.transformationService.Transform(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}
