package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/services"
)

// MovementHandlers exposes the stock movement ledger
type MovementHandlers struct {
	ledgerService services.LedgerService
}

// NewMovementHandlers creates a new movement handlers instance
func NewMovementHandlers(ledgerService services.LedgerService) *MovementHandlers {
	return &MovementHandlers{ledgerService: ledgerService}
}

// RecordMovement handles POST /v1/movements
func (h *MovementHandlers) RecordMovement(c echo.Context) error {
	var in services.RecordMovementInput
	if err := c.Bind(&in); err != nil {
		return badRequest("body", err)
	}
	in.PerformedBy = common.ActorFromContext(c.Request().Context())

	movement, err := h.ledgerService.RecordMovement(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, movement)
}

// ListMovements handles GET /v1/movements
func (h *MovementHandlers) ListMovements(c echo.Context) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}
	filter := &models.MovementFilter{
		ReferenceID: strings.TrimSpace(c.QueryParam("reference_id")),
		Limit:       limit,
		Offset:      offset,
	}

	if raw := c.QueryParam("product_id"); raw != "" {
		id, err := common.ValidateUUID(raw, "product_id")
		if err != nil {
			return badRequest("product_id", err)
		}
		filter.ProductID = &id
	}
	if raw := strings.TrimSpace(c.QueryParam("type")); raw != "" {
		t := models.MovementType(raw)
		filter.Type = &t
	}
	if raw := c.QueryParam("from"); raw != "" {
		from, err := common.ParseTimeBound(raw, "from", false)
		if err != nil {
			return badRequest("from", err)
		}
		filter.From = &from
	}
	if raw := c.QueryParam("to"); raw != "" {
		to, err := common.ParseTimeBound(raw, "to", true)
		if err != nil {
			return badRequest("to", err)
		}
		filter.To = &to
	}

	movements, err := h.ledgerService.ListMovements(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"movements": movements,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// GetMovement handles GET /v1/movements/:id
func (h *MovementHandlers) GetMovement(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	movement, err := h.ledgerService.GetMovement(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, movement)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

// ReverseMovement handles POST /v1/movements/:id/reverse
func (h *MovementHandlers) ReverseMovement(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req reverseRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("body", err)
	}

	ctx := c.Request().Context()
	reversal, err := h.ledgerService.ReverseMovement(ctx, id, common.ActorFromContext(ctx), strings.TrimSpace(req.Reason))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, reversal)
}
