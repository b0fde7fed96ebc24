package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/services"
)

// ProductHandlers handles HTTP requests for the product catalog
type ProductHandlers struct {
	productService services.ProductService
	ledgerService  services.LedgerService
}

// NewProductHandlers creates a new product handlers instance
func NewProductHandlers(productService services.ProductService, ledgerService services.LedgerService) *ProductHandlers {
	return &ProductHandlers{
		productService: productService,
		ledgerService:  ledgerService,
	}
}

// CreateProduct handles POST /v1/products
func (h *ProductHandlers) CreateProduct(c echo.Context) error {
	var in services.CreateProductInput
	if err := c.Bind(&in); err != nil {
		return badRequest("body", err)
	}
	in.PerformedBy = common.ActorFromContext(c.Request().Context())

	detail, err := h.productService.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, detail)
}

// ListProducts handles GET /v1/products
func (h *ProductHandlers) ListProducts(c echo.Context) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}
	filter := &models.ProductFilter{
		Query:  strings.TrimSpace(c.QueryParam("q")),
		Limit:  limit,
		Offset: offset,
	}

	products, err := h.productService.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"products": products,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

// GetProduct handles GET /v1/products/:id
func (h *ProductHandlers) GetProduct(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	detail, err := h.productService.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

// GetProductSummary handles GET /v1/products/:id/summary
func (h *ProductHandlers) GetProductSummary(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	var asOf time.Time
	if raw := c.QueryParam("as_of"); raw != "" {
		if asOf, err = common.ParseTimeBound(raw, "as_of", true); err != nil {
			return badRequest("as_of", err)
		}
	}

	summary, err := h.ledgerService.GetProductSummary(c.Request().Context(), id, asOf)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := common.ValidateUUID(c.Param(name), name)
	if err != nil {
		return uuid.Nil, badRequest(name, err)
	}
	return id, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name, err)
	}
	return n, nil
}

func pagination(c echo.Context) (int, int, error) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return 0, 0, err
	}
	limit, offset, err = common.ValidatePaginationParams(limit, offset)
	if err != nil {
		return 0, 0, badRequest("offset", err)
	}
	return limit, offset, nil
}
