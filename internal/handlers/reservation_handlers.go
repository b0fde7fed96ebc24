package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"stockledger/internal/models"
	"stockledger/internal/services"
)

// ReservationHandlers manages time-boxed stock holds
type ReservationHandlers struct {
	reservationService services.ReservationService
}

// NewReservationHandlers creates a new reservation handlers instance
func NewReservationHandlers(reservationService services.ReservationService) *ReservationHandlers {
	return &ReservationHandlers{reservationService: reservationService}
}

type reserveRequest struct {
	Quantity int `json:"quantity"`
	models.ReserveOptions
}

// ReserveStock handles POST /v1/products/:id/reservations
func (h *ReservationHandlers) ReserveStock(c echo.Context) error {
	productID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("body", err)
	}

	result, err := h.reservationService.ReserveStock(c.Request().Context(), productID, req.Quantity, req.ReserveOptions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// ListReservations handles GET /v1/products/:id/reservations
func (h *ReservationHandlers) ListReservations(c echo.Context) error {
	productID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	reservations, err := h.reservationService.GetActiveReservations(c.Request().Context(), productID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"reservations": reservations,
		"count":        len(reservations),
	})
}

// ReleaseReservation handles DELETE /v1/products/:id/reservations/:reservation_id
func (h *ReservationHandlers) ReleaseReservation(c echo.Context) error {
	productID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	reservationID := strings.TrimSpace(c.Param("reservation_id"))

	inv, err := h.reservationService.ReleaseReservation(c.Request().Context(), productID, reservationID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

type extendRequest struct {
	AdditionalMinutes int `json:"additional_minutes"`
}

// ExtendReservation handles POST /v1/products/:id/reservations/:reservation_id/extend
func (h *ReservationHandlers) ExtendReservation(c echo.Context) error {
	productID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req extendRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("body", err)
	}

	reservation, err := h.reservationService.ExtendReservation(c.Request().Context(), productID,
		strings.TrimSpace(c.Param("reservation_id")), req.AdditionalMinutes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reservation)
}
