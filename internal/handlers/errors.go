package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"stockledger/internal/common"
	"stockledger/internal/logging"
	"stockledger/internal/retry"
	"stockledger/internal/services"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{services.ErrProductNotFound, http.StatusNotFound, "NOT_FOUND", "product not found"},
	{services.ErrMovementNotFound, http.StatusNotFound, "NOT_FOUND", "movement not found"},
	{services.ErrReservationNotFound, http.StatusNotFound, "NOT_FOUND", "reservation not found"},
	{services.ErrInsufficientAvailableStock, http.StatusBadRequest, "INSUFFICIENT_AVAILABLE_STOCK", ""},
	{services.ErrInsufficientStock, http.StatusBadRequest, "INSUFFICIENT_STOCK", ""},
	{services.ErrAlreadyReversed, http.StatusBadRequest, "ALREADY_REVERSED", ""},
	{services.ErrInvalidState, http.StatusBadRequest, "INVALID_STATE", ""},
	{services.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR", ""},
	{services.ErrReservationExists, http.StatusConflict, "CONFLICT", ""},
	{services.ErrDuplicateSKU, http.StatusConflict, "CONFLICT", ""},
}

// ErrorHandler renders every error returned by a handler in the standard
// envelope. Unexpected errors become SERVER_ERROR; their cause is only
// included outside production.
func ErrorHandler(production bool, logger logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := renderError(err, production)
		if status >= http.StatusInternalServerError {
			logging.LogError(logger.WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Path(),
			}), "handlers", "ErrorHandler", nil, err)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.WithError(writeErr).Warn("failed to write error response")
		}
	}
}

func renderError(err error, production bool) (int, *common.ErrorResponse) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			message := m.message
			if message == "" {
				message = err.Error()
			}
			return m.status, common.CreateErrorResponse(m.code, message, nil)
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, common.CreateErrorResponse(httpErrorCode(he.Code), fmt.Sprint(he.Message), nil)
	}

	details := map[string]string{}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		details["attempts"] = fmt.Sprint(exhausted.Attempts)
	}
	if !production {
		details["cause"] = err.Error()
	}
	if len(details) == 0 {
		details = nil
	}
	return http.StatusInternalServerError, common.CreateErrorResponse("SERVER_ERROR", "An unexpected error occurred", details)
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	}
	if status >= http.StatusInternalServerError {
		return "SERVER_ERROR"
	}
	return "CLIENT_ERROR"
}

// badRequest reports an unparseable field in the envelope.
func badRequest(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", services.ErrValidation, field, err)
}
