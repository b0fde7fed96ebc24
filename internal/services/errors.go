package services

import (
	"errors"
	"fmt"

	"stockledger/internal/repositories"
)

var (
	ErrProductNotFound            = errors.New("product not found")
	ErrMovementNotFound           = errors.New("movement not found")
	ErrReservationNotFound        = errors.New("reservation not found")
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrInsufficientAvailableStock = errors.New("insufficient available stock")
	ErrAlreadyReversed            = errors.New("movement is a reversal and cannot be reversed")
	ErrInvalidState               = errors.New("movement is not in a reversible state")
	ErrValidation                 = errors.New("validation failed")
	ErrReservationExists          = errors.New("reservation already exists")
	ErrDuplicateSKU               = errors.New("product with this sku already exists")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translate maps repository sentinels onto service errors. Anything else,
// including transient storage errors, passes through untouched so the
// transaction retry still sees it.
func translate(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrNotFound):
		return notFound
	case errors.Is(err, repositories.ErrInsufficientStock):
		return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
	case errors.Is(err, repositories.ErrValidation):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, repositories.ErrStateConflict):
		return ErrInvalidState
	}
	return err
}
