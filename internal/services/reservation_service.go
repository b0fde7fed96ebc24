package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/models"
	"stockledger/internal/repositories"
	"stockledger/internal/retry"
)

type ReservationService interface {
	ReserveStock(ctx context.Context, productID uuid.UUID, quantity int, opts models.ReserveOptions) (*models.ReservationResult, error)
	ReleaseReservation(ctx context.Context, productID uuid.UUID, reservationID string) (*models.Inventory, error)
	ExtendReservation(ctx context.Context, productID uuid.UUID, reservationID string, additionalMinutes int) (*models.StockReservation, error)
	// ReleaseExpiredReservations drops lapsed holds product by product. A
	// failure on one product is logged and does not stop the sweep.
	ReleaseExpiredReservations(ctx context.Context) (*models.ReleaseSummary, error)
	GetActiveReservations(ctx context.Context, productID uuid.UUID) ([]*models.StockReservation, error)
	// RestoreReservation puts a released hold back as it was, without an
	// availability check. Used when a checkout that consumed it rolls back.
	RestoreReservation(ctx context.Context, res *models.StockReservation) (*models.Inventory, error)
}

type reservationService struct {
	store      repositories.Store
	cache      caching.CacheService
	logger     logrus.FieldLogger
	defaultTTL time.Duration
	now        func() time.Time
}

func NewReservationService(store repositories.Store, cache caching.CacheService, logger logrus.FieldLogger, defaultTTL time.Duration) ReservationService {
	if defaultTTL <= 0 {
		defaultTTL = models.DefaultReservationMinutes * time.Minute
	}
	return &reservationService{store: store, cache: cache, logger: logger, defaultTTL: defaultTTL, now: time.Now}
}

func (s *reservationService) ReserveStock(ctx context.Context, productID uuid.UUID, quantity int, opts models.ReserveOptions) (*models.ReservationResult, error) {
	if quantity <= 0 {
		return nil, validationError("quantity must be greater than zero")
	}
	if opts.ExpiresInMinutes < 0 {
		return nil, validationError("expires_in_minutes cannot be negative")
	}
	ttl := s.defaultTTL
	if opts.ExpiresInMinutes > 0 {
		ttl = time.Duration(opts.ExpiresInMinutes) * time.Minute
	}
	if opts.ReferenceType == "" {
		opts.ReferenceType = models.DefaultReservationRefType
	}
	if opts.ReservationID == "" {
		opts.ReservationID = uuid.NewString()
	}

	var result *models.ReservationResult
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		now := s.now()
		if _, err := repos.Products.GetByID(ctx, productID); err != nil {
			return translate(err, ErrProductNotFound)
		}
		if err := repos.Inventory.Ensure(ctx, productID); err != nil {
			return err
		}
		inv, err := repos.Inventory.GetForUpdate(ctx, productID)
		if err != nil {
			return translate(err, ErrProductNotFound)
		}

		held, err := repos.Reservations.SumActive(ctx, productID, now)
		if err != nil {
			return err
		}
		available := models.AvailableFrom(inv.CurrentStock, held)
		if quantity > available {
			return fmt.Errorf("%w: %d available, %d requested", ErrInsufficientAvailableStock, available, quantity)
		}

		res := &models.StockReservation{
			ID:            opts.ReservationID,
			ProductID:     productID,
			Quantity:      quantity,
			OwnerID:       opts.OwnerID,
			ReferenceType: opts.ReferenceType,
			ReferenceID:   opts.ReferenceID,
			ExpiresAt:     now.Add(ttl),
			CreatedAt:     now,
		}
		if err := repos.Reservations.Create(ctx, res, now); err != nil {
			if retry.IsUniqueViolation(err) {
				return ErrReservationExists
			}
			return err
		}

		updated, err := repos.Inventory.RecomputeReserved(ctx, productID, now)
		if err != nil {
			return translate(err, ErrProductNotFound)
		}
		result = &models.ReservationResult{Reservation: res, Inventory: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateInventory(ctx, s.cache, s.logger, productID)
	s.logger.WithFields(logrus.Fields{
		"product_id":     productID,
		"reservation_id": result.Reservation.ID,
		"quantity":       quantity,
		"expires_at":     result.Reservation.ExpiresAt,
	}).Info("stock reserved")
	return result, nil
}

func (s *reservationService) ReleaseReservation(ctx context.Context, productID uuid.UUID, reservationID string) (*models.Inventory, error) {
	var inv *models.Inventory
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		if _, err := repos.Inventory.GetForUpdate(ctx, productID); err != nil {
			return translate(err, ErrProductNotFound)
		}
		if err := repos.Reservations.Delete(ctx, productID, reservationID); err != nil {
			return translate(err, ErrReservationNotFound)
		}
		updated, err := repos.Inventory.RecomputeReserved(ctx, productID, s.now())
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
	s.logger.WithFields(logrus.Fields{
		"product_id":     productID,
		"reservation_id": reservationID,
	}).Info("reservation released")
	return inv, nil
}

func (s *reservationService) RestoreReservation(ctx context.Context, res *models.StockReservation) (*models.Inventory, error) {
	var inv *models.Inventory
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		now := s.now()
		if _, err := repos.Inventory.GetForUpdate(ctx, res.ProductID); err != nil {
			return translate(err, ErrProductNotFound)
		}
		if err := repos.Reservations.Create(ctx, res, now); err != nil {
			if retry.IsUniqueViolation(err) {
				return ErrReservationExists
			}
			return err
		}
		updated, err := repos.Inventory.RecomputeReserved(ctx, res.ProductID, now)
		if err != nil {
			return translate(err, ErrProductNotFound)
		}
		inv = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateInventory(ctx, s.cache, s.logger, res.ProductID)
	s.logger.WithFields(logrus.Fields{
		"product_id":     res.ProductID,
		"reservation_id": res.ID,
		"quantity":       res.Quantity,
	}).Info("reservation restored")
	return inv, nil
}

func (s *reservationService) ExtendReservation(ctx context.Context, productID uuid.UUID, reservationID string, additionalMinutes int) (*models.StockReservation, error) {
	if additionalMinutes <= 0 {
		return nil, validationError("additional_minutes must be greater than zero")
	}

	var res *models.StockReservation
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		extended, err := repos.Reservations.Extend(ctx, productID, reservationID, additionalMinutes, s.now())
		if err != nil {
			return translate(err, ErrReservationNotFound)
		}
		res = extended
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *reservationService) ReleaseExpiredReservations(ctx context.Context) (*models.ReleaseSummary, error) {
	now := s.now()
	productIDs, err := s.store.Repositories().Reservations.ProductsWithExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	summary := &models.ReleaseSummary{}
	var errs []error
	for _, productID := range productIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		var released int
		err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
			if _, err := repos.Inventory.GetForUpdate(ctx, productID); err != nil {
				return err
			}
			n, err := repos.Reservations.DeleteExpired(ctx, productID, now)
			if err != nil {
				return err
			}
			if _, err := repos.Inventory.RecomputeReserved(ctx, productID, now); err != nil {
				return err
			}
			released = n
			return nil
		})
		if err != nil {
			s.logger.WithError(err).WithField("product_id", productID).Error("failed to release expired reservations")
			errs = append(errs, fmt.Errorf("product %s: %w", productID, err))
			continue
		}

		summary.ProductsProcessed++
		summary.ReservationsReleased += released
		invalidateInventory(ctx, s.cache, s.logger, productID)
	}

	if summary.ReservationsReleased > 0 {
		s.logger.WithFields(logrus.Fields{
			"products_processed":    summary.ProductsProcessed,
			"reservations_released": summary.ReservationsReleased,
		}).Info("expired reservations released")
	}
	return summary, errors.Join(errs...)
}

func (s *reservationService) GetActiveReservations(ctx context.Context, productID uuid.UUID) ([]*models.StockReservation, error) {
	repos := s.store.Repositories()
	if _, err := repos.Products.GetByID(ctx, productID); err != nil {
		return nil, translate(err, ErrProductNotFound)
	}
	return repos.Reservations.ListActive(ctx, productID, s.now())
}
