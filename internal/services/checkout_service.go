package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/repositories"
	"stockledger/internal/transaction"
)

type CheckoutLine struct {
	ProductID     uuid.UUID `json:"product_id"`
	Quantity      int       `json:"quantity"`
	ReservationID string    `json:"reservation_id,omitempty"`
}

type CheckoutRequest struct {
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	Lines       []CheckoutLine `json:"lines"`
	PerformedBy string         `json:"-"`
}

func (r *CheckoutRequest) validate() error {
	if r.OrderID == "" {
		return validationError("order_id is required")
	}
	if len(r.Lines) == 0 {
		return validationError("at least one line is required")
	}
	for i, line := range r.Lines {
		if line.ProductID == uuid.Nil {
			return validationError("lines[%d].product_id is required", i)
		}
		if line.Quantity <= 0 {
			return validationError("lines[%d].quantity must be greater than zero", i)
		}
	}
	return nil
}

type CheckoutResult struct {
	OrderID   string                  `json:"order_id"`
	Movements []*models.StockMovement `json:"movements"`
}

// CheckoutService converts held stock into sales. Each line is three
// independent writes (decrement, sale row, hold release); a failure undoes
// the completed ones in reverse order.
type CheckoutService interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

type checkoutService struct {
	store        repositories.Store
	ledger       LedgerService
	reservations ReservationService
	executor     *transaction.Executor
	logger       logrus.FieldLogger
}

func NewCheckoutService(store repositories.Store, ledger LedgerService, reservations ReservationService, executor *transaction.Executor, logger logrus.FieldLogger) CheckoutService {
	return &checkoutService{store: store, ledger: ledger, reservations: reservations, executor: executor, logger: logger}
}

// lineState carries values between a line's steps and their undos.
type lineState struct {
	change   models.StockChange
	movement *models.StockMovement
	// set once the sale row has been reversed, which already restored the stock
	restored bool
	// the hold as it was before release; nil when it had already lapsed
	hold *models.StockReservation
}

func (s *checkoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	actor := req.PerformedBy
	if actor == "" {
		actor = common.SystemActor
	}

	states := make([]*lineState, len(req.Lines))
	var steps []transaction.Step
	for i, line := range req.Lines {
		st := &lineState{}
		states[i] = st
		steps = append(steps, s.lineSteps(req, line, actor, st)...)
	}

	if err := s.executor.Run(ctx, steps...); err != nil {
		s.logger.WithError(err).WithField("order_id", req.OrderID).Warn("checkout rolled back")
		var stepErr *transaction.StepError
		if errors.As(err, &stepErr) {
			return nil, stepErr.Err
		}
		return nil, err
	}

	result := &CheckoutResult{OrderID: req.OrderID}
	for _, st := range states {
		result.Movements = append(result.Movements, st.movement)
	}
	s.logger.WithFields(logrus.Fields{
		"order_id": req.OrderID,
		"lines":    len(req.Lines),
	}).Info("checkout completed")
	return result, nil
}

func (s *checkoutService) lineSteps(req CheckoutRequest, line CheckoutLine, actor string, st *lineState) []transaction.Step {
	inventory := s.store.Repositories().Inventory
	steps := []transaction.Step{
		{
			Name: fmt.Sprintf("decrement_stock:%s", line.ProductID),
			Do: func(ctx context.Context) error {
				change, err := inventory.AtomicStockUpdate(ctx, line.ProductID, -line.Quantity, repositories.StockUpdateOptions{RequireSufficient: true})
				if err != nil {
					return translate(err, ErrProductNotFound)
				}
				st.change = change
				return nil
			},
			Undo: func(ctx context.Context) error {
				if st.restored {
					return nil
				}
				_, err := inventory.AtomicStockUpdate(ctx, line.ProductID, line.Quantity, repositories.StockUpdateOptions{})
				return err
			},
		},
		{
			Name: fmt.Sprintf("record_sale:%s", line.ProductID),
			Do: func(ctx context.Context) error {
				m, err := s.ledger.RecordMovement(ctx, RecordMovementInput{
					ProductID:           line.ProductID,
					Type:                models.MovementSale,
					Quantity:            line.Quantity,
					ReferenceType:       "sales_order",
					ReferenceID:         req.OrderID,
					ReferenceNumber:     req.OrderNumber,
					Reason:              "checkout",
					SkipInventoryUpdate: true,
					PreviousStock:       &st.change.Previous,
					NewStock:            &st.change.Current,
					PerformedBy:         actor,
				})
				if err != nil {
					return err
				}
				st.movement = m
				return nil
			},
			Undo: func(ctx context.Context) error {
				if _, err := s.ledger.ReverseMovement(ctx, st.movement.ID, actor, "checkout rolled back"); err != nil {
					return err
				}
				st.restored = true
				return nil
			},
		},
	}

	if line.ReservationID == "" {
		return steps
	}
	return append(steps, transaction.Step{
		Name: fmt.Sprintf("release_reservation:%s", line.ReservationID),
		Do: func(ctx context.Context) error {
			hold, err := s.store.Repositories().Reservations.Get(ctx, line.ProductID, line.ReservationID)
			if errors.Is(err, repositories.ErrNotFound) {
				// already expired and swept
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := s.reservations.ReleaseReservation(ctx, line.ProductID, line.ReservationID); err != nil {
				if errors.Is(err, ErrReservationNotFound) {
					return nil
				}
				return err
			}
			st.hold = hold
			return nil
		},
		Undo: func(ctx context.Context) error {
			if st.hold == nil {
				return nil
			}
			// stock is still decremented here, so the hold goes back without
			// an availability check
			_, err := s.reservations.RestoreReservation(ctx, st.hold)
			return err
		},
	})
}
