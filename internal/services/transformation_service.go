package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/models"
	"stockledger/internal/repositories"
)

// TransformationRequest consumes one product to produce another, for
// example repacking bulk stock into retail units.
type TransformationRequest struct {
	SourceProductID uuid.UUID `json:"source_product_id"`
	SourceQuantity  int       `json:"source_quantity"`
	TargetProductID uuid.UUID `json:"target_product_id"`
	TargetQuantity  int       `json:"target_quantity"`
	ReferenceID     string    `json:"reference_id"`
	ReferenceNumber string    `json:"reference_number"`
	Notes           string    `json:"notes"`
	PerformedBy     string    `json:"-"`
}

type TransformationResult struct {
	Consumption *models.StockMovement `json:"consumption"`
	Production  *models.StockMovement `json:"production"`
}

type TransformationService interface {
	Transform(ctx context.Context, req TransformationRequest) (*TransformationResult, error)
}

type transformationService struct {
	store  repositories.Store
	ledger LedgerService
	cache  caching.CacheService
	logger logrus.FieldLogger
}

func NewTransformationService(store repositories.Store, ledger LedgerService, cache caching.CacheService, logger logrus.FieldLogger) TransformationService {
	return &transformationService{store: store, ledger: ledger, cache: cache, logger: logger}
}

// Transform writes the consumption and the production in one transaction.
// The consumed value carries over to the produced units.
func (s *transformationService) Transform(ctx context.Context, req TransformationRequest) (*TransformationResult, error) {
	switch {
	case req.SourceProductID == uuid.Nil || req.TargetProductID == uuid.Nil:
		return nil, validationError("source_product_id and target_product_id are required")
	case req.SourceProductID == req.TargetProductID:
		return nil, validationError("source and target products must differ")
	case req.SourceQuantity <= 0 || req.TargetQuantity <= 0:
		return nil, validationError("quantities must be greater than zero")
	}
	if req.ReferenceID == "" {
		req.ReferenceID = uuid.NewString()
	}

	result := &TransformationResult{}
	err := s.store.WithTx(ctx, func(ctx context.Context, repos *repositories.Repository) error {
		consumption, err := s.ledger.RecordMovementTx(ctx, repos, RecordMovementInput{
			ProductID:       req.SourceProductID,
			Type:            models.MovementConsumption,
			Quantity:        req.SourceQuantity,
			ReferenceType:   "transformation",
			ReferenceID:     req.ReferenceID,
			ReferenceNumber: req.ReferenceNumber,
			Notes:           req.Notes,
			PerformedBy:     req.PerformedBy,
		})
		if err != nil {
			return err
		}

		unitCost := consumption.TotalValue.DivRound(decimal.NewFromInt(int64(req.TargetQuantity)), 4)
		production, err := s.ledger.RecordMovementTx(ctx, repos, RecordMovementInput{
			ProductID:       req.TargetProductID,
			Type:            models.MovementProduction,
			Quantity:        req.TargetQuantity,
			UnitCost:        &unitCost,
			ReferenceType:   "transformation",
			ReferenceID:     req.ReferenceID,
			ReferenceNumber: req.ReferenceNumber,
			Notes:           req.Notes,
			PerformedBy:     req.PerformedBy,
		})
		if err != nil {
			return err
		}

		result.Consumption, result.Production = consumption, production
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateInventory(ctx, s.cache, s.logger, req.SourceProductID)
	invalidateInventory(ctx, s.cache, s.logger, req.TargetProductID)
	s.logger.WithFields(logrus.Fields{
		"reference_id":      req.ReferenceID,
		"source_product_id": req.SourceProductID,
		"target_product_id": req.TargetProductID,
	}).Info("transformation recorded")
	return result, nil
}
