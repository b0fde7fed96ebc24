package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"stockledger/internal/common"
	"stockledger/internal/models"
)

type LedgerServiceTestSuite struct {
	suite.Suite
	f       *fixture
	ctx     context.Context
	product uuid.UUID
}

func (suite *LedgerServiceTestSuite) SetupTest() {
	suite.f = newFixture(suite.T())
	suite.ctx = context.Background()
	suite.product = suite.f.createProduct(suite.T(), "WIDGET-1", 100, "5.00")
}

func TestLedgerServiceTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceTestSuite))
}

func (suite *LedgerServiceTestSuite) TestRecordMovement_SaleDecrementsAndSnapshots() {
	m, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID:   suite.product,
		Type:        models.MovementSale,
		Quantity:    40,
		ReferenceID: "SO-1",
		PerformedBy: "clerk-7",
	})
	suite.Require().NoError(err)

	suite.Equal(100, m.PreviousStock)
	suite.Equal(60, m.NewStock)
	suite.Equal("WIDGET-1", m.ProductSKU)
	suite.Equal("clerk-7", m.PerformedBy)
	suite.True(decimal.RequireFromString("200").Equal(m.TotalValue))

	inv := suite.f.stock(suite.T(), suite.product)
	suite.Equal(60, inv.CurrentStock)
	suite.Equal(60, inv.AvailableStock)
	suite.Equal(2, inv.MovementCount)
	suite.True(decimal.RequireFromString("300").Equal(inv.StockValue))
	suite.Equal(m.ID, inv.RecentMovements[len(inv.RecentMovements)-1])
}

func (suite *LedgerServiceTestSuite) TestAnonymousWritesUseSystemActor() {
	m, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID: suite.product,
		Type:      models.MovementPurchase,
		Quantity:  5,
	})
	suite.Require().NoError(err)
	suite.Equal(common.SystemActor, m.PerformedBy)

	reversal, err := suite.f.ledger.ReverseMovement(suite.ctx, m.ID, "", "entered twice")
	suite.Require().NoError(err)
	suite.Equal(common.SystemActor, reversal.PerformedBy)
}

func (suite *LedgerServiceTestSuite) TestRecordMovement_InsufficientStockWritesNothing() {
	before := suite.f.movements(suite.T(), suite.product)

	_, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID: suite.product,
		Type:      models.MovementDamage,
		Quantity:  101,
	})
	suite.ErrorIs(err, ErrInsufficientStock)

	suite.Equal(100, suite.f.stock(suite.T(), suite.product).CurrentStock)
	suite.Len(suite.f.movements(suite.T(), suite.product), len(before))
}

func (suite *LedgerServiceTestSuite) TestRecordMovement_Validation() {
	cases := []RecordMovementInput{
		{ProductID: suite.product, Type: "gift", Quantity: 1},
		{ProductID: suite.product, Type: models.MovementPurchase, Quantity: 0},
		{ProductID: uuid.Nil, Type: models.MovementPurchase, Quantity: 1},
		{ProductID: suite.product, Type: models.MovementPurchase, Quantity: 1, NewStock: intRef(3)},
	}
	for _, in := range cases {
		_, err := suite.f.ledger.RecordMovement(suite.ctx, in)
		suite.ErrorIs(err, ErrValidation, "input %+v", in)
	}
}

func (suite *LedgerServiceTestSuite) TestRecordMovement_UnknownProduct() {
	_, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID: uuid.New(),
		Type:      models.MovementPurchase,
		Quantity:  1,
	})
	suite.ErrorIs(err, ErrProductNotFound)
}

func (suite *LedgerServiceTestSuite) TestRecordMovement_SkipInventoryUpdate() {
	m, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID:           suite.product,
		Type:                models.MovementSale,
		Quantity:            5,
		SkipInventoryUpdate: true,
		PreviousStock:       intRef(105),
		NewStock:            intRef(100),
	})
	suite.Require().NoError(err)
	suite.Equal(105, m.PreviousStock)
	suite.Equal(100, m.NewStock)
	suite.Equal(100, suite.f.stock(suite.T(), suite.product).CurrentStock)
}

func (suite *LedgerServiceTestSuite) TestReverseMovement_RoundTrip() {
	original, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID: suite.product,
		Type:      models.MovementPurchase,
		Quantity:  25,
	})
	suite.Require().NoError(err)

	reversal, err := suite.f.ledger.ReverseMovement(suite.ctx, original.ID, "manager", "entered twice")
	suite.Require().NoError(err)

	suite.True(reversal.IsReversal)
	suite.Equal(original.NewStock, reversal.PreviousStock)
	suite.Equal(original.PreviousStock, reversal.NewStock)
	suite.Equal(100, suite.f.stock(suite.T(), suite.product).CurrentStock)

	stored, err := suite.f.ledger.GetMovement(suite.ctx, original.ID)
	suite.Require().NoError(err)
	suite.Equal(models.MovementStatusReversed, stored.Status)
	suite.Equal(reversal.ID, *stored.ReversalMovementID)
	suite.Equal("manager", *stored.ReversedBy)

	inv := suite.f.stock(suite.T(), suite.product)
	suite.NotContains(inv.RecentMovements, original.ID)
	suite.Contains(inv.RecentMovements, reversal.ID)
}

func (suite *LedgerServiceTestSuite) TestReverseMovement_StateErrors() {
	original, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID: suite.product,
		Type:      models.MovementSale,
		Quantity:  10,
	})
	suite.Require().NoError(err)
	reversal, err := suite.f.ledger.ReverseMovement(suite.ctx, original.ID, "", "")
	suite.Require().NoError(err)

	_, err = suite.f.ledger.ReverseMovement(suite.ctx, original.ID, "", "")
	suite.ErrorIs(err, ErrInvalidState)

	_, err = suite.f.ledger.ReverseMovement(suite.ctx, reversal.ID, "", "")
	suite.ErrorIs(err, ErrAlreadyReversed)

	_, err = suite.f.ledger.ReverseMovement(suite.ctx, uuid.New(), "", "")
	suite.ErrorIs(err, ErrMovementNotFound)

	suite.Equal(100, suite.f.stock(suite.T(), suite.product).CurrentStock)
}

func (suite *LedgerServiceTestSuite) TestReverseMovement_PurchaseAlreadySoldIsRejected() {
	purchase, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID: suite.product,
		Type:      models.MovementPurchase,
		Quantity:  20,
	})
	suite.Require().NoError(err)
	_, err = suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
		ProductID: suite.product,
		Type:      models.MovementSale,
		Quantity:  110,
	})
	suite.Require().NoError(err)

	_, err = suite.f.ledger.ReverseMovement(suite.ctx, purchase.ID, "", "")
	suite.ErrorIs(err, ErrInsufficientStock)

	stored, err := suite.f.ledger.GetMovement(suite.ctx, purchase.ID)
	suite.Require().NoError(err)
	suite.Equal(models.MovementStatusCompleted, stored.Status)
	suite.Equal(10, suite.f.stock(suite.T(), suite.product).CurrentStock)
}

func (suite *LedgerServiceTestSuite) TestGetProductSummary() {
	sale, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{ProductID: suite.product, Type: models.MovementSale, Quantity: 30})
	suite.Require().NoError(err)
	_, err = suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{ProductID: suite.product, Type: models.MovementPurchase, Quantity: 10})
	suite.Require().NoError(err)
	_, err = suite.f.ledger.ReverseMovement(suite.ctx, sale.ID, "", "")
	suite.Require().NoError(err)
	suite.f.clock.advance(time.Minute)

	summary, err := suite.f.ledger.GetProductSummary(suite.ctx, suite.product, time.Time{})
	suite.Require().NoError(err)

	// initial 100 + purchase 10 + reversed sale 30 back in, sale 30 out
	suite.Equal(140, summary.TotalInQuantity)
	suite.Equal(30, summary.TotalOutQuantity)
	suite.Equal(110, summary.NetQuantity)
	suite.Equal(suite.f.stock(suite.T(), suite.product).CurrentStock, summary.NetQuantity)
}

func (suite *LedgerServiceTestSuite) TestGetProductSummary_AsOfExcludesLaterMovements() {
	cutoff := suite.f.clock.now()
	suite.f.clock.advance(time.Hour)
	_, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{ProductID: suite.product, Type: models.MovementPurchase, Quantity: 10})
	suite.Require().NoError(err)

	summary, err := suite.f.ledger.GetProductSummary(suite.ctx, suite.product, cutoff)
	suite.Require().NoError(err)
	suite.Equal(100, summary.NetQuantity)
}

func (suite *LedgerServiceTestSuite) TestConcurrentSalesNeverOversell() {
	var wg sync.WaitGroup
	results := make(chan error, 150)
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.f.ledger.RecordMovement(suite.ctx, RecordMovementInput{
				ProductID: suite.product,
				Type:      models.MovementSale,
				Quantity:  1,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			suite.ErrorIs(err, ErrInsufficientStock)
		}
	}
	suite.Equal(100, succeeded)
	suite.Equal(0, suite.f.stock(suite.T(), suite.product).CurrentStock)
}

func TestTransformation_MovesValueBetweenProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bulk := f.createProduct(t, "RICE-25KG", 4, "50.00")
	retail := f.createProduct(t, "RICE-1KG", 0, "2.50")

	result, err := f.transforms.Transform(ctx, TransformationRequest{
		SourceProductID: bulk,
		SourceQuantity:  2,
		TargetProductID: retail,
		TargetQuantity:  50,
		ReferenceNumber: "REPACK-9",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MovementConsumption, result.Consumption.Type)
	assert.Equal(t, models.MovementProduction, result.Production.Type)
	assert.Equal(t, result.Consumption.ReferenceID, result.Production.ReferenceID)
	assert.True(t, decimal.RequireFromString("2").Equal(result.Production.UnitCost))
	assert.Equal(t, 2, f.stock(t, bulk).CurrentStock)
	assert.Equal(t, 50, f.stock(t, retail).CurrentStock)
}

func TestTransformation_FailureLeavesBothProductsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bulk := f.createProduct(t, "RICE-25KG", 1, "50.00")
	retail := f.createProduct(t, "RICE-1KG", 0, "2.50")

	_, err := f.transforms.Transform(ctx, TransformationRequest{
		SourceProductID: bulk,
		SourceQuantity:  1,
		TargetProductID: uuid.New(),
		TargetQuantity:  25,
	})
	require.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, 1, f.stock(t, bulk).CurrentStock)
	assert.Len(t, f.movements(t, bulk), 1)

	_, err = f.transforms.Transform(ctx, TransformationRequest{SourceProductID: bulk, SourceQuantity: 1, TargetProductID: bulk, TargetQuantity: 1})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.stock(t, retail).CurrentStock)
}

func intRef(n int) *int { return &n }
