package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"stockledger/internal/models"
	"stockledger/internal/retry"
)

type MovementRepoTestSuite struct {
	suite.Suite
	mock      pgxmock.PgxPoolIface
	movements MovementRepository
	holds     ReservationRepository
	productID uuid.UUID
	context   context.Context
}

func (suite *MovementRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	require.NoError(suite.T(), err)
	suite.mock = mock
	suite.movements = NewMovementRepo(mock, testPolicy())
	suite.holds = NewReservationRepo(mock, testPolicy())
	suite.productID = uuid.New()
	suite.context = context.Background()
}

func (suite *MovementRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestMovementRepoTestSuite(t *testing.T) {
	suite.Run(t, new(MovementRepoTestSuite))
}

func (suite *MovementRepoTestSuite) TestCreate_UniqueViolationIsNotRetried() {
	m := &models.StockMovement{
		ID:        uuid.New(),
		ProductID: suite.productID,
		Type:      models.MovementSale,
		Quantity:  4,
		UnitCost:  decimal.NewFromInt(5),
		Status:    models.MovementStatusCompleted,
	}

	suite.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO stock_movements`)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := suite.movements.Create(suite.context, m)
	assert.True(suite.T(), retry.IsUniqueViolation(err))
}

func (suite *MovementRepoTestSuite) TestMarkReversed_StateConflict() {
	id, reversalID := uuid.New(), uuid.New()
	at := time.Now()

	suite.mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND status = 'completed' AND NOT is_reversal`)).
		WithArgs(id, reversalID, "alice", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := suite.movements.MarkReversed(suite.context, id, reversalID, "alice", at)
	assert.ErrorIs(suite.T(), err, ErrStateConflict)
}

func (suite *MovementRepoTestSuite) TestAggregate() {
	asOf := time.Now()
	suite.mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY type, is_reversal`)).
		WithArgs(suite.productID, asOf).
		WillReturnRows(suite.mock.NewRows([]string{"type", "is_reversal", "quantity", "value", "count"}).
			AddRow(models.MovementPurchase, false, 100, decimal.NewFromInt(500), 1).
			AddRow(models.MovementSale, false, 40, decimal.NewFromInt(200), 1).
			AddRow(models.MovementSale, true, 40, decimal.NewFromInt(200), 1))

	aggs, err := suite.movements.Aggregate(suite.context, suite.productID, asOf)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), aggs, 3)

	summary := models.NewProductSummary(suite.productID, asOf, aggs)
	assert.Equal(suite.T(), 140, summary.TotalInQuantity)
	assert.Equal(suite.T(), 40, summary.TotalOutQuantity)
}

func (suite *MovementRepoTestSuite) TestList_BuildsFilter() {
	typ := models.MovementSale
	suite.mock.ExpectQuery(regexp.QuoteMeta(`WHERE product_id = $1 AND type = $2 ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`)).
		WithArgs(suite.productID, "sale", 50, 0).
		WillReturnRows(suite.mock.NewRows([]string{"id"}))

	movements, err := suite.movements.List(suite.context, &models.MovementFilter{ProductID: &suite.productID, Type: &typ})
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), movements)
}

func (suite *MovementRepoTestSuite) TestReservationCreate_LiveDuplicate() {
	now := time.Now()
	res := &models.StockReservation{
		ID:            "cart-1",
		ProductID:     suite.productID,
		Quantity:      3,
		ReferenceType: models.DefaultReservationRefType,
		ExpiresAt:     now.Add(15 * time.Minute),
		CreatedAt:     now,
	}

	suite.mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (product_id, reservation_id) DO UPDATE`)).
		WithArgs(res.ID, res.ProductID, res.Quantity, res.OwnerID, res.ReferenceType, res.ReferenceID, res.ExpiresAt, res.CreatedAt, now).
		WillReturnRows(suite.mock.NewRows([]string{"reservation_id"}))

	err := suite.holds.Create(suite.context, res, now)
	assert.ErrorIs(suite.T(), err, retry.ErrUniqueness)
}

func (suite *MovementRepoTestSuite) TestReservationDelete_NotFound() {
	suite.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM stock_reservations WHERE product_id = $1 AND reservation_id = $2`)).
		WithArgs(suite.productID, "missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := suite.holds.Delete(suite.context, suite.productID, "missing")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *MovementRepoTestSuite) TestReservationDeleteExpired() {
	now := time.Now()
	suite.mock.ExpectExec(regexp.QuoteMeta(`expires_at <= $2`)).
		WithArgs(suite.productID, now).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := suite.holds.DeleteExpired(suite.context, suite.productID, now)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, n)
}
