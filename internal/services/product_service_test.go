package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"stockledger/internal/caching"
	"stockledger/internal/logging"
	"stockledger/internal/models"
)

type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockCacheService) SetProduct(ctx context.Context, product *models.Product, ttl time.Duration) error {
	return m.Called(ctx, product, ttl).Error(0)
}

func (m *MockCacheService) DeleteProduct(ctx context.Context, productID uuid.UUID) error {
	return m.Called(ctx, productID).Error(0)
}

func (m *MockCacheService) GetInventory(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Inventory), args.Error(1)
}

func (m *MockCacheService) SetInventory(ctx context.Context, inventory *models.Inventory, ttl time.Duration) error {
	return m.Called(ctx, inventory, ttl).Error(0)
}

func (m *MockCacheService) DeleteInventory(ctx context.Context, productID uuid.UUID) error {
	return m.Called(ctx, productID).Error(0)
}

func (m *MockCacheService) InvalidateAllCache(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type ProductServiceTestSuite struct {
	suite.Suite
	f *fixture
}

func (suite *ProductServiceTestSuite) SetupTest() {
	suite.f = newFixture(suite.T())
}

func TestProductServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ProductServiceTestSuite))
}

func (suite *ProductServiceTestSuite) TestCreateBooksInitialStock() {
	ctx := context.Background()
	detail, err := suite.f.products.Create(ctx, CreateProductInput{
		SKU:             "  BOLT-10 ",
		Name:            "Bolt",
		CostPrice:       decimal.RequireFromString("0.40"),
		SellingPrice:    decimal.RequireFromString("1.00"),
		InitialStock:    25,
		ReorderPoint:    5,
		ReorderQuantity: 100,
		PerformedBy:     "importer",
	})
	suite.Require().NoError(err)

	suite.Equal("BOLT-10", detail.SKU)
	suite.Equal(25, detail.Inventory.CurrentStock)
	suite.Equal(25, detail.Inventory.AvailableStock)
	suite.Equal(100, detail.Inventory.ReorderQuantity)
	suite.True(decimal.RequireFromString("10").Equal(detail.Inventory.StockValue))

	rows := suite.f.movements(suite.T(), detail.ID)
	suite.Require().Len(rows, 1)
	suite.Equal(models.MovementInitialStock, rows[0].Type)
	suite.Equal(0, rows[0].PreviousStock)
	suite.Equal(25, rows[0].NewStock)
	suite.Equal("importer", rows[0].PerformedBy)
}

func (suite *ProductServiceTestSuite) TestCreateWithoutStockWritesNoMovement() {
	id := suite.f.createProduct(suite.T(), "EMPTY", 0, "1.00")
	suite.Empty(suite.f.movements(suite.T(), id))
	suite.Equal(0, suite.f.stock(suite.T(), id).CurrentStock)
}

func (suite *ProductServiceTestSuite) TestDuplicateSKU() {
	suite.f.createProduct(suite.T(), "DUP", 1, "1.00")

	_, err := suite.f.products.Create(context.Background(), CreateProductInput{SKU: "DUP", Name: "Other"})
	suite.ErrorIs(err, ErrDuplicateSKU)
}

func (suite *ProductServiceTestSuite) TestCreateValidation() {
	cases := map[string]CreateProductInput{
		"no sku":         {Name: "x"},
		"no name":        {SKU: "x"},
		"negative price": {SKU: "x", Name: "x", CostPrice: decimal.NewFromInt(-1)},
		"negative stock": {SKU: "x", Name: "x", InitialStock: -1},
		"negative point": {SKU: "x", Name: "x", ReorderPoint: -1},
	}
	for name, in := range cases {
		_, err := suite.f.products.Create(context.Background(), in)
		suite.ErrorIs(err, ErrValidation, name)
	}
}

func (suite *ProductServiceTestSuite) TestListByPrefix() {
	suite.f.createProduct(suite.T(), "NUT-1", 1, "1.00")
	suite.f.createProduct(suite.T(), "NUT-2", 1, "1.00")
	suite.f.createProduct(suite.T(), "WASHER", 1, "1.00")

	products, err := suite.f.products.List(context.Background(), &models.ProductFilter{Query: "NUT"})
	suite.Require().NoError(err)
	suite.Len(products, 2)
}

func TestProductGetByID_ReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	id := f.createProduct(t, "CACHED", 7, "2.00")
	cache := new(MockCacheService)
	svc := NewProductService(f.store, f.ledger, cache, logging.Discard())

	cache.On("GetProduct", mock.Anything, id).Return(nil, nil).Once()
	cache.On("SetProduct", mock.Anything, mock.MatchedBy(func(p *models.Product) bool { return p.ID == id }), 15*time.Minute).Return(nil).Once()

	detail, err := svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "CACHED", detail.SKU)
	assert.Equal(t, 7, detail.Inventory.CurrentStock)

	// a cached product still gets live stock figures
	cache.On("GetProduct", mock.Anything, id).Return(&models.Product{ID: id, SKU: "FROM-CACHE"}, nil).Once()
	detail, err = svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "FROM-CACHE", detail.SKU)
	assert.Equal(t, 7, detail.Inventory.CurrentStock)

	cache.AssertExpectations(t)
}

func TestProductGetByID_CacheErrorFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	id := f.createProduct(t, "FALLBACK", 3, "2.00")
	cache := new(MockCacheService)
	svc := NewProductService(f.store, f.ledger, cache, logging.Discard())

	cache.On("GetProduct", mock.Anything, id).Return(nil, errors.New("redis down"))
	cache.On("SetProduct", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	detail, err := svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "FALLBACK", detail.SKU)

	missing := uuid.New()
	cache.On("GetProduct", mock.Anything, missing).Return(nil, nil)
	_, err = svc.GetByID(context.Background(), missing)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestInventoryService_ProjectionAndInvalidation(t *testing.T) {
	f := newFixture(t)
	id := f.createProduct(t, "PROJ", 12, "1.00")
	cache := new(MockCacheService)
	svc := NewInventoryService(f.store, cache, logging.Discard())

	stale := &models.Inventory{ProductID: id, CurrentStock: 99}
	cache.On("GetInventory", mock.Anything, id).Return(stale, nil).Once()
	inv, err := svc.GetInventory(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 99, inv.CurrentStock)

	point := 20
	cache.On("DeleteInventory", mock.Anything, id).Return(nil).Once()
	inv, err = svc.UpdateSettings(context.Background(), id, models.InventorySettings{ReorderPoint: &point})
	require.NoError(t, err)
	assert.Equal(t, 20, inv.ReorderPoint)
	assert.Equal(t, 12, inv.CurrentStock)

	cache.On("GetInventory", mock.Anything, id).Return(nil, nil).Once()
	cache.On("SetInventory", mock.Anything, mock.MatchedBy(func(inv *models.Inventory) bool { return inv.CurrentStock == 12 }), caching.ReadThroughTTL).Return(nil).Once()
	inv, err = svc.GetInventory(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 12, inv.CurrentStock)

	negative := -1
	_, err = svc.UpdateSettings(context.Background(), id, models.InventorySettings{ReorderQuantity: &negative})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.UpdateSettings(context.Background(), id, models.InventorySettings{})
	assert.ErrorIs(t, err, ErrValidation)

	cache.AssertExpectations(t)
}
