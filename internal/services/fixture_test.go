package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"stockledger/internal/caching"
	"stockledger/internal/models"
	"stockledger/internal/repositories/memstore"
	"stockledger/internal/transaction"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	store        *memstore.Store
	clock        *testClock
	logs         *test.Hook
	ledger       *ledgerService
	reservations *reservationService
	products     ProductService
	inventory    InventoryService
	checkout     CheckoutService
	transforms   TransformationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := memstore.New().WithClock(clock.now)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cache := caching.NewNoopCacheService()

	ledger := NewLedgerService(store, cache, logger).(*ledgerService)
	ledger.now = clock.now
	reservations := NewReservationService(store, cache, logger, 15*time.Minute).(*reservationService)
	reservations.now = clock.now

	return &fixture{
		store:        store,
		clock:        clock,
		logs:         hook,
		ledger:       ledger,
		reservations: reservations,
		products:     NewProductService(store, ledger, cache, logger),
		inventory:    NewInventoryService(store, cache, logger),
		checkout:     NewCheckoutService(store, ledger, reservations, transaction.NewExecutor(logger), logger),
		transforms:   NewTransformationService(store, ledger, cache, logger),
	}
}

func (f *fixture) createProduct(t *testing.T, sku string, stock int, cost string) uuid.UUID {
	t.Helper()
	detail, err := f.products.Create(context.Background(), CreateProductInput{
		SKU:          sku,
		Name:         "Product " + sku,
		CostPrice:    decimal.RequireFromString(cost),
		SellingPrice: decimal.RequireFromString(cost).Mul(decimal.NewFromInt(2)),
		InitialStock: stock,
		ReorderPoint: 10,
	})
	require.NoError(t, err)
	return detail.Product.ID
}

func (f *fixture) stock(t *testing.T, productID uuid.UUID) *models.Inventory {
	t.Helper()
	inv, err := f.store.Repositories().Inventory.GetByProductID(context.Background(), productID)
	require.NoError(t, err)
	return inv
}

func (f *fixture) movements(t *testing.T, productID uuid.UUID) []*models.StockMovement {
	t.Helper()
	list, err := f.ledger.ListMovements(context.Background(), &models.MovementFilter{ProductID: &productID, Limit: 100})
	require.NoError(t, err)
	return list
}
