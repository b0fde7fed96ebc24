package handlers

import (
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/logging"
	"stockledger/internal/middleware"
	"stockledger/internal/repositories"
	"stockledger/internal/services"
)

// RouterConfig carries everything the HTTP surface depends on.
type RouterConfig struct {
	Production bool
	JWTSecret  string
	Logger     logrus.FieldLogger

	Store       repositories.Store
	Redis       redis.UniversalClient
	Idempotency caching.IdempotencyStore

	Products        services.ProductService
	Inventory       services.InventoryService
	Ledger          services.LedgerService
	Reservations    services.ReservationService
	Checkout        services.CheckoutService
	Transformations services.TransformationService
}

// NewRouter builds the echo instance with every route registered.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(cfg.Production, cfg.Logger)

	e.Pre(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.RequestID())
	e.Use(logging.RequestLogger(cfg.Logger))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.BodyLimit("1M"))

	health := NewHealthHandlers(cfg.Store, cfg.Redis)
	e.GET("/health", health.HealthCheck)
	e.GET("/health/ready", health.ReadinessCheck)

	guard := middleware.NewIdempotency(cfg.Idempotency, cfg.Logger)
	idempotent := guard.Guard(middleware.IdempotencyOptions{})
	keyRequired := guard.Guard(middleware.IdempotencyOptions{RequireKey: true})

	products := NewProductHandlers(cfg.Products, cfg.Ledger)
	inventory := NewInventoryHandlers(cfg.Inventory)
	movements := NewMovementHandlers(cfg.Ledger)
	reservations := NewReservationHandlers(cfg.Reservations)
	orders := NewOrderHandlers(cfg.Checkout, cfg.Transformations)

	v1 := e.Group("/v1", middleware.Authenticate(cfg.JWTSecret))

	v1.POST("/products", products.CreateProduct, idempotent)
	v1.GET("/products", products.ListProducts)
	v1.GET("/products/:id", products.GetProduct)
	v1.GET("/products/:id/summary", products.GetProductSummary)

	v1.GET("/inventory/low-stock", inventory.LowStock)
	v1.GET("/inventory/:product_id", inventory.GetInventory)
	v1.PATCH("/inventory/:product_id", inventory.UpdateSettings)

	v1.POST("/movements", movements.RecordMovement, idempotent)
	v1.GET("/movements", movements.ListMovements)
	v1.GET("/movements/:id", movements.GetMovement)
	v1.POST("/movements/:id/reverse", movements.ReverseMovement, idempotent)

	v1.POST("/products/:id/reservations", reservations.ReserveStock, idempotent)
	v1.GET("/products/:id/reservations", reservations.ListReservations)
	v1.DELETE("/products/:id/reservations/:reservation_id", reservations.ReleaseReservation)
	v1.POST("/products/:id/reservations/:reservation_id/extend", reservations.ExtendReservation)

	v1.POST("/checkout", orders.Checkout, keyRequired)
	v1.POST("/transformations", orders.Transform, idempotent)

	return e
}
