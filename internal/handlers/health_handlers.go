package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"stockledger/internal/repositories"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	store   repositories.Store
	redis   redis.UniversalClient
	started time.Time
}

// NewHealthHandlers creates a new health handlers instance. redisClient may be nil.
func NewHealthHandlers(store repositories.Store, redisClient redis.UniversalClient) *HealthHandlers {
	return &HealthHandlers{
		store:   store,
		redis:   redisClient,
		started: time.Now(),
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`
}

func (h *HealthHandlers) probe(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]string),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
	}

	if err := h.store.Ping(ctx); err != nil {
		health.Services["database"] = "unhealthy"
		health.Status = "degraded"
	} else {
		health.Services["database"] = "healthy"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			health.Services["redis"] = "unhealthy"
			health.Status = "degraded"
		} else {
			health.Services["redis"] = "healthy"
		}
	}
	return health
}

// HealthCheck reports dependency status. Degraded dependencies still answer 206.
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	health := h.probe(c.Request().Context())
	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}
	return c.JSON(statusCode, health)
}

// ReadinessCheck fails with 503 until every dependency answers.
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	health := h.probe(c.Request().Context())
	if health.Status != "healthy" {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":   "not_ready",
			"services": health.Services,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
