package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"stockledger/internal/models"
)

const keyPrefix = "stockledger"

// ReadThroughTTL bounds how stale the inventory projection may get. A value
// cached on a read miss can land just after a concurrent write invalidated
// the key.
const ReadThroughTTL = 30 * time.Second

// CacheService is an eventually consistent read projection. Postgres stays
// the source of truth; a miss returns (nil, nil).
type CacheService interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	SetProduct(ctx context.Context, product *models.Product, ttl time.Duration) error
	DeleteProduct(ctx context.Context, productID uuid.UUID) error

	GetInventory(ctx context.Context, productID uuid.UUID) (*models.Inventory, error)
	SetInventory(ctx context.Context, inventory *models.Inventory, ttl time.Duration) error
	DeleteInventory(ctx context.Context, productID uuid.UUID) error

	InvalidateAllCache(ctx context.Context) error
}

// NewRedisClient accepts either host:port or a redis:// URL.
func NewRedisClient(addr, password string, db int, logger logrus.FieldLogger) *redis.Client {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err == nil {
			opts = parsed
			if password != "" {
				opts.Password = password
			}
		} else if logger != nil {
			logger.WithError(err).Warn("invalid redis url, using it as an address")
		}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil && logger != nil {
		logger.WithError(err).WithField("addr", opts.Addr).Warn("redis ping failed on initialization")
	}
	return client
}

type redisCacheService struct {
	client redis.UniversalClient
}

func NewRedisCacheService(client redis.UniversalClient) CacheService {
	return &redisCacheService{client: client}
}

func productKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:product:%s", keyPrefix, id)
}

func inventoryKey(productID uuid.UUID) string {
	return fmt.Sprintf("%s:inventory:%s", keyPrefix, productID)
}

func getJSON[T any](ctx context.Context, client redis.UniversalClient, key string) (*T, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // cache miss
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func setJSON(ctx context.Context, client redis.UniversalClient, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, ttl).Err()
}

func (r *redisCacheService) GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	return getJSON[models.Product](ctx, r.client, productKey(productID))
}

func (r *redisCacheService) SetProduct(ctx context.Context, product *models.Product, ttl time.Duration) error {
	return setJSON(ctx, r.client, productKey(product.ID), product, ttl)
}

func (r *redisCacheService) DeleteProduct(ctx context.Context, productID uuid.UUID) error {
	return r.client.Del(ctx, productKey(productID)).Err()
}

func (r *redisCacheService) GetInventory(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	return getJSON[models.Inventory](ctx, r.client, inventoryKey(productID))
}

func (r *redisCacheService) SetInventory(ctx context.Context, inventory *models.Inventory, ttl time.Duration) error {
	return setJSON(ctx, r.client, inventoryKey(inventory.ProductID), inventory, ttl)
}

func (r *redisCacheService) DeleteInventory(ctx context.Context, productID uuid.UUID) error {
	return r.client.Del(ctx, inventoryKey(productID)).Err()
}

func (r *redisCacheService) InvalidateAllCache(ctx context.Context) error {
	// idempotency keys share the prefix and must survive a projection flush
	var keys []string
	for _, pattern := range []string{keyPrefix + ":product:*", keyPrefix + ":inventory:*"} {
		iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}

type noopCacheService struct{}

// NewNoopCacheService is used when Redis is not configured.
func NewNoopCacheService() CacheService { return noopCacheService{} }

func (noopCacheService) GetProduct(context.Context, uuid.UUID) (*models.Product, error) {
	return nil, nil
}

func (noopCacheService) SetProduct(context.Context, *models.Product, time.Duration) error {
	return nil
}

func (noopCacheService) DeleteProduct(context.Context, uuid.UUID) error {
	return nil
}

func (noopCacheService) GetInventory(context.Context, uuid.UUID) (*models.Inventory, error) {
	return nil, nil
}

func (noopCacheService) SetInventory(context.Context, *models.Inventory, time.Duration) error {
	return nil
}

func (noopCacheService) DeleteInventory(context.Context, uuid.UUID) error {
	return nil
}

func (noopCacheService) InvalidateAllCache(context.Context) error {
	return nil
}
