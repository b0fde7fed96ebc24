package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/redis/go-redis/v9"
)

// IdempotencyState is what a store knows about a key when a request arrives.
type IdempotencyState int

const (
	// IdempotencyStarted means the caller now owns the key and must Complete or Discard it.
	IdempotencyStarted IdempotencyState = iota
	IdempotencyInFlight
	IdempotencyCompleted
)

// IdempotentResponse is a cached successful response.
type IdempotentResponse struct {
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

// IdempotencyLookup is the result of Begin.
type IdempotencyLookup struct {
	State      IdempotencyState
	Response   *IdempotentResponse
	RetryAfter time.Duration
}

type IdempotencyStore interface {
	Begin(ctx context.Context, key string) (IdempotencyLookup, error)
	Complete(ctx context.Context, key string, response *IdempotentResponse) error
	Discard(ctx context.Context, key string) error
	// Sweep removes expired entries and returns how many were dropped.
	Sweep(ctx context.Context) (int, error)
}

type idempotencyEntry struct {
	createdAt time.Time
	response  *IdempotentResponse
}

func (e *idempotencyEntry) inFlight() bool { return e.response == nil }

// MemoryIdempotencyStore is a process-local store bounded by an LRU. When
// capacity is reached the least recently seen key is evicted, in-flight or
// not, and a later duplicate of it is treated as a first sight.
type MemoryIdempotencyStore struct {
	mu              sync.Mutex
	entries         *simplelru.LRU[string, *idempotencyEntry]
	ttl             time.Duration
	inFlightTimeout time.Duration
	now             func() time.Time
}

func NewMemoryIdempotencyStore(capacity int, ttl, inFlightTimeout time.Duration) (*MemoryIdempotencyStore, error) {
	entries, err := simplelru.NewLRU[string, *idempotencyEntry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotency cache: %w", err)
	}
	return &MemoryIdempotencyStore{
		entries:         entries,
		ttl:             ttl,
		inFlightTimeout: inFlightTimeout,
		now:             time.Now,
	}, nil
}

// WithClock replaces the clock; used by tests.
func (s *MemoryIdempotencyStore) WithClock(now func() time.Time) *MemoryIdempotencyStore {
	s.now = now
	return s
}

func (s *MemoryIdempotencyStore) expired(e *idempotencyEntry, now time.Time) bool {
	age := now.Sub(e.createdAt)
	if e.inFlight() {
		return age >= s.inFlightTimeout
	}
	return age >= s.ttl
}

func (s *MemoryIdempotencyStore) Begin(ctx context.Context, key string) (IdempotencyLookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries.Get(key); ok && !s.expired(e, now) {
		if e.inFlight() {
			return IdempotencyLookup{State: IdempotencyInFlight, RetryAfter: s.inFlightTimeout - now.Sub(e.createdAt)}, nil
		}
		return IdempotencyLookup{State: IdempotencyCompleted, Response: e.response}, nil
	}

	s.entries.Add(key, &idempotencyEntry{createdAt: now})
	return IdempotencyLookup{State: IdempotencyStarted}, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, key string, response *IdempotentResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	response.StoredAt = now
	e, ok := s.entries.Peek(key)
	if !ok {
		e = &idempotencyEntry{createdAt: now}
		s.entries.Add(key, e)
	}
	e.response = response
	return nil
}

func (s *MemoryIdempotencyStore) Discard(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Remove(key)
	return nil
}

func (s *MemoryIdempotencyStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, key := range s.entries.Keys() {
		if e, ok := s.entries.Peek(key); ok && s.expired(e, now) {
			s.entries.Remove(key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// RedisIdempotencyStore shares keys across replicas. Expiry is left to Redis TTLs.
type RedisIdempotencyStore struct {
	client          redis.UniversalClient
	ttl             time.Duration
	inFlightTimeout time.Duration
}

func NewRedisIdempotencyStore(client redis.UniversalClient, ttl, inFlightTimeout time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl, inFlightTimeout: inFlightTimeout}
}

type redisIdempotencyRecord struct {
	CreatedAt time.Time           `json:"created_at"`
	Response  *IdempotentResponse `json:"response,omitempty"`
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("%s:idempotency:%s", keyPrefix, key)
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (IdempotencyLookup, error) {
	rkey := idempotencyKey(key)
	marker, err := json.Marshal(redisIdempotencyRecord{CreatedAt: time.Now()})
	if err != nil {
		return IdempotencyLookup{}, err
	}

	// the key can expire between SETNX and GET, so try twice
	for attempt := 0; attempt < 2; attempt++ {
		acquired, err := s.client.SetNX(ctx, rkey, marker, s.inFlightTimeout).Result()
		if err != nil {
			return IdempotencyLookup{}, err
		}
		if acquired {
			return IdempotencyLookup{State: IdempotencyStarted}, nil
		}

		record, err := getJSON[redisIdempotencyRecord](ctx, s.client, rkey)
		if err != nil {
			return IdempotencyLookup{}, err
		}
		if record == nil {
			continue
		}
		if record.Response != nil {
			return IdempotencyLookup{State: IdempotencyCompleted, Response: record.Response}, nil
		}

		remaining, err := s.client.TTL(ctx, rkey).Result()
		if err != nil || remaining <= 0 {
			remaining = time.Second
		}
		return IdempotencyLookup{State: IdempotencyInFlight, RetryAfter: remaining}, nil
	}
	return IdempotencyLookup{}, errors.New("idempotency key changed concurrently")
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, response *IdempotentResponse) error {
	response.StoredAt = time.Now()
	return setJSON(ctx, s.client, idempotencyKey(key), redisIdempotencyRecord{CreatedAt: response.StoredAt, Response: response}, s.ttl)
}

func (s *RedisIdempotencyStore) Discard(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyKey(key)).Err()
}

func (s *RedisIdempotencyStore) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}
