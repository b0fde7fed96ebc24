// Package memstore keeps the repositories in process memory. It backs the
// "memory" storage driver and the service tests.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockledger/internal/models"
	"stockledger/internal/repositories"
)

type state struct {
	products     map[uuid.UUID]*models.Product
	skus         map[string]uuid.UUID
	inventory    map[uuid.UUID]*models.Inventory
	movements    map[uuid.UUID]*models.StockMovement
	order        []uuid.UUID
	reservations map[uuid.UUID]map[string]*models.StockReservation
	lastCreated  time.Time
}

func newState() *state {
	return &state{
		products:     make(map[uuid.UUID]*models.Product),
		skus:         make(map[string]uuid.UUID),
		inventory:    make(map[uuid.UUID]*models.Inventory),
		movements:    make(map[uuid.UUID]*models.StockMovement),
		reservations: make(map[uuid.UUID]map[string]*models.StockReservation),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		p := *v
		c.products[k] = &p
	}
	for k, v := range s.skus {
		c.skus[k] = v
	}
	for k, v := range s.inventory {
		inv := *v
		inv.RecentMovements = slices.Clone(v.RecentMovements)
		c.inventory[k] = &inv
	}
	for k, v := range s.movements {
		m := *v
		c.movements[k] = &m
	}
	c.order = slices.Clone(s.order)
	for k, holds := range s.reservations {
		cp := make(map[string]*models.StockReservation, len(holds))
		for id, r := range holds {
			res := *r
			cp[id] = &res
		}
		c.reservations[k] = cp
	}
	c.lastCreated = s.lastCreated
	return c
}

// Store implements repositories.Store. Transactions run serially on a
// private copy of the state that replaces the shared one on success.
type Store struct {
	mu    sync.Mutex
	st    *state
	repos *repositories.Repository
	now   func() time.Time

	// BeforeWrite, when set, is called before every mutating operation with
	// the operation name. A non-nil error aborts the write.
	BeforeWrite func(op string) error
}

func New() *Store {
	s := &Store{st: newState(), now: time.Now}
	s.repos = s.bind(&session{store: s})
	return s
}

// WithClock replaces the clock used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Repositories() *repositories.Repository {
	return s.repos
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repos *repositories.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	sess := &session{store: s, st: s.st.clone(), inTx: true}
	if err := fn(ctx, s.bind(sess)); err != nil {
		return err
	}
	s.st = sess.st
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) bind(sess *session) *repositories.Repository {
	return &repositories.Repository{
		Products:     &productRepo{sess},
		Inventory:    &inventoryRepo{sess},
		Movements:    &movementRepo{sess},
		Reservations: &reservationRepo{sess},
	}
}

// session is either the shared state guarded by the store mutex or a
// transaction's private copy, already guarded by WithTx.
type session struct {
	store *Store
	st    *state
	inTx  bool
}

func (s *session) lock() (*state, func()) {
	if s.inTx {
		return s.st, func() {}
	}
	s.store.mu.Lock()
	return s.store.st, s.store.mu.Unlock
}

func (s *session) write(op string) error {
	if hook := s.store.BeforeWrite; hook != nil {
		return hook(op)
	}
	return nil
}

// stamp returns a creation time strictly after every earlier one.
func (s *session) stamp(st *state) time.Time {
	t := s.store.now()
	if !t.After(st.lastCreated) {
		t = st.lastCreated.Add(time.Microsecond)
	}
	st.lastCreated = t
	return t
}
