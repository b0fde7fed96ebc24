package repositories

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"stockledger/internal/retry"
)

// Repository groups the repositories bound to one connection or transaction.
type Repository struct {
	Products     ProductRepository
	Inventory    InventoryRepository
	Movements    MovementRepository
	Reservations ReservationRepository
}

// Store hands out repositories and runs units of work.
type Store interface {
	Repositories() *Repository
	// WithTx runs fn in one database transaction. The whole unit is retried
	// on transient conflicts, so fn must not have side effects outside it.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos *Repository) error) error
	Ping(ctx context.Context) error
}

type PostgresStore struct {
	db     TxDatabase
	policy retry.Policy
	logger logrus.FieldLogger
	repos  *Repository
}

func NewPostgresStore(db TxDatabase, policy retry.Policy, logger logrus.FieldLogger) *PostgresStore {
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &PostgresStore{
		db:     db,
		policy: policy,
		logger: logger,
		repos:  newRepository(db, policy, false),
	}
}

func newRepository(db Database, policy retry.Policy, inTx bool) *Repository {
	b := base{db: db, policy: policy, inTx: inTx}
	return &Repository{
		Products:     &productRepo{base: b},
		Inventory:    &inventoryRepo{base: b},
		Movements:    &movementRepo{base: b},
		Reservations: &reservationRepo{base: b},
	}
}

func (s *PostgresStore) Repositories() *Repository {
	return s.repos
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos *Repository) error) error {
	return retry.Do(ctx, s.policy.Named("transaction"), func(ctx context.Context) error {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := fn(ctx, newRepository(tx, s.policy, true)); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && s.logger != nil {
				s.logger.WithError(rbErr).Warn("rollback failed")
			}
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}
