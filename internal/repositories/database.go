package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stockledger/internal/retry"
)

// Database is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDatabase is a Database that can open transactions.
type TxDatabase interface {
	Database
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
	// ErrStateConflict means a guarded write found the row in an unexpected state.
	ErrStateConflict = errors.New("row state changed")
)

type scanner interface {
	Scan(dest ...any) error
}

// base carries what every repository needs. Writes issued inside a
// transaction are not retried individually; the transaction is.
type base struct {
	db     Database
	policy retry.Policy
	inTx   bool
}

func (b base) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if b.inTx {
		return fn(ctx)
	}
	return retry.Do(ctx, b.policy.Named(operation), fn)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
