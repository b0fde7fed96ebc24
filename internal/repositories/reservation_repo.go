package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stockledger/internal/models"
	"stockledger/internal/retry"
)

type ReservationRepository interface {
	// Create inserts a hold. An id already held live for the product is a
	// uniqueness violation; an expired holder of the same id is replaced.
	Create(ctx context.Context, reservation *models.StockReservation, now time.Time) error
	Get(ctx context.Context, productID uuid.UUID, reservationID string) (*models.StockReservation, error)
	Delete(ctx context.Context, productID uuid.UUID, reservationID string) error
	Extend(ctx context.Context, productID uuid.UUID, reservationID string, minutes int, now time.Time) (*models.StockReservation, error)
	ListActive(ctx context.Context, productID uuid.UUID, now time.Time) ([]*models.StockReservation, error)
	SumActive(ctx context.Context, productID uuid.UUID, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, productID uuid.UUID, now time.Time) (int, error)
	ProductsWithExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

type reservationRepo struct {
	base
}

func NewReservationRepo(db Database, policy retry.Policy) ReservationRepository {
	return &reservationRepo{base: base{db: db, policy: policy}}
}

const reservationColumns = `reservation_id, product_id, quantity, owner_id, reference_type, reference_id, expires_at, created_at`

func scanReservation(row scanner) (*models.StockReservation, error) {
	res := &models.StockReservation{}
	err := row.Scan(&res.ID, &res.ProductID, &res.Quantity, &res.OwnerID, &res.ReferenceType, &res.ReferenceID, &res.ExpiresAt, &res.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return res, nil
}

func (r *reservationRepo) Create(ctx context.Context, res *models.StockReservation, now time.Time) error {
	query := `
		INSERT INTO stock_reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (product_id, reservation_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
			owner_id = EXCLUDED.owner_id,
			reference_type = EXCLUDED.reference_type,
			reference_id = EXCLUDED.reference_id,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
		WHERE stock_reservations.expires_at <= $9
		RETURNING reservation_id
	`
	return r.run(ctx, "create_reservation", func(ctx context.Context) error {
		var id string
		err := r.db.QueryRow(ctx, query, res.ID, res.ProductID, res.Quantity, res.OwnerID, res.ReferenceType,
			res.ReferenceID, res.ExpiresAt, res.CreatedAt, now).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("reservation %q already held: %w", res.ID, retry.ErrUniqueness)
			}
			return err
		}
		return nil
	})
}

func (r *reservationRepo) Get(ctx context.Context, productID uuid.UUID, reservationID string) (*models.StockReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM stock_reservations WHERE product_id = $1 AND reservation_id = $2`
	return scanReservation(r.db.QueryRow(ctx, query, productID, reservationID))
}

func (r *reservationRepo) Delete(ctx context.Context, productID uuid.UUID, reservationID string) error {
	query := `DELETE FROM stock_reservations WHERE product_id = $1 AND reservation_id = $2`
	return r.run(ctx, "delete_reservation", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, productID, reservationID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Extend pushes a live hold's expiry forward from its current expiry.
func (r *reservationRepo) Extend(ctx context.Context, productID uuid.UUID, reservationID string, minutes int, now time.Time) (*models.StockReservation, error) {
	query := `
		UPDATE stock_reservations
		SET expires_at = expires_at + make_interval(mins => $3::int)
		WHERE product_id = $1 AND reservation_id = $2 AND expires_at > $4
		RETURNING ` + reservationColumns

	var res *models.StockReservation
	err := r.run(ctx, "extend_reservation", func(ctx context.Context) error {
		var err error
		res, err = scanReservation(r.db.QueryRow(ctx, query, productID, reservationID, minutes, now))
		return err
	})
	return res, err
}

func (r *reservationRepo) ListActive(ctx context.Context, productID uuid.UUID, now time.Time) ([]*models.StockReservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE product_id = $1 AND expires_at > $2
		ORDER BY expires_at ASC, reservation_id
	`
	rows, err := r.db.Query(ctx, query, productID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StockReservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *reservationRepo) SumActive(ctx context.Context, productID uuid.UUID, now time.Time) (int, error) {
	query := `SELECT COALESCE(SUM(quantity), 0)::int FROM stock_reservations WHERE product_id = $1 AND expires_at > $2`
	var total int
	err := r.db.QueryRow(ctx, query, productID, now).Scan(&total)
	return total, err
}

func (r *reservationRepo) DeleteExpired(ctx context.Context, productID uuid.UUID, now time.Time) (int, error) {
	query := `DELETE FROM stock_reservations WHERE product_id = $1 AND expires_at <= $2`
	var removed int
	err := r.run(ctx, "delete_expired_reservations", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, productID, now)
		if err != nil {
			return err
		}
		removed = int(tag.RowsAffected())
		return nil
	})
	return removed, err
}

func (r *reservationRepo) ProductsWithExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `SELECT DISTINCT product_id FROM stock_reservations WHERE expires_at <= $1 ORDER BY product_id`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
