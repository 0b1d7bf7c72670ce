package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads and writes payhook.orders.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	var o Order
	var status, paymentStatus string
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, vendor_id, status, payment_status, payment_id,
		       amount, currency, failure_reason, paid_at, failed_at, updated_at
		FROM payhook.orders WHERE id = $1`, id).
		Scan(&o.ID, &o.CustomerID, &o.VendorID, &status, &paymentStatus, &o.PaymentID,
			&o.Amount, &o.Currency, &o.FailureReason, &o.PaidAt, &o.FailedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("select order %s: %w", id, err)
	}
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	return o, nil
}

func (s *PostgresStore) Seed(ctx context.Context, o Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payhook.orders (id, customer_id, vendor_id, status, payment_status, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.CustomerID, o.VendorID, string(o.Status), string(o.PaymentStatus), o.Amount, o.Currency)
	if err != nil {
		return fmt.Errorf("seed order %s: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, p Patch) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE payhook.orders SET
			status         = COALESCE(NULLIF($2, ''), status),
			payment_status = COALESCE(NULLIF($3, ''), payment_status),
			payment_id     = COALESCE(NULLIF($4, ''), payment_id),
			amount         = COALESCE($5, amount),
			currency       = COALESCE(NULLIF($6, ''), currency),
			failure_reason = COALESCE(NULLIF($7, ''), failure_reason),
			paid_at        = COALESCE($8, paid_at),
			failed_at      = COALESCE($9, failed_at),
			updated_at     = now()
		WHERE id = $1 AND ($10 = '' OR status <> $10)`,
		id, string(p.Status), string(p.PaymentStatus), p.PaymentID, p.Amount,
		p.Currency, p.FailureReason, p.PaidAt, p.FailedAt, string(p.UnlessStatus))
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	// Nothing written: tell a missing row apart from a blocked precondition.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payhook.orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check order %s: %w", id, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}
