// Package order applies payment events to orders held by an external store.
package order

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusPaymentFailed  Status = "payment_failed"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

var (
	// ErrNotFound is returned by a Store when no order has the given id.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned by a Store when Patch.UnlessStatus blocked the write.
	ErrConflict = errors.New("order status precondition failed")
)

type Order struct {
	ID            string
	CustomerID    string
	VendorID      string
	Status        Status
	PaymentStatus PaymentStatus
	PaymentID     string
	Amount        int64
	Currency      string
	FailureReason string
	PaidAt        *time.Time
	FailedAt      *time.Time
	UpdatedAt     time.Time
}

// Seeder inserts fixture orders. Orders that already exist are left alone
// by the Postgres store and replaced by the in-memory one.
type Seeder interface {
	Seed(ctx context.Context, o Order) error
}

// Patch lists the fields to write. Zero values leave the stored field as is.
type Patch struct {
	Status        Status
	PaymentStatus PaymentStatus
	PaymentID     string
	Amount        *int64
	Currency      string
	FailureReason string
	PaidAt        *time.Time
	FailedAt      *time.Time
	UpdatedAt     time.Time

	// UnlessStatus makes the write conditional: when the stored status equals
	// it, nothing is written and the store returns ErrConflict.
	UnlessStatus Status
}

// Apply returns o with the patch fields written over it.
func (p Patch) Apply(o Order) Order {
	if p.Status != "" {
		o.Status = p.Status
	}
	if p.PaymentStatus != "" {
		o.PaymentStatus = p.PaymentStatus
	}
	if p.PaymentID != "" {
		o.PaymentID = p.PaymentID
	}
	if p.Amount != nil {
		o.Amount = *p.Amount
	}
	if p.Currency != "" {
		o.Currency = p.Currency
	}
	if p.FailureReason != "" {
		o.FailureReason = p.FailureReason
	}
	if p.PaidAt != nil {
		t := *p.PaidAt
		o.PaidAt = &t
	}
	if p.FailedAt != nil {
		t := *p.FailedAt
		o.FailedAt = &t
	}
	if !p.UpdatedAt.IsZero() {
		o.UpdatedAt = p.UpdatedAt
	}
	return o
}

// Store is the durable home of orders.
type Store interface {
	Get(ctx context.Context, id string) (Order, error)
	Update(ctx context.Context, id string, patch Patch) error
}
