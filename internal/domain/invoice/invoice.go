// Package invoice defines the billing artifact produced once per paid order.
package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no invoice exists for the given order.
var ErrNotFound = errors.New("invoice not found")

// Invoice is the generated billing artifact for a confirmed order. An order
// has at most one invoice; generation is idempotent.
type Invoice struct {
	Number    string
	OrderID   string
	PDFURL    string
	ImageURL  string
	QRPayload string
	CreatedAt time.Time
}

// Generator produces the invoice for an order, returning the existing
// artifact when one was already generated.
type Generator interface {
	Ensure(ctx context.Context, orderID, orderNumber string) (*Invoice, error)
}

// Repository persists invoices keyed uniquely by order.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByOrderID(ctx context.Context, orderID string) (*Invoice, error)
}
