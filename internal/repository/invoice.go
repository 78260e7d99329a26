package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olamide-dev/orderflow/internal/domain/invoice"
)

const (
	insertInvoiceSQL = `INSERT INTO invoices (number, order_id, pdf_url, image_url, qr_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getInvoiceByOrderSQL = `SELECT number, order_id, pdf_url, image_url, qr_payload, created_at
		FROM invoices WHERE order_id = $1`
)

var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Repository backed by PostgreSQL. The
// unique key on order_id enforces at most one invoice per order.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// Create persists a new invoice.
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	_, err := r.pool.Exec(ctx, insertInvoiceSQL,
		inv.Number, inv.OrderID, inv.PDFURL, inv.ImageURL, inv.QRPayload, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating invoice %q: %w", inv.Number, err)
	}
	return nil
}

// GetByOrderID returns the invoice generated for an order.
func (r *InvoiceRepository) GetByOrderID(ctx context.Context, orderID string) (*invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, getInvoiceByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting invoice for order %q: %w", orderID, err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (invoice.Invoice, error) {
		var i invoice.Invoice
		err := row.Scan(&i.Number, &i.OrderID, &i.PDFURL, &i.ImageURL, &i.QRPayload, &i.CreatedAt)
		return i, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrNotFound
		}
		return nil, fmt.Errorf("getting invoice for order %q: %w", orderID, err)
	}
	return &inv, nil
}
