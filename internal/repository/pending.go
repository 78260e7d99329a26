package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olamide-dev/orderflow/internal/domain/order"
)

const (
	insertPendingSQL = `INSERT INTO pending_orders
		(id, user_id, items, delivery_address, payment_reference, total, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getPendingByIDSQL = `SELECT id, user_id, items, delivery_address, payment_reference, total, created_at, expires_at
		FROM pending_orders WHERE id = $1`

	getPendingByReferenceSQL = `SELECT id, user_id, items, delivery_address, payment_reference, total, created_at, expires_at
		FROM pending_orders WHERE payment_reference = $1`

	listExpiredPendingSQL = `SELECT id, user_id, items, delivery_address, payment_reference, total, created_at, expires_at
		FROM pending_orders WHERE expires_at < $1 ORDER BY expires_at LIMIT $2`
)

var _ order.PendingRepository = (*PendingOrderRepository)(nil)

// PendingOrderRepository implements order.PendingRepository backed by
// PostgreSQL. The cart snapshot items are stored in a JSONB column.
type PendingOrderRepository struct {
	pool *pgxpool.Pool
}

// NewPendingOrderRepository returns a PendingOrderRepository on the pool.
func NewPendingOrderRepository(pool *pgxpool.Pool) *PendingOrderRepository {
	return &PendingOrderRepository{pool: pool}
}

// Create persists a new pending order.
func (r *PendingOrderRepository) Create(ctx context.Context, p *order.PendingOrder) error {
	itemsJSON, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("marshaling pending items: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertPendingSQL,
		p.ID, p.UserID, itemsJSON, p.DeliveryAddress,
		p.PaymentReference, p.Total, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating pending order %q: %w", p.ID, err)
	}
	return nil
}

// GetByID returns one pending order.
func (r *PendingOrderRepository) GetByID(ctx context.Context, id string) (*order.PendingOrder, error) {
	return r.getOne(ctx, getPendingByIDSQL, id)
}

// GetByReference returns the pending order holding a payment reference.
func (r *PendingOrderRepository) GetByReference(ctx context.Context, reference string) (*order.PendingOrder, error) {
	return r.getOne(ctx, getPendingByReferenceSQL, reference)
}

func (r *PendingOrderRepository) getOne(ctx context.Context, query, arg string) (*order.PendingOrder, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting pending order: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPendingOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting pending order: %w", err)
	}
	return &p, nil
}

// Delete claims a pending order for cancellation or expiry. A zero-row
// delete means a concurrent finalization consumed the row first; that is
// reported as ErrNotFound so the caller backs off the stock reservation.
func (r *PendingOrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deletePendingSQL, id)
	if err != nil {
		return fmt.Errorf("deleting pending order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListExpired returns pending orders past their TTL, oldest first.
func (r *PendingOrderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]order.PendingOrder, error) {
	rows, err := r.pool.Query(ctx, listExpiredPendingSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired pending orders: %w", err)
	}
	return pgx.CollectRows(rows, scanPendingOrder)
}

func scanPendingOrder(row pgx.CollectableRow) (order.PendingOrder, error) {
	var (
		p         order.PendingOrder
		itemsJSON []byte
	)
	err := row.Scan(
		&p.ID, &p.UserID, &itemsJSON, &p.DeliveryAddress,
		&p.PaymentReference, &p.Total, &p.CreatedAt, &p.ExpiresAt,
	)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(itemsJSON, &p.Items); err != nil {
		return p, fmt.Errorf("unmarshaling pending items: %w", err)
	}
	return p, nil
}
