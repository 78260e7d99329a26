package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/olamide-dev/orderflow/internal/domain/order"
	"github.com/olamide-dev/orderflow/internal/domain/payment"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(id, order_number, user_id, total, status, payment_reference, invoice_number, delivery_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)`

	getOrderByIDSQL = `SELECT id, order_number, user_id, total, status, payment_reference, invoice_number, delivery_address, created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderByReferenceSQL = `SELECT id, order_number, user_id, total, status, payment_reference, invoice_number, delivery_address, created_at, updated_at
		FROM orders WHERE payment_reference = $1`

	listOrdersByUserSQL = `SELECT id, order_number, user_id, total, status, payment_reference, invoice_number, delivery_address, created_at, updated_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	listOrderItemsSQL = `SELECT product_id, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id`

	// Conditional on the current status so concurrent transitions cannot
	// both apply; the loser matches zero rows.
	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	setInvoiceNumberSQL = `UPDATE orders SET invoice_number = $2, updated_at = now()
		WHERE id = $1 AND invoice_number = ''`

	insertHistorySQL = `INSERT INTO order_status_history (order_id, from_status, to_status, actor, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	listHistorySQL = `SELECT order_id, from_status, to_status, actor, created_at
		FROM order_status_history WHERE order_id = $1 ORDER BY id`

	deletePendingSQL = `DELETE FROM pending_orders WHERE id = $1`

	statsByStatusSQL = `SELECT status, COUNT(*), COALESCE(SUM(total), 0)
		FROM orders GROUP BY status`

	countPendingSQL = `SELECT COUNT(*) FROM pending_orders`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns one order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByReference returns the order created for a payment reference.
func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByReferenceSQL, reference)
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	items, err := r.items(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

// ListByUser returns a user's orders, newest first, items included.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", userID, err)
	}
	for i := range orders {
		items, err := r.items(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, listOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice)
		return it, err
	})
}

// PromotePending performs the payment-to-order promotion in one transaction:
// pending order consumed, order + items inserted, payment transaction marked
// successful, and the pending_payment -> paid audit row appended. The pending
// row is deleted first and acts as the claim token: a cancellation or expiry
// sweep that consumed it already owns the stock reservation, so a zero-row
// delete aborts the promotion with ErrPendingConsumed. The unique constraint
// on orders.payment_reference additionally arbitrates concurrent promotions;
// that loser gets ErrAlreadyPromoted.
func (r *OrderRepository) PromotePending(ctx context.Context, pending *order.PendingOrder, o *order.Order, rawPayload []byte) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning promotion: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, deletePendingSQL, pending.ID)
	if err != nil {
		return fmt.Errorf("consuming pending order %q: %w", pending.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrPendingConsumed
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.OrderNumber, o.UserID, o.Total, o.Status,
		o.PaymentReference, o.InvoiceNumber, o.DeliveryAddress,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrAlreadyPromoted
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	for _, item := range o.Items {
		if _, err := tx.Exec(ctx, insertOrderItemSQL,
			o.ID, item.ProductID, item.Quantity, item.UnitPrice,
		); err != nil {
			return fmt.Errorf("inserting item %q for order %q: %w", item.ProductID, o.ID, err)
		}
	}

	tag, err = tx.Exec(ctx, finalizePaymentSQL,
		o.PaymentReference, payment.StatusSuccess, rawPayload,
	)
	if err != nil {
		return fmt.Errorf("marking payment %q successful: %w", o.PaymentReference, err)
	}
	if tag.RowsAffected() == 0 {
		// The transaction is already terminal, so some other finalization
		// owns this reference. Commit nothing.
		return order.ErrPendingConsumed
	}

	if _, err := tx.Exec(ctx, insertHistorySQL,
		o.ID, order.StatusPendingPayment, order.StatusPaid, "payment-gateway", o.CreatedAt,
	); err != nil {
		return fmt.Errorf("appending promotion history for %q: %w", o.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing promotion of %q: %w", pending.ID, err)
	}
	return nil
}

// UpdateStatus applies one conditional status transition and its audit row in
// a single transaction. Returns order.ErrNotFound when the conditional update
// matches no row (missing order or stale expected status).
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, actor string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning status update: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, updateOrderStatusSQL, id, from, to)
	if err != nil {
		return fmt.Errorf("updating status of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}

	if _, err := tx.Exec(ctx, insertHistorySQL, id, from, to, actor, nowUTC()); err != nil {
		return fmt.Errorf("appending history for %q: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing status update of %q: %w", id, err)
	}
	return nil
}

// SetInvoiceNumber records the generated invoice number once; later calls
// with a number already set are no-ops.
func (r *OrderRepository) SetInvoiceNumber(ctx context.Context, id, invoiceNumber string) error {
	_, err := r.pool.Exec(ctx, setInvoiceNumberSQL, id, invoiceNumber)
	if err != nil {
		return fmt.Errorf("setting invoice number on %q: %w", id, err)
	}
	return nil
}

// AppendHistory writes one standalone audit row.
func (r *OrderRepository) AppendHistory(ctx context.Context, change order.StatusChange) error {
	_, err := r.pool.Exec(ctx, insertHistorySQL,
		change.OrderID, change.From, change.To, change.Actor, change.At,
	)
	if err != nil {
		return fmt.Errorf("appending history for %q: %w", change.OrderID, err)
	}
	return nil
}

// History returns the audit trail for an order, oldest first.
func (r *OrderRepository) History(ctx context.Context, id string) ([]order.StatusChange, error) {
	rows, err := r.pool.Query(ctx, listHistorySQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing history for %q: %w", id, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusChange, error) {
		var c order.StatusChange
		err := row.Scan(&c.OrderID, &c.From, &c.To, &c.Actor, &c.At)
		return c, err
	})
}

// Stats aggregates order counts and revenue by status plus the live pending
// order count.
func (r *OrderRepository) Stats(ctx context.Context) (*order.Stats, error) {
	stats := &order.Stats{
		OrdersByStatus: make(map[order.Status]int64),
		TotalRevenue:   decimal.Zero,
	}

	rows, err := r.pool.Query(ctx, statsByStatusSQL)
	if err != nil {
		return nil, fmt.Errorf("aggregating order stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status  order.Status
			count   int64
			revenue decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &revenue); err != nil {
			return nil, fmt.Errorf("scanning order stats: %w", err)
		}
		stats.OrdersByStatus[status] = count
		// Cancelled and refunded orders do not count toward revenue.
		if status != order.StatusCancelled && status != order.StatusRefunded {
			stats.TotalRevenue = stats.TotalRevenue.Add(revenue)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregating order stats: %w", err)
	}

	if err := r.pool.QueryRow(ctx, countPendingSQL).Scan(&stats.PendingOrders); err != nil {
		return nil, fmt.Errorf("counting pending orders: %w", err)
	}
	return stats, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Total, &o.Status,
		&o.PaymentReference, &o.InvoiceNumber, &o.DeliveryAddress,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}
