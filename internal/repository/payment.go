package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olamide-dev/orderflow/internal/domain/order"
	"github.com/olamide-dev/orderflow/internal/domain/payment"
)

const (
	insertPaymentSQL = `INSERT INTO payment_transactions (reference, amount, status, created_at)
		VALUES ($1, $2, $3, $4)`

	getPaymentSQL = `SELECT reference, amount, status, raw_payload, created_at, finalized_at
		FROM payment_transactions WHERE reference = $1`

	// Monotonic: only a non-terminal transaction can be finalized, so a
	// terminal status is never reversed and repeated webhooks are no-ops.
	finalizePaymentSQL = `UPDATE payment_transactions
		SET status = $2, raw_payload = COALESCE($3, raw_payload), finalized_at = now()
		WHERE reference = $1 AND status = 'initialized'`

	deletePaymentSQL = `DELETE FROM payment_transactions WHERE reference = $1 AND status = 'initialized'`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create records a freshly initialized charge attempt.
func (r *PaymentRepository) Create(ctx context.Context, tx *payment.Transaction) error {
	_, err := r.pool.Exec(ctx, insertPaymentSQL,
		tx.Reference, tx.Amount, tx.Status, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment transaction %q: %w", tx.Reference, err)
	}
	return nil
}

// GetByReference returns one transaction record.
func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*payment.Transaction, error) {
	rows, err := r.pool.Query(ctx, getPaymentSQL, reference)
	if err != nil {
		return nil, fmt.Errorf("getting payment transaction %q: %w", reference, err)
	}
	tx, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment transaction %q: %w", reference, err)
	}
	return &tx, nil
}

// Finalize moves the transaction to a terminal status exactly once. Already
// terminal transactions are left untouched.
func (r *PaymentRepository) Finalize(ctx context.Context, reference string, status payment.Status, raw []byte) error {
	_, err := r.pool.Exec(ctx, finalizePaymentSQL, reference, status, raw)
	if err != nil {
		return fmt.Errorf("finalizing payment transaction %q: %w", reference, err)
	}
	return nil
}

// Delete removes a transaction whose initialization never reached the
// gateway. Terminal transactions stay for audit.
func (r *PaymentRepository) Delete(ctx context.Context, reference string) error {
	_, err := r.pool.Exec(ctx, deletePaymentSQL, reference)
	if err != nil {
		return fmt.Errorf("deleting payment transaction %q: %w", reference, err)
	}
	return nil
}

func scanPayment(row pgx.CollectableRow) (payment.Transaction, error) {
	var (
		tx          payment.Transaction
		finalizedAt *time.Time
	)
	err := row.Scan(&tx.Reference, &tx.Amount, &tx.Status, &tx.RawPayload, &tx.CreatedAt, &finalizedAt)
	tx.FinalizedAt = finalizedAt
	return tx, err
}
