// Package payment defines the gateway-facing types for charge initialization
// and verification, and the persistence model for transaction records.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrGatewayUnavailable wraps transport-level gateway failures. A timeout or
// connection error never implies the payment failed.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Status of a gateway transaction as seen by this service.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
)

// Terminal reports whether the status admits no further change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Transaction records one gateway charge attempt. The reference is globally
// unique and joins the transaction to its pending order.
type Transaction struct {
	Reference   string
	Amount      decimal.Decimal
	Status      Status
	RawPayload  []byte
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// InitRequest is the input for initializing a charge with the gateway.
type InitRequest struct {
	Reference   string
	Email       string
	Amount      decimal.Decimal
	CallbackURL string
}

// InitResult is the gateway's answer to a successful initialization.
type InitResult struct {
	AuthorizationURL string
	AccessCode       string
}

// VerifyResult is the authoritative transaction state reported by the
// gateway. Status is StatusInitialized while the charge is still pending.
type VerifyResult struct {
	Reference string
	Status    Status
	Amount    decimal.Decimal
	Raw       []byte
}

// Gateway initializes charges and verifies transactions with the external
// payment provider. Calls carry bounded timeouts.
type Gateway interface {
	Initialize(ctx context.Context, req InitRequest) (*InitResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

// Repository persists transaction records. Status transitions are monotonic:
// initialized -> success|failed, never reversed.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByReference(ctx context.Context, reference string) (*Transaction, error)

	// Finalize marks the transaction with a terminal status exactly once.
	// Finalizing an already-terminal transaction is a no-op.
	Finalize(ctx context.Context, reference string, status Status, raw []byte) error

	Delete(ctx context.Context, reference string) error
}
