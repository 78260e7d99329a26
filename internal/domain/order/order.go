package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors shared across the order lifecycle.
var (
	ErrEmptyItems = errors.New("items required")

	// ErrNotFound is returned when an order or pending order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrAlreadyPromoted signals that a concurrent promotion won the race on
	// the payment reference. Callers re-read the order and report success.
	ErrAlreadyPromoted = errors.New("order already promoted")

	// ErrPendingConsumed signals that the pending order was claimed by a
	// concurrent finalization, cancellation, or expiry sweep. Whoever deletes
	// the pending row owns its stock reservation; everyone else backs off.
	ErrPendingConsumed = errors.New("pending order already consumed")

	// ErrPaymentPending means the gateway has no terminal status yet.
	// The caller may retry verification later.
	ErrPaymentPending = errors.New("payment not yet confirmed")
)

// InvalidQuantityError indicates a cart line with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// PaymentInitError indicates the payment gateway rejected or failed the
// charge initialization. The stock reservation has been rolled back.
type PaymentInitError struct {
	Reference string
	Err       error
}

func (e *PaymentInitError) Error() string {
	return fmt.Sprintf("initialize payment %s: %v", e.Reference, e.Err)
}

func (e *PaymentInitError) Unwrap() error { return e.Err }

// PaymentFailedError indicates the gateway reported a terminal failure for
// the transaction. Reserved stock has been restored.
type PaymentFailedError struct {
	Reference     string
	GatewayStatus string
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment %s failed with gateway status %q", e.Reference, e.GatewayStatus)
}

// InvalidTransitionError indicates a status change outside the allowed graph.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// InvalidStateError indicates an operation on an order whose current state
// does not permit it, e.g. cancelling a delivered order.
type InvalidStateError struct {
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("operation not allowed in state %s", e.Status)
}

// Item is a single order line. UnitPrice is the marked-up price charged at
// the time the cart snapshot was taken.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// PendingOrder is a cart snapshot awaiting payment confirmation. Stock for
// its items is already reserved; the reservation is released when the pending
// order is cancelled or expires.
type PendingOrder struct {
	ID               string
	UserID           string
	Items            []Item
	DeliveryAddress  string
	PaymentReference string
	Total            decimal.Decimal
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Order is a confirmed, paid purchase. Orders are never deleted.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           string
	Items            []Item
	Total            decimal.Decimal
	Status           Status
	PaymentReference string
	InvoiceNumber    string
	DeliveryAddress  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StatusChange is one append-only audit row of a status transition.
type StatusChange struct {
	OrderID string
	From    Status
	To      Status
	Actor   string
	At      time.Time
}

// Stats is the aggregate reporting payload for the admin surface.
type Stats struct {
	OrdersByStatus map[Status]int64
	TotalRevenue   decimal.Decimal
	PendingOrders  int64
}

// Repository defines persistence operations for confirmed orders.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)

	// PromotePending atomically consumes the pending order, inserts the order
	// and its items, and marks the payment transaction successful in one
	// transaction. The pending row is the claim token: if it is already gone,
	// PromotePending commits nothing and returns ErrPendingConsumed. Returns
	// ErrAlreadyPromoted when an order for the same payment reference exists.
	PromotePending(ctx context.Context, pending *PendingOrder, o *Order, rawPayload []byte) error

	// UpdateStatus moves the order from one status to another and appends the
	// audit row in the same transaction. The update is conditional on the
	// current status so concurrent transitions cannot both apply.
	UpdateStatus(ctx context.Context, id string, from, to Status, actor string) error

	SetInvoiceNumber(ctx context.Context, id, invoiceNumber string) error

	// AppendHistory writes one audit row outside of a status update, e.g.
	// when a pending order is cancelled before any order row exists.
	AppendHistory(ctx context.Context, change StatusChange) error
	History(ctx context.Context, id string) ([]StatusChange, error)
	Stats(ctx context.Context) (*Stats, error)
}

// PendingRepository defines persistence operations for pending orders.
type PendingRepository interface {
	Create(ctx context.Context, p *PendingOrder) error
	GetByID(ctx context.Context, id string) (*PendingOrder, error)
	GetByReference(ctx context.Context, reference string) (*PendingOrder, error)

	// Delete claims a pending order for cancellation or expiry. It returns
	// ErrNotFound when the row was already consumed by a concurrent
	// finalization; the caller must not release stock in that case.
	Delete(ctx context.Context, id string) error

	// ListExpired returns pending orders whose TTL elapsed before now,
	// oldest first, at most limit rows.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]PendingOrder, error)
}
