package order

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/olamide-dev/orderflow/internal/domain/invoice"
	"github.com/olamide-dev/orderflow/internal/domain/payment"
	"github.com/olamide-dev/orderflow/internal/domain/product"
)

// Webhook event types delivered by the gateway.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Config holds the lifecycle knobs injected at construction.
type Config struct {
	// PendingTTL is how long a pending order may wait for payment before the
	// sweeper releases its stock reservation.
	PendingTTL time.Duration
	// CallbackURL is passed to the gateway on charge initialization.
	CallbackURL string
}

// CartItem is one requested line of a new order.
type CartItem struct {
	ProductID string
	Quantity  int
}

// CreateRequest is the input for creating a pending order.
type CreateRequest struct {
	UserID          string
	Email           string
	DeliveryAddress string
	Items           []CartItem
}

// CreateResult is returned once the charge is initialized with the gateway.
type CreateResult struct {
	PendingOrderID   string
	PaymentReference string
	AuthorizationURL string
	Total            decimal.Decimal
	ExpiresAt        time.Time
}

// FinalizeResult is the invoice payload returned by payment verification.
// Invoice fields may be empty when artifact generation is still being
// retried; the payment itself is already durable.
type FinalizeResult struct {
	OrderID       string
	OrderNumber   string
	InvoiceNumber string
	PDFURL        string
	ImageURL      string
}

// PaymentStatusResult is the read-only status view of a payment reference.
type PaymentStatusResult struct {
	Reference   string
	Status      payment.Status
	OrderNumber string
}

// refFilter is a concurrency-safe bloom filter of finalized payment
// references. A negative answer proves the reference was never finalized by
// this process, letting the webhook path skip a lookup; positives always fall
// through to the database, so false positives only cost a query.
type refFilter struct {
	mu sync.Mutex
	f  *bloom.BloomFilter
}

func newRefFilter() *refFilter {
	return &refFilter{f: bloom.NewWithEstimates(1_000_000, 0.01)}
}

func (r *refFilter) maybeSeen(ref string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.TestString(ref)
}

func (r *refFilter) add(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.f.AddString(ref)
}

// Service owns the pending-order -> order -> payment -> invoice progression
// and its stock-reservation side effects. The polling (VerifyPayment) and
// push (HandleWebhook) entry points share one finalize path guarded by the
// payment-reference uniqueness constraint.
type Service struct {
	products  product.Repository
	pending   PendingRepository
	orders    Repository
	payments  payment.Repository
	gateway   payment.Gateway
	invoices  invoice.Generator
	cfg       Config
	finalized *refFilter
}

// NewService creates the lifecycle Service with its collaborators.
func NewService(
	products product.Repository,
	pending PendingRepository,
	orders Repository,
	payments payment.Repository,
	gateway payment.Gateway,
	invoices invoice.Generator,
	cfg Config,
) *Service {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}
	return &Service{
		products:  products,
		pending:   pending,
		orders:    orders,
		payments:  payments,
		gateway:   gateway,
		invoices:  invoices,
		cfg:       cfg,
		finalized: newRefFilter(),
	}
}

// CreatePendingOrder validates the cart, reserves stock, persists the cart
// snapshot, and initializes the charge with the gateway. On gateway failure
// the reservation is rolled back and a PaymentInitError is returned.
func (s *Service) CreatePendingOrder(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}
	for _, item := range req.Items {
		if _, ok := productMap[item.ProductID]; !ok {
			return nil, errors.Wrapf(product.ErrNotFound, "product %s", item.ProductID)
		}
	}

	ranges, err := s.products.PricingRanges(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load pricing ranges")
	}

	// Reserve stock line by line; on any failure release what was taken.
	reserved := make([]CartItem, 0, len(req.Items))
	release := func() {
		for _, r := range reserved {
			if rerr := s.products.Release(ctx, r.ProductID, r.Quantity); rerr != nil {
				zctx.From(ctx).Error("release reserved stock",
					zap.String("product_id", r.ProductID), zap.Error(rerr))
			}
		}
	}

	items := make([]Item, len(req.Items))
	total := decimal.Zero
	for i, item := range req.Items {
		if err := s.products.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			release()
			return nil, err
		}
		reserved = append(reserved, item)

		unit := product.MarkupFor(ranges, productMap[item.ProductID].Price)
		items[i] = Item{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: unit}
		total = total.Add(unit.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	total = total.Round(2)

	now := time.Now().UTC()
	p := &PendingOrder{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		Items:            items,
		DeliveryAddress:  req.DeliveryAddress,
		PaymentReference: newPaymentReference(),
		Total:            total,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.PendingTTL),
	}
	if err := s.pending.Create(ctx, p); err != nil {
		release()
		return nil, errors.Wrap(err, "create pending order")
	}

	if err := s.payments.Create(ctx, &payment.Transaction{
		Reference: p.PaymentReference,
		Amount:    total,
		Status:    payment.StatusInitialized,
		CreatedAt: now,
	}); err != nil {
		release()
		_ = s.pending.Delete(ctx, p.ID)
		return nil, errors.Wrap(err, "create payment transaction")
	}

	init, err := s.gateway.Initialize(ctx, payment.InitRequest{
		Reference:   p.PaymentReference,
		Email:       req.Email,
		Amount:      total,
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		release()
		_ = s.payments.Delete(ctx, p.PaymentReference)
		_ = s.pending.Delete(ctx, p.ID)
		return nil, &PaymentInitError{Reference: p.PaymentReference, Err: err}
	}

	return &CreateResult{
		PendingOrderID:   p.ID,
		PaymentReference: p.PaymentReference,
		AuthorizationURL: init.AuthorizationURL,
		Total:            total,
		ExpiresAt:        p.ExpiresAt,
	}, nil
}

// VerifyPayment asks the gateway for the authoritative transaction status and
// finalizes the payment. It is idempotent: once the order exists, repeated
// calls return the same payload without touching the gateway.
func (s *Service) VerifyPayment(ctx context.Context, reference string) (*FinalizeResult, error) {
	if existing, err := s.orders.GetByReference(ctx, reference); err == nil {
		return s.withInvoice(ctx, existing), nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "lookup order")
	}

	// Fail fast on unknown references before calling the gateway.
	if _, err := s.pending.GetByReference(ctx, reference); err != nil {
		return nil, err
	}

	res, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		// Timeouts and transport errors do not imply failure: leave the
		// reservation intact and let the caller retry.
		return nil, errors.Wrap(err, "verify with gateway")
	}
	return s.finalize(ctx, reference, res)
}

// HandleWebhook applies an authenticated gateway notification. It is safe to
// run concurrently with VerifyPayment for the same reference: both funnel
// into finalize, and the loser of the promotion race observes the winner's
// order. Unknown references and repeated deliveries are silent no-ops.
func (s *Service) HandleWebhook(ctx context.Context, eventType, reference string, raw []byte) error {
	lg := zctx.From(ctx).With(
		zap.String("event", eventType),
		zap.String("reference", reference),
	)

	var status payment.Status
	switch eventType {
	case EventChargeSuccess:
		status = payment.StatusSuccess
	case EventChargeFailed:
		status = payment.StatusFailed
	default:
		lg.Debug("ignoring unhandled webhook event")
		return nil
	}

	// Bloom fast path: a hit means the reference was probably finalized
	// already; confirm against the database before dropping the event.
	if s.finalized.maybeSeen(reference) {
		if _, err := s.orders.GetByReference(ctx, reference); err == nil {
			lg.Debug("webhook for finalized reference, no-op")
			return nil
		}
	}

	_, err := s.finalize(ctx, reference, &payment.VerifyResult{
		Reference: reference,
		Status:    status,
		Raw:       raw,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		lg.Warn("webhook for unknown reference")
		return nil
	default:
		var failed *PaymentFailedError
		if errors.As(err, &failed) {
			// Expected outcome of charge.failed: stock restored, tx closed.
			return nil
		}
		return err
	}
}

// finalize is the single promotion/rollback path shared by polling and push.
func (s *Service) finalize(ctx context.Context, reference string, res *payment.VerifyResult) (*FinalizeResult, error) {
	p, err := s.pending.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The pending order may have just been consumed by a concurrent
			// promotion. An existing order means idempotent success.
			if existing, oerr := s.orders.GetByReference(ctx, reference); oerr == nil {
				return s.withInvoice(ctx, existing), nil
			}
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup pending order")
	}

	switch res.Status {
	case payment.StatusSuccess:
		return s.promote(ctx, p, res.Raw)

	case payment.StatusFailed:
		// Claim the pending row first: only the deleter may release stock.
		if err := s.pending.Delete(ctx, p.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				// A concurrent finalization won. If it promoted, this is
				// idempotent success; otherwise the failure is already handled.
				if existing, oerr := s.orders.GetByReference(ctx, reference); oerr == nil {
					return s.withInvoice(ctx, existing), nil
				}
				return nil, &PaymentFailedError{Reference: reference, GatewayStatus: string(res.Status)}
			}
			return nil, errors.Wrap(err, "claim pending order")
		}
		if err := s.payments.Finalize(ctx, reference, payment.StatusFailed, res.Raw); err != nil {
			return nil, errors.Wrap(err, "mark payment failed")
		}
		s.releaseItems(ctx, p.Items)
		s.finalized.add(reference)
		return nil, &PaymentFailedError{Reference: reference, GatewayStatus: string(res.Status)}

	default:
		return nil, ErrPaymentPending
	}
}

// promote converts a paid pending order into a durable Order. Exactly one of
// any concurrent promotions succeeds; the rest observe the winner's row.
func (s *Service) promote(ctx context.Context, p *PendingOrder, raw []byte) (*FinalizeResult, error) {
	now := time.Now().UTC()
	o := &Order{
		ID:               uuid.New().String(),
		OrderNumber:      newOrderNumber(now),
		UserID:           p.UserID,
		Items:            p.Items,
		Total:            p.Total,
		Status:           StatusPaid,
		PaymentReference: p.PaymentReference,
		DeliveryAddress:  p.DeliveryAddress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.orders.PromotePending(ctx, p, o, raw)
	switch {
	case errors.Is(err, ErrAlreadyPromoted), errors.Is(err, ErrPendingConsumed):
		existing, gerr := s.orders.GetByReference(ctx, p.PaymentReference)
		if errors.Is(gerr, ErrNotFound) {
			// No order exists, so a cancellation or expiry sweep claimed the
			// pending row and restored the stock. Too late to promote.
			return nil, ErrNotFound
		}
		if gerr != nil {
			return nil, errors.Wrap(gerr, "read promoted order")
		}
		o = existing
	case err != nil:
		return nil, errors.Wrap(err, "promote pending order")
	}
	s.finalized.add(p.PaymentReference)

	return s.withInvoice(ctx, o), nil
}

// withInvoice attaches the (idempotently generated) invoice to the result.
// Generation failures are logged, not returned: the payment-success fact is
// already durable and the next verification retries the artifact.
func (s *Service) withInvoice(ctx context.Context, o *Order) *FinalizeResult {
	result := &FinalizeResult{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		InvoiceNumber: o.InvoiceNumber,
	}

	inv, err := s.invoices.Ensure(ctx, o.ID, o.OrderNumber)
	if err != nil {
		zctx.From(ctx).Error("generate invoice",
			zap.String("order_id", o.ID), zap.Error(err))
		return result
	}

	result.InvoiceNumber = inv.Number
	result.PDFURL = inv.PDFURL
	result.ImageURL = inv.ImageURL

	if o.InvoiceNumber == "" {
		if err := s.orders.SetInvoiceNumber(ctx, o.ID, inv.Number); err != nil {
			zctx.From(ctx).Error("record invoice number",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return result
}

// PaymentStatus is the read-only view of a reference's progress.
func (s *Service) PaymentStatus(ctx context.Context, reference string) (*PaymentStatusResult, error) {
	if o, err := s.orders.GetByReference(ctx, reference); err == nil {
		return &PaymentStatusResult{
			Reference:   reference,
			Status:      payment.StatusSuccess,
			OrderNumber: o.OrderNumber,
		}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tx, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return &PaymentStatusResult{Reference: reference, Status: tx.Status}, nil
}

// GetOrder returns one order, enforcing ownership for non-admin callers.
func (s *Service) GetOrder(ctx context.Context, id, userID string, admin bool) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListOrders returns the caller's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// GetPendingOrder returns one pending order, enforcing ownership.
func (s *Service) GetPendingOrder(ctx context.Context, id, userID string, admin bool) (*PendingOrder, error) {
	p, err := s.pending.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && p.UserID != userID {
		return nil, ErrNotFound
	}
	return p, nil
}

// CancelPendingOrder abandons a cart snapshot before payment: the payment
// transaction is closed, reserved stock is restored, and an audit row is
// appended under the pending order's ID.
func (s *Service) CancelPendingOrder(ctx context.Context, id, actor, userID string, admin bool) error {
	p, err := s.GetPendingOrder(ctx, id, userID, admin)
	if err != nil {
		return err
	}

	// Claim the pending row before touching anything else. If a concurrent
	// promotion consumed it first, the sale stands and its reservation must
	// stay intact.
	if err := s.pending.Delete(ctx, p.ID); err != nil {
		return err
	}
	if err := s.payments.Finalize(ctx, p.PaymentReference, payment.StatusFailed, nil); err != nil {
		return errors.Wrap(err, "close payment transaction")
	}
	s.releaseItems(ctx, p.Items)
	s.finalized.add(p.PaymentReference)

	return s.orders.AppendHistory(ctx, StatusChange{
		OrderID: p.ID,
		From:    StatusPendingPayment,
		To:      StatusCancelled,
		Actor:   actor,
		At:      time.Now().UTC(),
	})
}

// CancelOrder cancels a confirmed order and restores its stock. Terminal
// orders cannot be cancelled.
func (s *Service) CancelOrder(ctx context.Context, id, actor, userID string, admin bool) error {
	o, err := s.GetOrder(ctx, id, userID, admin)
	if err != nil {
		return err
	}
	if o.Status.Terminal() {
		return &InvalidStateError{Status: o.Status}
	}

	if err := s.orders.UpdateStatus(ctx, id, o.Status, StatusCancelled, actor); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost a race with another transition; report the fresh state.
			return s.staleTransition(ctx, id, StatusCancelled)
		}
		return err
	}
	s.releaseItems(ctx, o.Items)
	return nil
}

// UpdateOrderStatus applies one privileged transition along the fixed graph.
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, next Status, actor string) error {
	if !next.Valid() {
		return &InvalidTransitionError{To: next}
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{From: o.Status, To: next}
	}

	if err := s.orders.UpdateStatus(ctx, id, o.Status, next, actor); err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.staleTransition(ctx, id, next)
		}
		return err
	}
	return nil
}

// staleTransition re-reads the order after a conditional update matched no
// rows and reports the transition against the current status.
func (s *Service) staleTransition(ctx context.Context, id string, next Status) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{From: o.Status, To: next}
}

// Stats returns the aggregate admin report.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.orders.Stats(ctx)
}

// ExpirePending sweeps pending orders whose TTL elapsed, restoring their
// reservations and closing their payment transactions. It returns the number
// of pending orders swept.
func (s *Service) ExpirePending(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.pending.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list expired pending orders")
	}

	swept := 0
	for _, p := range expired {
		// Re-check: the reference may have been finalized between the list
		// and the sweep. An existing order means the promotion won.
		if _, err := s.orders.GetByReference(ctx, p.PaymentReference); err == nil {
			continue
		}
		// The delete is the claim: whoever consumes the pending row owns the
		// reservation, so stock is released only after a successful delete.
		if err := s.pending.Delete(ctx, p.ID); err != nil {
			if !errors.Is(err, ErrNotFound) {
				zctx.From(ctx).Error("delete expired pending order",
					zap.String("pending_order_id", p.ID), zap.Error(err))
			}
			continue
		}
		if err := s.payments.Finalize(ctx, p.PaymentReference, payment.StatusFailed, nil); err != nil {
			zctx.From(ctx).Error("expire payment transaction",
				zap.String("reference", p.PaymentReference), zap.Error(err))
		}
		s.releaseItems(ctx, p.Items)
		s.finalized.add(p.PaymentReference)
		swept++
	}
	return swept, nil
}

func (s *Service) releaseItems(ctx context.Context, items []Item) {
	for _, item := range items {
		if err := s.products.Release(ctx, item.ProductID, item.Quantity); err != nil {
			zctx.From(ctx).Error("restore stock",
				zap.String("product_id", item.ProductID), zap.Error(err))
		}
	}
}

func newPaymentReference() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func newOrderNumber(now time.Time) string {
	return "ORD-" + now.Format("20060102") + "-" + strings.ToUpper(uuid.New().String()[:8])
}
