package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olamide-dev/orderflow/internal/domain/invoice"
	"github.com/olamide-dev/orderflow/internal/domain/payment"
	"github.com/olamide-dev/orderflow/internal/domain/product"
)

// --- Mock implementations ---

type mockProducts struct {
	byID     map[string]product.Product
	ranges   []product.PricingRange
	stock    map[string]int
	released map[string]int
}

func newMockProducts(products ...product.Product) *mockProducts {
	m := &mockProducts{
		byID:     make(map[string]product.Product),
		stock:    make(map[string]int),
		released: make(map[string]int),
	}
	for _, p := range products {
		m.byID[p.ID] = p
		m.stock[p.ID] = p.Stock
	}
	return m
}

func (m *mockProducts) List(context.Context) ([]product.Product, error) { return nil, nil }

func (m *mockProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProducts) Reserve(_ context.Context, id string, qty int) error {
	available, ok := m.stock[id]
	if !ok {
		return product.ErrNotFound
	}
	if available < qty {
		return &product.InsufficientStockError{ProductID: id, Requested: qty, Available: available}
	}
	m.stock[id] = available - qty
	return nil
}

func (m *mockProducts) Release(_ context.Context, id string, qty int) error {
	m.stock[id] += qty
	m.released[id] += qty
	return nil
}

func (m *mockProducts) PricingRanges(context.Context) ([]product.PricingRange, error) {
	return m.ranges, nil
}

type mockPending struct {
	byID    map[string]*PendingOrder
	expired []PendingOrder
}

func newMockPending() *mockPending {
	return &mockPending{byID: make(map[string]*PendingOrder)}
}

func (m *mockPending) Create(_ context.Context, p *PendingOrder) error {
	m.byID[p.ID] = p
	return nil
}

func (m *mockPending) GetByID(_ context.Context, id string) (*PendingOrder, error) {
	if p, ok := m.byID[id]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (m *mockPending) GetByReference(_ context.Context, ref string) (*PendingOrder, error) {
	for _, p := range m.byID {
		if p.PaymentReference == ref {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockPending) Delete(_ context.Context, id string) error {
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *mockPending) ListExpired(_ context.Context, _ time.Time, _ int) ([]PendingOrder, error) {
	return m.expired, nil
}

type mockOrders struct {
	byID       map[string]*Order
	pending    *mockPending
	payments   *mockPayments
	promoteErr error
	updateErr  error
	onPromote  func()
	history    []StatusChange
	stats      *Stats
}

func newMockOrders() *mockOrders {
	return &mockOrders{byID: make(map[string]*Order)}
}

func (m *mockOrders) GetByID(_ context.Context, id string) (*Order, error) {
	if o, ok := m.byID[id]; ok {
		return o, nil
	}
	return nil, ErrNotFound
}

func (m *mockOrders) GetByReference(_ context.Context, ref string) (*Order, error) {
	for _, o := range m.byID {
		if o.PaymentReference == ref {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrders) ListByUser(_ context.Context, userID string) ([]Order, error) {
	var out []Order
	for _, o := range m.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrders) PromotePending(_ context.Context, p *PendingOrder, o *Order, _ []byte) error {
	if m.onPromote != nil {
		m.onPromote()
	}
	if m.promoteErr != nil {
		return m.promoteErr
	}
	// The pending row is the claim token, mirroring the repository contract:
	// consume it, insert the order, and close the payment in one step.
	if _, ok := m.pending.byID[p.ID]; !ok {
		return ErrPendingConsumed
	}
	delete(m.pending.byID, p.ID)
	m.byID[o.ID] = o
	if tx, ok := m.payments.byRef[o.PaymentReference]; ok {
		tx.Status = payment.StatusSuccess
	}
	return nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, id string, from, to Status, actor string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	o, ok := m.byID[id]
	if !ok || o.Status != from {
		return ErrNotFound
	}
	o.Status = to
	m.history = append(m.history, StatusChange{OrderID: id, From: from, To: to, Actor: actor})
	return nil
}

func (m *mockOrders) SetInvoiceNumber(_ context.Context, id, number string) error {
	if o, ok := m.byID[id]; ok {
		o.InvoiceNumber = number
	}
	return nil
}

func (m *mockOrders) AppendHistory(_ context.Context, change StatusChange) error {
	m.history = append(m.history, change)
	return nil
}

func (m *mockOrders) History(_ context.Context, id string) ([]StatusChange, error) {
	var out []StatusChange
	for _, c := range m.history {
		if c.OrderID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockOrders) Stats(context.Context) (*Stats, error) { return m.stats, nil }

type mockPayments struct {
	byRef map[string]*payment.Transaction
}

func newMockPayments() *mockPayments {
	return &mockPayments{byRef: make(map[string]*payment.Transaction)}
}

func (m *mockPayments) Create(_ context.Context, tx *payment.Transaction) error {
	m.byRef[tx.Reference] = tx
	return nil
}

func (m *mockPayments) GetByReference(_ context.Context, ref string) (*payment.Transaction, error) {
	if tx, ok := m.byRef[ref]; ok {
		return tx, nil
	}
	return nil, ErrNotFound
}

func (m *mockPayments) Finalize(_ context.Context, ref string, status payment.Status, _ []byte) error {
	if tx, ok := m.byRef[ref]; ok && tx.Status == payment.StatusInitialized {
		tx.Status = status
	}
	return nil
}

func (m *mockPayments) Delete(_ context.Context, ref string) error {
	delete(m.byRef, ref)
	return nil
}

type mockGateway struct {
	initResult  *payment.InitResult
	initErr     error
	verify      *payment.VerifyResult
	verifyErr   error
	verifyCalls int
}

func (m *mockGateway) Initialize(context.Context, payment.InitRequest) (*payment.InitResult, error) {
	if m.initErr != nil {
		return nil, m.initErr
	}
	if m.initResult != nil {
		return m.initResult, nil
	}
	return &payment.InitResult{AuthorizationURL: "https://checkout.example.com/x"}, nil
}

func (m *mockGateway) Verify(_ context.Context, ref string) (*payment.VerifyResult, error) {
	m.verifyCalls++
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if m.verify != nil {
		return m.verify, nil
	}
	return &payment.VerifyResult{Reference: ref, Status: payment.StatusInitialized}, nil
}

type mockInvoices struct {
	inv *invoice.Invoice
	err error
}

func (m *mockInvoices) Ensure(_ context.Context, orderID, _ string) (*invoice.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.inv != nil {
		return m.inv, nil
	}
	return &invoice.Invoice{Number: "INV-1", OrderID: orderID, PDFURL: "pdf", ImageURL: "png"}, nil
}

// --- Helpers ---

type fixture struct {
	products *mockProducts
	pending  *mockPending
	orders   *mockOrders
	payments *mockPayments
	gateway  *mockGateway
	invoices *mockInvoices
	svc      *Service
}

func newFixture(products ...product.Product) *fixture {
	f := &fixture{
		products: newMockProducts(products...),
		pending:  newMockPending(),
		orders:   newMockOrders(),
		payments: newMockPayments(),
		gateway:  &mockGateway{},
		invoices: &mockInvoices{},
	}
	f.orders.pending = f.pending
	f.orders.payments = f.payments
	f.svc = NewService(f.products, f.pending, f.orders, f.payments, f.gateway, f.invoices,
		Config{PendingTTL: 30 * time.Minute})
	return f
}

func testProduct(id string, price string, stock int) product.Product {
	return product.Product{ID: id, Name: id, Price: decimal.RequireFromString(price), Stock: stock}
}

func (f *fixture) createPending(t *testing.T, items ...CartItem) *CreateResult {
	t.Helper()
	result, err := f.svc.CreatePendingOrder(context.Background(), CreateRequest{
		UserID: "u1",
		Email:  "buyer@example.com",
		Items:  items,
	})
	require.NoError(t, err)
	return result
}

// --- Tests ---

func TestCreatePendingOrder_EmptyItems(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreatePendingOrder(context.Background(), CreateRequest{})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCreatePendingOrder_InvalidQuantity(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))

	_, err := f.svc.CreatePendingOrder(context.Background(), CreateRequest{
		Items: []CartItem{{ProductID: "p1", Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestCreatePendingOrder_ProductNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreatePendingOrder(context.Background(), CreateRequest{
		Items: []CartItem{{ProductID: "missing", Quantity: 1}},
	})
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestCreatePendingOrder_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5), testProduct("p2", "20.00", 1))

	_, err := f.svc.CreatePendingOrder(context.Background(), CreateRequest{
		Items: []CartItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 3},
		},
	})

	var stockErr *product.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p2", stockErr.ProductID)

	// The p1 reservation must be returned.
	assert.Equal(t, 2, f.products.released["p1"])
	assert.Equal(t, 5, f.products.stock["p1"])
	assert.Empty(t, f.pending.byID)
}

func TestCreatePendingOrder_AppliesMarkup(t *testing.T) {
	f := newFixture(testProduct("p1", "8.00", 10), testProduct("p2", "40.00", 10))
	f.products.ranges = []product.PricingRange{
		{RangeID: "0-10", Percentage: decimal.NewFromInt(45), Min: decimal.Zero, Max: decPtr("10")},
		{RangeID: "10-50", Percentage: decimal.NewFromInt(35), Min: decimal.RequireFromString("10"), Max: decPtr("50")},
	}

	result := f.createPending(t,
		CartItem{ProductID: "p1", Quantity: 1},
		CartItem{ProductID: "p2", Quantity: 2},
	)

	// 8.00*1.45 + 2*40.00*1.35 = 11.60 + 108.00
	assert.True(t, decimal.RequireFromString("119.60").Equal(result.Total),
		"got %s", result.Total)
	assert.NotEmpty(t, result.PaymentReference)
	assert.NotEmpty(t, result.AuthorizationURL)

	p := f.pending.byID[result.PendingOrderID]
	require.NotNil(t, p)
	assert.True(t, decimal.RequireFromString("11.60").Equal(p.Items[0].UnitPrice))

	tx := f.payments.byRef[result.PaymentReference]
	require.NotNil(t, tx)
	assert.Equal(t, payment.StatusInitialized, tx.Status)
}

func TestCreatePendingOrder_GatewayFailureRollsBack(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	f.gateway.initErr = payment.ErrGatewayUnavailable

	_, err := f.svc.CreatePendingOrder(context.Background(), CreateRequest{
		Items: []CartItem{{ProductID: "p1", Quantity: 2}},
	})

	var initErr *PaymentInitError
	require.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)

	assert.Equal(t, 5, f.products.stock["p1"], "reservation rolled back")
	assert.Empty(t, f.pending.byID)
	assert.Empty(t, f.payments.byRef)
}

func TestVerifyPayment_UnknownReference(t *testing.T) {
	f := newFixture()
	_, err := f.svc.VerifyPayment(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.gateway.verifyCalls, "gateway not called for unknown reference")
}

func TestVerifyPayment_StillPending(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})

	_, err := f.svc.VerifyPayment(context.Background(), result.PaymentReference)
	require.ErrorIs(t, err, ErrPaymentPending)

	// Reservation stays held while the charge is undecided.
	assert.Equal(t, 4, f.products.stock["p1"])
	assert.Len(t, f.pending.byID, 1)
}

func TestVerifyPayment_GatewayTimeoutKeepsReservation(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})
	f.gateway.verifyErr = payment.ErrGatewayUnavailable

	_, err := f.svc.VerifyPayment(context.Background(), result.PaymentReference)
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)

	assert.Equal(t, 4, f.products.stock["p1"])
	assert.Len(t, f.pending.byID, 1)
}

func TestVerifyPayment_SuccessPromotes(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 2})
	f.gateway.verify = &payment.VerifyResult{
		Reference: result.PaymentReference,
		Status:    payment.StatusSuccess,
	}

	final, err := f.svc.VerifyPayment(context.Background(), result.PaymentReference)
	require.NoError(t, err)

	assert.NotEmpty(t, final.OrderNumber)
	assert.Equal(t, "INV-1", final.InvoiceNumber)
	assert.Empty(t, f.pending.byID, "pending order consumed")

	o := f.orders.byID[final.OrderID]
	require.NotNil(t, o)
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, result.PaymentReference, o.PaymentReference)
	assert.Equal(t, 3, f.products.stock["p1"], "stock stays reserved for the sale")
}

func TestVerifyPayment_IdempotentAfterPromotion(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})
	f.gateway.verify = &payment.VerifyResult{
		Reference: result.PaymentReference,
		Status:    payment.StatusSuccess,
	}

	first, err := f.svc.VerifyPayment(context.Background(), result.PaymentReference)
	require.NoError(t, err)
	calls := f.gateway.verifyCalls

	second, err := f.svc.VerifyPayment(context.Background(), result.PaymentReference)
	require.NoError(t, err)

	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, calls, f.gateway.verifyCalls, "no extra gateway call once promoted")
}

func TestVerifyPayment_FailedReleasesStock(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 2})
	f.gateway.verify = &payment.VerifyResult{
		Reference: result.PaymentReference,
		Status:    payment.StatusFailed,
	}

	_, err := f.svc.VerifyPayment(context.Background(), result.PaymentReference)

	var failed *PaymentFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, result.PaymentReference, failed.Reference)

	assert.Equal(t, 5, f.products.stock["p1"], "stock restored")
	assert.Empty(t, f.pending.byID)
	assert.Equal(t, payment.StatusFailed, f.payments.byRef[result.PaymentReference].Status)
	assert.Empty(t, f.orders.byID, "no order created")
}

func TestVerifyPayment_LosesPromotionRace(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})
	f.gateway.verify = &payment.VerifyResult{
		Reference: result.PaymentReference,
		Status:    payment.StatusSuccess,
	}

	// A concurrent promotion already inserted the winner's row.
	winner := &Order{
		ID:               "winner",
		OrderNumber:      "ORD-20260831-WINNER01",
		UserID:           "u1",
		Status:           StatusPaid,
		PaymentReference: result.PaymentReference,
	}
	f.orders.promoteErr = ErrAlreadyPromoted
	f.orders.byID[winner.ID] = winner

	final, err := f.svc.VerifyPayment(context.Background(), result.PaymentReference)
	require.NoError(t, err, "loser of the race still reports success")
	assert.Equal(t, winner.OrderNumber, final.OrderNumber)
}

func TestHandleWebhook_ChargeSuccessPromotes(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})

	err := f.svc.HandleWebhook(context.Background(), EventChargeSuccess, result.PaymentReference, []byte(`{}`))
	require.NoError(t, err)

	require.Empty(t, f.pending.byID)
	require.Len(t, f.orders.byID, 1)
	assert.Zero(t, f.gateway.verifyCalls, "webhook trusts the signed event")
}

func TestHandleWebhook_ChargeFailedIsHandled(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 2})

	err := f.svc.HandleWebhook(context.Background(), EventChargeFailed, result.PaymentReference, nil)
	require.NoError(t, err, "an expected failure is not a processing error")

	assert.Equal(t, 5, f.products.stock["p1"])
	assert.Empty(t, f.pending.byID)
}

func TestHandleWebhook_UnknownReferenceIsNoOp(t *testing.T) {
	f := newFixture()
	err := f.svc.HandleWebhook(context.Background(), EventChargeSuccess, "ghost", nil)
	require.NoError(t, err)
}

func TestHandleWebhook_UnhandledEventIgnored(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})

	err := f.svc.HandleWebhook(context.Background(), "transfer.success", result.PaymentReference, nil)
	require.NoError(t, err)
	assert.Len(t, f.pending.byID, 1, "pending order untouched")
}

func TestHandleWebhook_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})

	require.NoError(t, f.svc.HandleWebhook(context.Background(), EventChargeSuccess, result.PaymentReference, nil))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), EventChargeSuccess, result.PaymentReference, nil))

	assert.Len(t, f.orders.byID, 1)
}

func TestCancelPendingOrder(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 2})

	err := f.svc.CancelPendingOrder(context.Background(), result.PendingOrderID, "buyer", "u1", false)
	require.NoError(t, err)

	assert.Equal(t, 5, f.products.stock["p1"])
	assert.Empty(t, f.pending.byID)
	assert.Equal(t, payment.StatusFailed, f.payments.byRef[result.PaymentReference].Status)

	require.Len(t, f.orders.history, 1)
	assert.Equal(t, StatusCancelled, f.orders.history[0].To)
}

func TestCancelPendingOrder_OwnershipEnforced(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})

	err := f.svc.CancelPendingOrder(context.Background(), result.PendingOrderID, "intruder", "u2", false)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.pending.byID, 1)
}

func TestCancelPendingOrder_WinsOverPromotion(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 2})

	// The cancellation runs to completion while the webhook promotion is
	// in flight. The cancel claims the pending row, so the promotion must
	// back off without creating an order or re-reserving stock.
	f.orders.onPromote = func() {
		require.NoError(t, f.svc.CancelPendingOrder(context.Background(), result.PendingOrderID, "buyer", "u1", false))
	}

	err := f.svc.HandleWebhook(context.Background(), EventChargeSuccess, result.PaymentReference, []byte(`{}`))
	require.NoError(t, err, "a too-late promotion is a silent no-op")

	assert.Empty(t, f.orders.byID, "no order after losing the claim")
	assert.Empty(t, f.pending.byID)
	assert.Equal(t, 5, f.products.stock["p1"], "reservation restored exactly once")
	assert.Equal(t, 2, f.products.released["p1"])
	assert.Equal(t, payment.StatusFailed, f.payments.byRef[result.PaymentReference].Status)
}

func TestCancelPendingOrder_LosesToPromotion(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 2})

	require.NoError(t, f.svc.HandleWebhook(context.Background(), EventChargeSuccess, result.PaymentReference, nil))

	err := f.svc.CancelPendingOrder(context.Background(), result.PendingOrderID, "buyer", "u1", false)
	require.ErrorIs(t, err, ErrNotFound)

	// The sale stands: stock stays consumed by the promoted order.
	assert.Equal(t, 3, f.products.stock["p1"])
	assert.Zero(t, f.products.released["p1"])
	assert.Len(t, f.orders.byID, 1)
	assert.Equal(t, payment.StatusSuccess, f.payments.byRef[result.PaymentReference].Status)
}

func TestHandleWebhook_DuplicateFailureReleasesOnce(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 2})
	ctx := context.Background()

	require.NoError(t, f.svc.HandleWebhook(ctx, EventChargeFailed, result.PaymentReference, nil))
	require.NoError(t, f.svc.HandleWebhook(ctx, EventChargeFailed, result.PaymentReference, nil))

	assert.Equal(t, 5, f.products.stock["p1"], "no oversell from a replayed failure")
	assert.Equal(t, 2, f.products.released["p1"])
}

func TestCancelOrder_ReleasesStock(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 3))
	f.orders.byID["o1"] = &Order{
		ID:     "o1",
		UserID: "u1",
		Status: StatusPaid,
		Items:  []Item{{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(10)}},
	}

	err := f.svc.CancelOrder(context.Background(), "o1", "buyer", "u1", false)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, f.orders.byID["o1"].Status)
	assert.Equal(t, 2, f.products.released["p1"])
}

func TestCancelOrder_TerminalState(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &Order{ID: "o1", UserID: "u1", Status: StatusDelivered}

	err := f.svc.CancelOrder(context.Background(), "o1", "buyer", "u1", false)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusDelivered, stateErr.Status)
}

func TestUpdateOrderStatus_WalksTheGraph(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &Order{ID: "o1", UserID: "u1", Status: StatusPaid}
	ctx := context.Background()

	require.NoError(t, f.svc.UpdateOrderStatus(ctx, "o1", StatusProcessing, "ops"))
	require.NoError(t, f.svc.UpdateOrderStatus(ctx, "o1", StatusShipped, "ops"))
	require.NoError(t, f.svc.UpdateOrderStatus(ctx, "o1", StatusDelivered, "ops"))

	assert.Equal(t, StatusDelivered, f.orders.byID["o1"].Status)
	assert.Len(t, f.orders.history, 3)
}

func TestUpdateOrderStatus_RejectsSkips(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &Order{ID: "o1", Status: StatusPaid}

	err := f.svc.UpdateOrderStatus(context.Background(), "o1", StatusDelivered, "ops")

	var transErr *InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, StatusPaid, transErr.From)
	assert.Equal(t, StatusDelivered, transErr.To)
}

func TestUpdateOrderStatus_InvalidStatus(t *testing.T) {
	f := newFixture()

	err := f.svc.UpdateOrderStatus(context.Background(), "o1", Status("bogus"), "ops")

	var transErr *InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
}

func TestExpirePending_SweepsAndReleases(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 2})
	f.pending.expired = []PendingOrder{*f.pending.byID[result.PendingOrderID]}

	swept, err := f.svc.ExpirePending(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	assert.Equal(t, 5, f.products.stock["p1"])
	assert.Empty(t, f.pending.byID)
	assert.Equal(t, payment.StatusFailed, f.payments.byRef[result.PaymentReference].Status)
}

func TestExpirePending_SkipsPromotedReferences(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})
	f.pending.expired = []PendingOrder{*f.pending.byID[result.PendingOrderID]}

	// The reference was finalized between the expiry listing and the sweep.
	f.orders.byID["o1"] = &Order{ID: "o1", Status: StatusPaid, PaymentReference: result.PaymentReference}

	swept, err := f.svc.ExpirePending(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, swept)
	assert.Len(t, f.pending.byID, 1, "promoted pending order left for the repository to consume")
}

func TestGetOrder_Ownership(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &Order{ID: "o1", UserID: "u1", Status: StatusPaid}
	ctx := context.Background()

	_, err := f.svc.GetOrder(ctx, "o1", "u1", false)
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, "o1", "u2", false)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.GetOrder(ctx, "o1", "u2", true)
	require.NoError(t, err, "admins see every order")
}

func TestPaymentStatus(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})
	ctx := context.Background()

	status, err := f.svc.PaymentStatus(ctx, result.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusInitialized, status.Status)
	assert.Empty(t, status.OrderNumber)

	f.gateway.verify = &payment.VerifyResult{Reference: result.PaymentReference, Status: payment.StatusSuccess}
	_, err = f.svc.VerifyPayment(ctx, result.PaymentReference)
	require.NoError(t, err)

	status, err = f.svc.PaymentStatus(ctx, result.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, status.Status)
	assert.NotEmpty(t, status.OrderNumber)
}

func TestInvoiceFailureDoesNotFailPayment(t *testing.T) {
	f := newFixture(testProduct("p1", "10.00", 5))
	result := f.createPending(t, CartItem{ProductID: "p1", Quantity: 1})
	f.gateway.verify = &payment.VerifyResult{Reference: result.PaymentReference, Status: payment.StatusSuccess}
	f.invoices.err = errors.New("renderer down")

	final, err := f.svc.VerifyPayment(context.Background(), result.PaymentReference)
	require.NoError(t, err, "payment success is durable even when invoicing fails")
	assert.NotEmpty(t, final.OrderNumber)
	assert.Empty(t, final.InvoiceNumber)

	// Next verification retries invoice generation.
	f.invoices.err = nil
	final, err = f.svc.VerifyPayment(context.Background(), result.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", final.InvoiceNumber)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
