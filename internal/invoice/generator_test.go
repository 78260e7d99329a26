package invoice

import (
	"context"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/olamide-dev/orderflow/internal/domain/invoice"
)

type memRepo struct {
	byOrder   map[string]*domain.Invoice
	createErr error
	// onCreateErr is stored under the order ID when Create fails, standing in
	// for a concurrent writer winning the unique-key race.
	onCreateErr *domain.Invoice
}

func newMemRepo() *memRepo {
	return &memRepo{byOrder: make(map[string]*domain.Invoice)}
}

func (m *memRepo) Create(_ context.Context, inv *domain.Invoice) error {
	if m.createErr != nil {
		if m.onCreateErr != nil {
			m.byOrder[m.onCreateErr.OrderID] = m.onCreateErr
		}
		return m.createErr
	}
	m.byOrder[inv.OrderID] = inv
	return nil
}

func (m *memRepo) GetByOrderID(_ context.Context, orderID string) (*domain.Invoice, error) {
	if inv, ok := m.byOrder[orderID]; ok {
		return inv, nil
	}
	return nil, domain.ErrNotFound
}

type countingRenderer struct {
	calls int
	err   error
}

func (r *countingRenderer) Render(_ context.Context, invoiceNumber, _, _ string) (*Artifact, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &Artifact{
		PDFURL:   "https://media.example.com/invoices/" + invoiceNumber + ".pdf",
		ImageURL: "https://media.example.com/invoices/" + invoiceNumber + ".png",
	}, nil
}

func TestEnsureGeneratesOnce(t *testing.T) {
	repo := newMemRepo()
	renderer := &countingRenderer{}
	g := NewGenerator(repo, renderer, "https://shop.example.com/verify")
	ctx := context.Background()

	first, err := g.Ensure(ctx, "o1", "ORD-20260831-AAAA1111")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.Number, "INV-"), first.Number)
	assert.Contains(t, first.PDFURL, first.Number)
	assert.Contains(t, first.QRPayload, "invoice="+first.Number)
	assert.Contains(t, first.QRPayload, "order=ORD-20260831-AAAA1111")

	second, err := g.Ensure(ctx, "o1", "ORD-20260831-AAAA1111")
	require.NoError(t, err)
	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, 1, renderer.calls, "rendering happens once per order")
}

func TestEnsureDistinctOrders(t *testing.T) {
	g := NewGenerator(newMemRepo(), &countingRenderer{}, "https://shop.example.com/verify")
	ctx := context.Background()

	a, err := g.Ensure(ctx, "o1", "ORD-1")
	require.NoError(t, err)
	b, err := g.Ensure(ctx, "o2", "ORD-2")
	require.NoError(t, err)

	assert.NotEqual(t, a.Number, b.Number)
}

func TestEnsureRendererFailure(t *testing.T) {
	repo := newMemRepo()
	g := NewGenerator(repo, &countingRenderer{err: errors.New("render service down")}, "v")

	_, err := g.Ensure(context.Background(), "o1", "ORD-1")
	require.Error(t, err)
	assert.Empty(t, repo.byOrder, "nothing persisted on render failure")
}

func TestEnsureLosesCreateRace(t *testing.T) {
	repo := newMemRepo()
	g := NewGenerator(repo, &countingRenderer{}, "v")

	// A concurrent Ensure wins the insert between our lookup and create: our
	// create hits the unique key and the re-read returns the winner's row.
	winner := &domain.Invoice{Number: "INV-20260831-aaaaaa", OrderID: "o1"}
	repo.createErr = errors.New("duplicate key")
	repo.onCreateErr = winner

	inv, err := g.Ensure(context.Background(), "o1", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, winner.Number, inv.Number)
}

func TestStaticRenderer(t *testing.T) {
	r := StaticRenderer{BaseURL: "https://media.example.com/"}

	a, err := r.Render(context.Background(), "INV-20260831-abc123", "ORD-1", "qr")
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/invoices/INV-20260831-abc123.pdf", a.PDFURL)
	assert.Equal(t, "https://media.example.com/invoices/INV-20260831-abc123.png", a.ImageURL)
}
