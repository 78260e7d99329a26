// Package invoice implements idempotent invoice issuance for paid orders.
// PDF/PNG rendering and blob storage stay behind the Renderer interface.
package invoice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	domain "github.com/olamide-dev/orderflow/internal/domain/invoice"
)

// Artifact holds the rendered invoice locations returned by a Renderer.
type Artifact struct {
	PDFURL   string
	ImageURL string
}

// Renderer produces and stores the visual invoice artifacts. Implementations
// call an external rendering service; rendering internals are out of scope
// for the lifecycle.
type Renderer interface {
	Render(ctx context.Context, invoiceNumber, orderNumber, qrPayload string) (*Artifact, error)
}

var _ domain.Generator = (*Generator)(nil)

// Generator allocates invoice numbers and persists invoices exactly once per
// order. Re-requesting an invoice returns the existing artifact.
type Generator struct {
	invoices domain.Repository
	renderer Renderer
	// verifyURL is the base the QR payload points at so a scanned invoice
	// resolves to the order's verification page.
	verifyURL string
}

// NewGenerator wires the Generator with its repository and renderer.
func NewGenerator(invoices domain.Repository, renderer Renderer, verifyURL string) *Generator {
	return &Generator{invoices: invoices, renderer: renderer, verifyURL: verifyURL}
}

// Ensure returns the order's invoice, generating it on first call. The
// invoices table holds a unique key on order ID, so a concurrent duplicate
// insert resolves to a re-read of the winner's row.
func (g *Generator) Ensure(ctx context.Context, orderID, orderNumber string) (*domain.Invoice, error) {
	existing, err := g.invoices.GetByOrderID(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, errors.Wrap(err, "lookup invoice")
	}

	number, err := newInvoiceNumber(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	qr := fmt.Sprintf("%s?invoice=%s&order=%s", g.verifyURL, number, orderNumber)

	artifact, err := g.renderer.Render(ctx, number, orderNumber, qr)
	if err != nil {
		return nil, errors.Wrap(err, "render invoice")
	}

	inv := &domain.Invoice{
		Number:    number,
		OrderID:   orderID,
		PDFURL:    artifact.PDFURL,
		ImageURL:  artifact.ImageURL,
		QRPayload: qr,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.invoices.Create(ctx, inv); err != nil {
		// A concurrent Ensure may have won; return its invoice.
		if winner, gerr := g.invoices.GetByOrderID(ctx, orderID); gerr == nil {
			return winner, nil
		}
		return nil, errors.Wrap(err, "persist invoice")
	}
	return inv, nil
}

func newInvoiceNumber(now time.Time) (string, error) {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", errors.Wrap(err, "invoice number entropy")
	}
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), hex.EncodeToString(suffix)), nil
}
