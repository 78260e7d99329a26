package invoice

import (
	"context"
	"fmt"
	"strings"
)

var _ Renderer = (*StaticRenderer)(nil)

// StaticRenderer composes artifact URLs under a media base URL without
// calling out. The media service renders the PDF/PNG on first fetch, so
// issuing an invoice never blocks on rendering.
type StaticRenderer struct {
	BaseURL string
}

// Render returns the deterministic artifact locations for an invoice number.
func (r StaticRenderer) Render(_ context.Context, invoiceNumber, _, _ string) (*Artifact, error) {
	base := strings.TrimSuffix(r.BaseURL, "/")
	return &Artifact{
		PDFURL:   fmt.Sprintf("%s/invoices/%s.pdf", base, invoiceNumber),
		ImageURL: fmt.Sprintf("%s/invoices/%s.png", base, invoiceNumber),
	}, nil
}
