package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/olamide-dev/orderflow/internal/domain/product"
)

type productResponse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
	ImageURL string          `json:"imageUrl,omitempty"`
}

// listProducts returns the catalog with selling prices (base price plus the
// configured markup) and absolute image URLs.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ranges, err := h.products.PricingRanges(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = productResponse{
			ID:       p.ID,
			Name:     p.Name,
			Price:    product.MarkupFor(ranges, p.Price),
			Category: p.Category,
			Stock:    p.Stock,
			ImageURL: h.imageURL(p.ImageURL),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) imageURL(path string) string {
	if path == "" || h.cfg.ImageBaseURL == "" {
		return path
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(h.cfg.ImageBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
