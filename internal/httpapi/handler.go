// Package httpapi exposes the order lifecycle over HTTP, mapping domain
// errors to transport responses and enforcing API-key scopes.
package httpapi

import (
	"net/http"

	"github.com/olamide-dev/orderflow/internal/domain/auth"
	"github.com/olamide-dev/orderflow/internal/domain/order"
	"github.com/olamide-dev/orderflow/internal/domain/product"
)

// WebhookVerifier authenticates a raw webhook body against its signature.
type WebhookVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative product image paths. When empty,
	// paths are returned as stored.
	ImageBaseURL string
}

// Handler wires HTTP routes to the lifecycle service.
type Handler struct {
	service  *order.Service
	products product.Repository
	security *security
	verifier WebhookVerifier
	cfg      Config
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(
	cfg Config,
	service *order.Service,
	products product.Repository,
	apikeys auth.Repository,
	verifier WebhookVerifier,
	pepper []byte,
) *Handler {
	return &Handler{
		service:  service,
		products: products,
		security: newSecurity(apikeys, pepper),
		verifier: verifier,
		cfg:      cfg,
	}
}

// Register attaches all API routes to the mux. Method-qualified patterns
// (Go 1.22 ServeMux) give literal segments priority over wildcards, so the
// pending/admin routes never shadow the order-detail route.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)

	mux.HandleFunc("POST /api/orders", h.secure(auth.ScopeOrders, h.createPendingOrder))
	mux.HandleFunc("POST /api/orders/verify-payment", h.secure(auth.ScopeOrders, h.verifyPayment))
	mux.HandleFunc("GET /api/orders/payment-status", h.secure(auth.ScopeOrders, h.paymentStatus))
	mux.HandleFunc("GET /api/orders", h.secure(auth.ScopeOrders, h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.secure(auth.ScopeOrders, h.getOrder))
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.secure(auth.ScopeOrders, h.cancelOrder))
	mux.HandleFunc("GET /api/orders/pending/{id}", h.secure(auth.ScopeOrders, h.getPendingOrder))
	mux.HandleFunc("POST /api/orders/pending/{id}/cancel", h.secure(auth.ScopeOrders, h.cancelPendingOrder))

	mux.HandleFunc("PUT /api/orders/{id}/status", h.secure(auth.ScopeAdmin, h.updateOrderStatus))
	mux.HandleFunc("GET /api/orders/admin/stats", h.secure(auth.ScopeAdmin, h.adminStats))

	// Authenticated by body signature, not API key.
	mux.HandleFunc("POST /api/webhook/paystack", h.handleWebhook)
}
