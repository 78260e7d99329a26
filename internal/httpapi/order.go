package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/olamide-dev/orderflow/internal/domain/auth"
	"github.com/olamide-dev/orderflow/internal/domain/order"
)

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Email           string            `json:"email"`
	DeliveryAddress string            `json:"deliveryAddress"`
	Items           []cartItemRequest `json:"items"`
}

type createOrderResponse struct {
	PendingOrderID   string          `json:"pendingOrderId"`
	PaymentReference string          `json:"paymentReference"`
	AuthorizationURL string          `json:"authorizationUrl"`
	Total            decimal.Decimal `json:"total"`
	ExpiresAt        time.Time       `json:"expiresAt"`
}

type orderItemResponse struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	OrderNumber      string              `json:"orderNumber"`
	Status           order.Status        `json:"status"`
	Total            decimal.Decimal     `json:"total"`
	PaymentReference string              `json:"paymentReference"`
	InvoiceNumber    string              `json:"invoiceNumber,omitempty"`
	DeliveryAddress  string              `json:"deliveryAddress"`
	Items            []orderItemResponse `json:"items"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

type pendingOrderResponse struct {
	ID               string              `json:"id"`
	PaymentReference string              `json:"paymentReference"`
	Total            decimal.Decimal     `json:"total"`
	DeliveryAddress  string              `json:"deliveryAddress"`
	Items            []orderItemResponse `json:"items"`
	CreatedAt        time.Time           `json:"createdAt"`
	ExpiresAt        time.Time           `json:"expiresAt"`
}

type verifyPaymentRequest struct {
	Reference string `json:"reference"`
}

type verifyPaymentResponse struct {
	OrderNumber   string `json:"orderNumber"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	PDFURL        string `json:"pdfUrl,omitempty"`
	ImageURL      string `json:"imageUrl,omitempty"`
}

func (h *Handler) createPendingOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller := callerFromContext(r.Context())
	items := make([]order.CartItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.CartItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	result, err := h.service.CreatePendingOrder(r.Context(), order.CreateRequest{
		UserID:          caller.ID,
		Email:           req.Email,
		DeliveryAddress: req.DeliveryAddress,
		Items:           items,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		PendingOrderID:   result.PendingOrderID,
		PaymentReference: result.PaymentReference,
		AuthorizationURL: result.AuthorizationURL,
		Total:            result.Total,
		ExpiresAt:        result.ExpiresAt,
	})
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
		writeError(w, http.StatusBadRequest, "reference required")
		return
	}

	result, err := h.service.VerifyPayment(r.Context(), req.Reference)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyPaymentResponse{
		OrderNumber:   result.OrderNumber,
		InvoiceNumber: result.InvoiceNumber,
		PDFURL:        result.PDFURL,
		ImageURL:      result.ImageURL,
	})
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		writeError(w, http.StatusBadRequest, "reference required")
		return
	}

	result, err := h.service.PaymentStatus(r.Context(), reference)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference":   result.Reference,
		"status":      result.Status,
		"orderNumber": result.OrderNumber,
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	orders, err := h.service.ListOrders(r.Context(), caller.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	o, err := h.service.GetOrder(r.Context(), r.PathValue("id"), caller.ID, caller.HasScope(auth.ScopeAdmin))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	err := h.service.CancelOrder(r.Context(), r.PathValue("id"),
		actorName(caller), caller.ID, caller.HasScope(auth.ScopeAdmin))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getPendingOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	p, err := h.service.GetPendingOrder(r.Context(), r.PathValue("id"), caller.ID, caller.HasScope(auth.ScopeAdmin))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingOrderResponse{
		ID:               p.ID,
		PaymentReference: p.PaymentReference,
		Total:            p.Total,
		DeliveryAddress:  p.DeliveryAddress,
		Items:            toItemResponses(p.Items),
		CreatedAt:        p.CreatedAt,
		ExpiresAt:        p.ExpiresAt,
	})
}

func (h *Handler) cancelPendingOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	err := h.service.CancelPendingOrder(r.Context(), r.PathValue("id"),
		actorName(caller), caller.ID, caller.HasScope(auth.ScopeAdmin))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		Status:           o.Status,
		Total:            o.Total,
		PaymentReference: o.PaymentReference,
		InvoiceNumber:    o.InvoiceNumber,
		DeliveryAddress:  o.DeliveryAddress,
		Items:            toItemResponses(o.Items),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toItemResponses(items []order.Item) []orderItemResponse {
	resp := make([]orderItemResponse, len(items))
	for i, it := range items {
		resp[i] = orderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return resp
}

func actorName(caller *auth.APIKeyInfo) string {
	if caller.Name != "" {
		return caller.Name
	}
	return caller.ID
}
