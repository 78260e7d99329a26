package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/olamide-dev/orderflow/internal/domain/order"
)

type updateStatusRequest struct {
	Status order.Status `json:"status"`
}

type statsResponse struct {
	OrdersByStatus map[order.Status]int64 `json:"ordersByStatus"`
	TotalRevenue   decimal.Decimal        `json:"totalRevenue"`
	PendingOrders  int64                  `json:"pendingOrders"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status required")
		return
	}

	caller := callerFromContext(r.Context())
	if err := h.service.UpdateOrderStatus(r.Context(), r.PathValue("id"), req.Status, actorName(caller)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		OrdersByStatus: stats.OrdersByStatus,
		TotalRevenue:   stats.TotalRevenue,
		PendingOrders:  stats.PendingOrders,
	})
}
