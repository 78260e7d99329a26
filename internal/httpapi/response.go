package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/olamide-dev/orderflow/internal/domain/auth"
	"github.com/olamide-dev/orderflow/internal/domain/order"
	"github.com/olamide-dev/orderflow/internal/domain/payment"
	"github.com/olamide-dev/orderflow/internal/domain/product"
)

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Code: status, Message: message})
}

// writeDomainError maps lifecycle errors to transport responses. Validation
// and state-machine errors carry enough detail for the caller to correct the
// request; gateway errors are logged with context and surfaced as generic
// retryable failures.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidQty *order.InvalidQuantityError
		noStock    *product.InsufficientStockError
		initErr    *order.PaymentInitError
		payFailed  *order.PaymentFailedError
		badTransit *order.InvalidTransitionError
		badState   *order.InvalidStateError
	)

	switch {
	case errors.Is(err, order.ErrEmptyItems),
		errors.As(err, &invalidQty),
		errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.As(err, &noStock):
		writeError(w, http.StatusConflict, noStock.Error())

	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")

	case errors.As(err, &initErr):
		zctx.From(r.Context()).Error("payment initialization failed",
			zap.String("reference", initErr.Reference), zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment initialization failed, try again")

	case errors.Is(err, payment.ErrGatewayUnavailable):
		zctx.From(r.Context()).Error("payment gateway unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "payment gateway unavailable, retry later")

	case errors.Is(err, order.ErrPaymentPending):
		writeError(w, http.StatusConflict, "payment not yet confirmed, retry later")

	case errors.As(err, &payFailed):
		writeError(w, http.StatusPaymentRequired, "payment failed")

	case errors.As(err, &badTransit), errors.As(err, &badState):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")

	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
