package httpapi

import (
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/olamide-dev/orderflow/internal/paystack"
)

// maxWebhookBody bounds gateway payload size.
const maxWebhookBody = 1 << 20

// handleWebhook accepts asynchronous gateway notifications. Authenticity is
// established by the body signature alone. Signature failures and malformed
// payloads are answered with 200 and logged: surfacing verification details
// to the sender would leak information to attackers, and a non-2xx would
// only make the gateway redeliver a payload we will never accept.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		lg.Warn("webhook body read failed", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if !h.verifier.VerifySignature(body, r.Header.Get(paystack.SignatureHeader)) {
		lg.Warn("webhook signature verification failed")
		w.WriteHeader(http.StatusOK)
		return
	}

	event, err := paystack.ParseEvent(body)
	if err != nil {
		lg.Warn("webhook payload rejected", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.service.HandleWebhook(r.Context(), event.Type, event.Reference, body); err != nil {
		// Transient processing failure: ask the gateway to redeliver.
		lg.Error("webhook processing failed",
			zap.String("event", event.Type),
			zap.String("reference", event.Reference),
			zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
