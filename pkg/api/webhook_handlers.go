package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/httputil"
	"github.com/platinummonkey/fursona/pkg/observability"
)

// maxWebhookBytes bounds a single event delivery. Invoices with many line
// items run to a few hundred kilobytes.
const maxWebhookBytes = 512 << 10

// WebhookHandlers receives payment provider events
type WebhookHandlers struct {
	processor WebhookProcessor
}

// NewWebhookHandlers creates a new WebhookHandlers. A nil processor answers
// every delivery with 503.
func NewWebhookHandlers(processor WebhookProcessor) *WebhookHandlers {
	return &WebhookHandlers{processor: processor}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhook/stripe", h.stripe).Methods(http.MethodPost)
}

// stripe handles POST /api/webhook/stripe. The body is read raw because the
// signature covers the exact bytes.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	if h.processor == nil {
		writeStripeDisabled(w, "Stripe is not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "Webhook Error: could not read body")
		return
	}

	err = h.processor.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var sigErr *billing.SignatureVerificationError
		if errors.As(err, &sigErr) {
			observability.FromContext(r.Context()).WithError(err).Warn("webhook rejected")
			httputil.WriteBadRequest(w, "Webhook Error: "+sigErr.Reason)
			return
		}
		httputil.WriteInternalError(w, r, "Webhook processing failed", err)
		return
	}

	httputil.WriteSuccess(w, map[string]bool{"received": true})
}
