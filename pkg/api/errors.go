package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/httputil"
	"github.com/platinummonkey/fursona/pkg/observability"
	"github.com/platinummonkey/fursona/pkg/persona"
)

// writeGenerationError maps errors from the usage gate and the generator
func writeGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		noSub    *billing.NoSubscriptionError
		quota    *billing.QuotaExceededError
		genError *persona.GenerationError
	)

	switch {
	case errors.As(err, &noSub):
		httputil.WriteForbidden(w, "No subscription found")
	case errors.As(err, &quota):
		httputil.WriteErrorFields(w, http.StatusForbidden, "Generation limit reached", map[string]interface{}{
			"limit": quota.Limit,
			"used":  quota.Used,
			"plan":  quota.Plan,
		})
	case errors.As(err, &genError):
		observability.FromContext(r.Context()).WithError(err).
			WithField("provider", genError.Provider).
			Warn("fursona generation failed")
		httputil.WriteErrorFields(w, http.StatusInternalServerError, "Failed to generate fursona", map[string]interface{}{
			"details": genError.Detail,
		})
	case persona.IsClientError(err):
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteInternalError(w, r, "Failed to generate fursona", err)
	}
}

// writeBillingError maps errors from checkout and portal creation
func writeBillingError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		noSub    *billing.NoSubscriptionError
		provider *billing.PaymentProviderError
	)

	switch {
	case errors.Is(err, billing.ErrStripeDisabled):
		writeStripeDisabled(w, "Stripe is not configured. Paid subscriptions are not available.")
	case errors.Is(err, billing.ErrNoCustomer), errors.As(err, &noSub):
		httputil.WriteBadRequest(w, "No subscription found")
	case billing.IsClientError(err):
		httputil.WriteBadRequest(w, err.Error())
	case errors.As(err, &provider):
		observability.FromContext(r.Context()).WithError(err).
			WithField("op", provider.Op).
			Error(fallback)
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, fallback)
	default:
		httputil.WriteInternalError(w, r, fallback, err)
	}
}

func writeStripeDisabled(w http.ResponseWriter, message string) {
	httputil.WriteErrorFields(w, http.StatusServiceUnavailable, message, map[string]interface{}{
		"stripeEnabled": false,
	})
}
