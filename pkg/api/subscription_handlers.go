package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/httputil"
	"github.com/platinummonkey/fursona/pkg/middleware"
)

const defaultPaymentsLimit = 50

// SubscriptionHandlers serves plans, checkout and the customer portal
type SubscriptionHandlers struct {
	subscriptions SubscriptionReader
	checkout      CheckoutService
	catalog       billing.CatalogSource
	users         AuthService
	authMW        *middleware.AuthMiddleware
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers
func NewSubscriptionHandlers(subscriptions SubscriptionReader, checkout CheckoutService, catalog billing.CatalogSource, users AuthService, authMW *middleware.AuthMiddleware) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		subscriptions: subscriptions,
		checkout:      checkout,
		catalog:       catalog,
		users:         users,
		authMW:        authMW,
	}
}

// RegisterRoutes registers subscription routes
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subscription/plans", h.plans).Methods(http.MethodGet)
	router.Handle("/subscription/create-checkout", h.authMW.Handler(http.HandlerFunc(h.createCheckout))).Methods(http.MethodPost)
	router.Handle("/subscription/create-portal", h.authMW.Handler(http.HandlerFunc(h.createPortal))).Methods(http.MethodPost)
	router.Handle("/subscription/current", h.authMW.Handler(http.HandlerFunc(h.current))).Methods(http.MethodGet)
	router.Handle("/subscription/payments", h.authMW.Handler(http.HandlerFunc(h.payments))).Methods(http.MethodGet)
}

func (h *SubscriptionHandlers) enabled() bool {
	return h.checkout != nil && h.checkout.Enabled()
}

// plans handles GET /api/subscription/plans
func (h *SubscriptionHandlers) plans(w http.ResponseWriter, r *http.Request) {
	catalog := h.catalog.Current()
	httputil.WriteSuccess(w, map[string]interface{}{
		"plans":         catalog.Public(),
		"stripeEnabled": h.enabled() && catalog.PaidEnabled(),
	})
}

type checkoutRequest struct {
	PriceID  string           `json:"priceId"`
	PlanType billing.PlanType `json:"planType"`
}

// createCheckout handles POST /api/subscription/create-checkout
func (h *SubscriptionHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	if !h.enabled() {
		writeStripeDisabled(w, "Stripe is not configured. Paid subscriptions are not available.")
		return
	}

	var req checkoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, string(req.PlanType), "planType") {
		return
	}

	claims := middleware.GetClaims(r)
	email := claims.Email
	if email == "" {
		user, err := h.users.GetUser(r.Context(), claims.ID)
		if err != nil {
			httputil.WriteInternalError(w, r, "Failed to create checkout session", err)
			return
		}
		email = user.Email
	}

	session, err := h.checkout.CreateCheckout(r.Context(), claims.ID, email, req.PlanType, req.PriceID)
	if err != nil {
		writeBillingError(w, r, err, "Failed to create checkout session")
		return
	}
	httputil.WriteSuccess(w, session)
}

// createPortal handles POST /api/subscription/create-portal
func (h *SubscriptionHandlers) createPortal(w http.ResponseWriter, r *http.Request) {
	if !h.enabled() {
		writeStripeDisabled(w, "Stripe is not configured. Subscription management is not available.")
		return
	}

	userID, _ := middleware.UserID(r)
	url, err := h.checkout.CreatePortal(r.Context(), userID)
	if err != nil {
		writeBillingError(w, r, err, "Failed to create portal session")
		return
	}
	httputil.WriteSuccess(w, map[string]string{"url": url})
}

// current handles GET /api/subscription/current
func (h *SubscriptionHandlers) current(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	sub, err := h.subscriptions.GetByUserID(r.Context(), userID)
	if err != nil {
		var noSub *billing.NoSubscriptionError
		if errors.As(err, &noSub) {
			httputil.WriteNotFound(w, "Subscription not found")
			return
		}
		httputil.WriteInternalError(w, r, "Failed to get subscription", err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"subscription": sub})
}

// payments handles GET /api/subscription/payments
func (h *SubscriptionHandlers) payments(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultPaymentsLimit, 1, 200)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	userID, _ := middleware.UserID(r)
	payments, err := h.subscriptions.ListPayments(r.Context(), userID, limit)
	if err != nil {
		httputil.WriteInternalError(w, r, "Failed to get payments", err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"payments": payments})
}
