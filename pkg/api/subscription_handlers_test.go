package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fursona/pkg/billing"
)

func TestPlans(t *testing.T) {
	t.Run("stripe enabled", func(t *testing.T) {
		srv := newTestServer(t, Dependencies{Checkout: &mockCheckout{enabled: true}})
		rec := srv.do(t, http.MethodGet, "/api/subscription/plans", nil, false)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["stripeEnabled"])

		plans := body["plans"].([]interface{})
		require.Len(t, plans, 3)
		pro := plans[2].(map[string]interface{})
		assert.Equal(t, "pro", pro["id"])
		assert.Equal(t, float64(-1), pro["generations"])
		assert.Equal(t, "price_pro", pro["priceId"])
	})

	t.Run("stripe disabled", func(t *testing.T) {
		srv := newTestServer(t, Dependencies{
			Catalog: billing.DefaultCatalog("", "", false),
		})
		rec := srv.do(t, http.MethodGet, "/api/subscription/plans", nil, false)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["stripeEnabled"])
		plans := body["plans"].([]interface{})
		require.Len(t, plans, 1)
		assert.Equal(t, "free", plans[0].(map[string]interface{})["id"])
	})
}

func TestCreateCheckout(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "created", wantStatus: http.StatusOK},
		{name: "unknown plan", err: billing.ErrUnknownPlan, wantStatus: http.StatusBadRequest, wantError: billing.ErrUnknownPlan.Error()},
		{name: "price mismatch", err: billing.ErrPriceMismatch, wantStatus: http.StatusBadRequest, wantError: billing.ErrPriceMismatch.Error()},
		{
			name:       "provider failure",
			err:        &billing.PaymentProviderError{Op: "checkout", Err: errors.New("card_declined")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to create checkout session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkout := &mockCheckout{
				enabled: true,
				checkoutFunc: func(ctx context.Context, userID int64, email string, plan billing.PlanType, priceID string) (*billing.CheckoutSession, error) {
					assert.Equal(t, int64(testUserID), userID)
					assert.Equal(t, "fox@example.com", email)
					assert.Equal(t, billing.PlanBasic, plan)
					assert.Equal(t, "price_basic", priceID)
					if tt.err != nil {
						return nil, tt.err
					}
					return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
				},
			}
			srv := newTestServer(t, Dependencies{Checkout: checkout})

			rec := srv.do(t, http.MethodPost, "/api/subscription/create-checkout", map[string]string{
				"priceId":  "price_basic",
				"planType": "basic",
			}, true)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, "cs_1", body["sessionId"])
			assert.Equal(t, "https://checkout.example/cs_1", body["url"])
		})
	}
}

func TestCreateCheckout_Validation(t *testing.T) {
	srv := newTestServer(t, Dependencies{Checkout: &mockCheckout{enabled: true}})

	rec := srv.do(t, http.MethodPost, "/api/subscription/create-checkout", map[string]string{"planType": "basic"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/subscription/create-checkout", map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "planType is required", decode(t, rec)["error"])
}

func TestStripeDisabledRoutes(t *testing.T) {
	for _, checkout := range []CheckoutService{nil, &mockCheckout{enabled: false}} {
		srv := newTestServer(t, Dependencies{Checkout: checkout})

		for _, path := range []string{"/api/subscription/create-checkout", "/api/subscription/create-portal"} {
			rec := srv.do(t, http.MethodPost, path, map[string]string{"planType": "basic"}, true)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
			assert.Equal(t, false, decode(t, rec)["stripeEnabled"], path)
		}
	}

	srv := newTestServer(t, Dependencies{})
	rec := srv.do(t, http.MethodPost, "/api/webhook/stripe", map[string]string{}, false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreatePortal(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "created", wantStatus: http.StatusOK},
		{name: "no customer", err: billing.ErrNoCustomer, wantStatus: http.StatusBadRequest, wantError: "No subscription found"},
		{
			name:       "provider failure",
			err:        &billing.PaymentProviderError{Op: "portal", Err: errors.New("timeout")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to create portal session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkout := &mockCheckout{
				enabled: true,
				portalFunc: func(ctx context.Context, userID int64) (string, error) {
					if tt.err != nil {
						return "", tt.err
					}
					return "https://billing.example/session", nil
				},
			}
			srv := newTestServer(t, Dependencies{Checkout: checkout})

			rec := srv.do(t, http.MethodPost, "/api/subscription/create-portal", nil, true)
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, "https://billing.example/session", body["url"])
		})
	}
}

func TestCurrentSubscription(t *testing.T) {
	found := true
	subs := &mockSubscriptions{
		getFunc: func(ctx context.Context, userID int64) (*billing.Subscription, error) {
			if !found {
				return nil, &billing.NoSubscriptionError{UserID: userID}
			}
			return &billing.Subscription{UserID: userID, PlanType: billing.PlanBasic, GenerationsLimit: 50}, nil
		},
	}
	srv := newTestServer(t, Dependencies{Subscriptions: subs})

	rec := srv.do(t, http.MethodGet, "/api/subscription/current", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	sub := decode(t, rec)["subscription"].(map[string]interface{})
	assert.Equal(t, "basic", sub["plan_type"])
	assert.Equal(t, float64(50), sub["generations_limit"])

	found = false
	rec = srv.do(t, http.MethodGet, "/api/subscription/current", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Subscription not found", decode(t, rec)["error"])
}

func TestPayments(t *testing.T) {
	subs := &mockSubscriptions{
		paymentsFunc: func(ctx context.Context, userID int64, limit int) ([]*billing.Payment, error) {
			assert.Equal(t, defaultPaymentsLimit, limit)
			return []*billing.Payment{{ID: 1, Amount: 999, Currency: "usd", Status: "succeeded"}}, nil
		},
	}
	srv := newTestServer(t, Dependencies{Subscriptions: subs})

	rec := srv.do(t, http.MethodGet, "/api/subscription/payments", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	payments := decode(t, rec)["payments"].([]interface{})
	require.Len(t, payments, 1)
	assert.Equal(t, float64(999), payments[0].(map[string]interface{})["amount"])
}
