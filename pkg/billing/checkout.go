package billing

import (
	"context"
	"errors"

	"github.com/platinummonkey/fursona/pkg/observability"
)

// PaymentProvider is the outbound payment provider surface
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, email string, userID int64) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutParams) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// CustomerStore is the subset of PostgresStore checkout needs
type CustomerStore interface {
	GetByUserID(ctx context.Context, userID int64) (*Subscription, error)
	AttachCustomer(ctx context.Context, userID int64, customerID string) (string, error)
}

// CheckoutService starts checkout and billing-portal flows. A nil provider
// means paid plans are disabled.
type CheckoutService struct {
	store       CustomerStore
	provider    PaymentProvider
	catalog     CatalogSource
	frontendURL string
	metrics     *observability.Metrics
}

// NewCheckoutService creates a new CheckoutService
func NewCheckoutService(store CustomerStore, provider PaymentProvider, catalog CatalogSource, frontendURL string, metrics *observability.Metrics) *CheckoutService {
	return &CheckoutService{
		store:       store,
		provider:    provider,
		catalog:     catalog,
		frontendURL: frontendURL,
		metrics:     metrics,
	}
}

// Enabled reports whether paid plans can be purchased
func (s *CheckoutService) Enabled() bool {
	return s.provider != nil && s.catalog.Current().PaidEnabled()
}

// CreateCheckout starts a checkout for plan. The price is resolved from the
// catalog; a non-empty priceID from the client must agree with it.
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID int64, email string, plan PlanType, priceID string) (*CheckoutSession, error) {
	if !s.Enabled() {
		return nil, ErrStripeDisabled
	}

	resolved, err := s.catalog.Current().PriceFor(plan)
	if err != nil {
		return nil, err
	}
	if priceID != "" && priceID != resolved {
		return nil, ErrPriceMismatch
	}

	customerID, err := s.ensureCustomer(ctx, userID, email)
	if err != nil {
		s.count("checkout", "error")
		return nil, err
	}

	session, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    resolved,
		Plan:       plan,
		UserID:     userID,
		SuccessURL: s.frontendURL + "/subscription/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.frontendURL + "/subscription/cancel",
	})
	if err != nil {
		s.count("checkout", "error")
		return nil, err
	}
	s.count("checkout", "created")
	return session, nil
}

// CreatePortal opens the billing portal for a user who has a customer id
func (s *CheckoutService) CreatePortal(ctx context.Context, userID int64) (string, error) {
	if !s.Enabled() {
		return "", ErrStripeDisabled
	}

	sub, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.StripeCustomerID == nil || *sub.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}

	url, err := s.provider.CreatePortalSession(ctx, *sub.StripeCustomerID, s.frontendURL+"/dashboard")
	if err != nil {
		s.count("portal", "error")
		return "", err
	}
	s.count("portal", "created")
	return url, nil
}

// ensureCustomer returns the user's customer id, creating one on first use.
// If two checkouts race, the first stored id wins and the other customer is
// left unused at the provider.
func (s *CheckoutService) ensureCustomer(ctx context.Context, userID int64, email string) (string, error) {
	sub, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.StripeCustomerID != nil && *sub.StripeCustomerID != "" {
		return *sub.StripeCustomerID, nil
	}

	created, err := s.provider.CreateCustomer(ctx, email, userID)
	if err != nil {
		return "", err
	}

	stored, err := s.store.AttachCustomer(ctx, userID, created)
	if err != nil {
		return "", err
	}
	if stored != created {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"created": created,
			"stored":  stored,
		}).Warn("Concurrent checkout created a second customer")
	}
	return stored, nil
}

// IsClientError reports whether err is caused by the request rather than by
// infrastructure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownPlan) || errors.Is(err, ErrPriceMismatch) || errors.Is(err, ErrNoCustomer)
}

func (s *CheckoutService) count(kind, status string) {
	if s.metrics != nil {
		s.metrics.CheckoutSessionsTotal.WithLabelValues(kind, status).Inc()
	}
}
