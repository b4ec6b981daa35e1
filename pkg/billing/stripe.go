package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/fursona/pkg/observability"
)

// StripeEventParser verifies Stripe-Signature headers and decodes the five
// event types the processor acts on. Other types decode to Ignored.
type StripeEventParser struct {
	secret string
}

// NewStripeEventParser creates a parser for the endpoint's signing secret
func NewStripeEventParser(secret string) *StripeEventParser {
	return &StripeEventParser{secret: secret}
}

// Parse verifies payload against signature before decoding anything
func (p *StripeEventParser) Parse(payload []byte, signature string) (Event, error) {
	if p.secret == "" {
		return nil, &SignatureVerificationError{Reason: "webhook secret not configured"}
	}
	if signature == "" {
		return nil, &SignatureVerificationError{Reason: "missing Stripe-Signature header"}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &SignatureVerificationError{Reason: "signature verification failed", Err: err}
	}
	if event.ID == "" || event.Data == nil {
		return nil, &SignatureVerificationError{Reason: "event has no id or data"}
	}

	switch string(event.Type) {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, malformed("checkout session", err)
		}
		return checkoutCompleted(event.ID, &session)

	case EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, malformed("subscription", err)
		}
		if sub.ID == "" {
			return nil, &SignatureVerificationError{Reason: "subscription has no id"}
		}
		updated := SubscriptionUpdated{
			ID:                event.ID,
			SubscriptionID:    sub.ID,
			Status:            SubscriptionStatus(sub.Status),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}
		if sub.CurrentPeriodEnd > 0 {
			updated.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
		return updated, nil

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, malformed("subscription", err)
		}
		if sub.ID == "" {
			return nil, &SignatureVerificationError{Reason: "subscription has no id"}
		}
		return SubscriptionDeleted{ID: event.ID, SubscriptionID: sub.ID}, nil

	case EventPaymentSucceeded:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, malformed("invoice", err)
		}
		if invoice.Customer == nil || invoice.Customer.ID == "" {
			return nil, &SignatureVerificationError{Reason: "invoice has no customer"}
		}
		paymentID := invoice.ID
		if invoice.PaymentIntent != nil && invoice.PaymentIntent.ID != "" {
			paymentID = invoice.PaymentIntent.ID
		}
		return PaymentSucceeded{
			ID:          event.ID,
			CustomerID:  invoice.Customer.ID,
			PaymentID:   paymentID,
			AmountCents: invoice.AmountPaid,
			Currency:    string(invoice.Currency),
		}, nil

	case EventPaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, malformed("invoice", err)
		}
		if invoice.Customer == nil || invoice.Customer.ID == "" {
			return nil, &SignatureVerificationError{Reason: "invoice has no customer"}
		}
		return PaymentFailed{ID: event.ID, CustomerID: invoice.Customer.ID}, nil
	}

	return Ignored{ID: event.ID, Type: string(event.Type)}, nil
}

func checkoutCompleted(eventID string, session *stripe.CheckoutSession) (Event, error) {
	userID, err := strconv.ParseInt(session.Metadata["userId"], 10, 64)
	if err != nil || userID <= 0 {
		return nil, &SignatureVerificationError{Reason: "checkout session has no valid userId metadata", Err: err}
	}
	plan := PlanType(session.Metadata["planType"])
	if !plan.Paid() {
		return nil, &SignatureVerificationError{Reason: "checkout session has no paid planType metadata"}
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return nil, &SignatureVerificationError{Reason: "checkout session has no subscription"}
	}

	event := CheckoutCompleted{
		ID:             eventID,
		UserID:         userID,
		Plan:           plan,
		SubscriptionID: session.Subscription.ID,
	}
	if session.Customer != nil {
		event.CustomerID = session.Customer.ID
	}
	return event, nil
}

func malformed(object string, err error) error {
	return &SignatureVerificationError{Reason: "malformed " + object, Err: err}
}

// CheckoutParams describes a subscription checkout to start
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	Plan       PlanType
	UserID     int64
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider's hosted checkout page
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// StripeProvider is the outbound half of the Stripe integration
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a client whose calls are bounded by timeout
func NewStripeProvider(secretKey string, timeout time.Duration) *StripeProvider {
	httpClient := &http.Client{Timeout: timeout}
	return newStripeProvider(client.New(secretKey, stripe.NewBackends(httpClient)))
}

func newStripeProvider(api *client.API) *StripeProvider {
	return &StripeProvider{api: api}
}

// CreateCustomer registers the user with Stripe and returns the customer id
func (p *StripeProvider) CreateCustomer(ctx context.Context, email string, userID int64) (id string, err error) {
	ctx, span := observability.StartSpan(ctx, "stripe.CreateCustomer", attribute.Int64("user.id", userID))
	defer func() { observability.EndSpan(span, err) }()

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("userId", strconv.FormatInt(userID, 10))

	customer, err := p.api.Customers.New(params)
	if err != nil {
		return "", &PaymentProviderError{Op: "create customer", Err: err}
	}
	return customer.ID, nil
}

// CreateCheckoutSession starts a card subscription checkout for one price
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutParams) (session *CheckoutSession, err error) {
	ctx, span := observability.StartSpan(ctx, "stripe.CreateCheckoutSession",
		attribute.Int64("user.id", req.UserID),
		attribute.String("billing.plan", string(req.Plan)),
	)
	defer func() { observability.EndSpan(span, err) }()

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(req.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("userId", strconv.FormatInt(req.UserID, 10))
	params.AddMetadata("planType", string(req.Plan))

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &PaymentProviderError{Op: "create checkout session", Err: err}
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CreatePortalSession opens the self-service billing portal for a customer
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error) {
	ctx, span := observability.StartSpan(ctx, "stripe.CreatePortalSession")
	defer func() { observability.EndSpan(span, err) }()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", &PaymentProviderError{Op: "create portal session", Err: err}
	}
	return s.URL, nil
}
