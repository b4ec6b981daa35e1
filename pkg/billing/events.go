package billing

import "time"

// Stripe event types handled by the processor
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Event is a verified billing notification. The set of implementations is
// closed: CheckoutCompleted, SubscriptionUpdated, SubscriptionDeleted,
// PaymentSucceeded, PaymentFailed and Ignored.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

// CheckoutCompleted links a user to a paid plan. It is the only event that
// names the user directly.
type CheckoutCompleted struct {
	ID             string
	UserID         int64
	Plan           PlanType
	SubscriptionID string
	CustomerID     string
}

// SubscriptionUpdated carries the provider's view of a subscription
type SubscriptionUpdated struct {
	ID                string
	SubscriptionID    string
	Status            SubscriptionStatus
	CancelAtPeriodEnd bool
	// CurrentPeriodEnd is zero when the payload omits it
	CurrentPeriodEnd time.Time
}

// SubscriptionDeleted ends a paid subscription
type SubscriptionDeleted struct {
	ID             string
	SubscriptionID string
}

// PaymentSucceeded starts a new billing period
type PaymentSucceeded struct {
	ID          string
	CustomerID  string
	PaymentID   string
	AmountCents int64
	Currency    string
}

// PaymentFailed marks the subscription past due
type PaymentFailed struct {
	ID         string
	CustomerID string
}

// Ignored is any verified event of a type the processor does not act on
type Ignored struct {
	ID   string
	Type string
}

func (e CheckoutCompleted) EventID() string   { return e.ID }
func (e SubscriptionUpdated) EventID() string { return e.ID }
func (e SubscriptionDeleted) EventID() string { return e.ID }
func (e PaymentSucceeded) EventID() string    { return e.ID }
func (e PaymentFailed) EventID() string       { return e.ID }
func (e Ignored) EventID() string             { return e.ID }

func (CheckoutCompleted) EventType() string   { return EventCheckoutCompleted }
func (SubscriptionUpdated) EventType() string { return EventSubscriptionUpdated }
func (SubscriptionDeleted) EventType() string { return EventSubscriptionDeleted }
func (PaymentSucceeded) EventType() string    { return EventPaymentSucceeded }
func (PaymentFailed) EventType() string       { return EventPaymentFailed }
func (e Ignored) EventType() string           { return e.Type }

func (CheckoutCompleted) isEvent()   {}
func (SubscriptionUpdated) isEvent() {}
func (SubscriptionDeleted) isEvent() {}
func (PaymentSucceeded) isEvent()    {}
func (PaymentFailed) isEvent()       {}
func (Ignored) isEvent()             {}
