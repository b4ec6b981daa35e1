package billing

import (
	"time"
)

// PlanType identifies a subscription tier
type PlanType string

const (
	PlanFree  PlanType = "free"
	PlanBasic PlanType = "basic"
	PlanPro   PlanType = "pro"
)

// Valid reports whether p is one of the known tiers
func (p PlanType) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro:
		return true
	}
	return false
}

// Paid reports whether p is billed through the payment provider
func (p PlanType) Paid() bool {
	return p == PlanBasic || p == PlanPro
}

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
)

const (
	// UnlimitedGenerations is the generations_limit sentinel for plans
	// without a ceiling.
	UnlimitedGenerations = 999999

	// FreeGenerations is the monthly allowance of the free tier
	FreeGenerations = 5
)

// Subscription is the billing and usage state of one user
type Subscription struct {
	ID                   int64              `json:"id"`
	UserID               int64              `json:"user_id"`
	PlanType             PlanType           `json:"plan_type"`
	Status               SubscriptionStatus `json:"status"`
	StripeCustomerID     *string            `json:"stripe_customer_id"`
	StripeSubscriptionID *string            `json:"stripe_subscription_id"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	GenerationsUsed      int                `json:"generations_used"`
	GenerationsLimit     int                `json:"generations_limit"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Unlimited reports whether the subscription carries the unlimited sentinel
func (s *Subscription) Unlimited() bool {
	return s.GenerationsLimit == UnlimitedGenerations
}

// HasQuota reports whether one more generation may be charged
func (s *Subscription) HasQuota() bool {
	return s.Unlimited() || s.GenerationsUsed < s.GenerationsLimit
}

// Remaining returns the generations left in the period, or -1 when unlimited
func (s *Subscription) Remaining() int {
	if s.Unlimited() {
		return -1
	}
	if s.GenerationsUsed >= s.GenerationsLimit {
		return 0
	}
	return s.GenerationsLimit - s.GenerationsUsed
}

// Payment is one row of the append-only payment history
type Payment struct {
	ID                    int64     `json:"id"`
	UserID                int64     `json:"user_id"`
	StripePaymentIntentID string    `json:"stripe_payment_intent_id"`
	Amount                int64     `json:"amount"`
	Currency              string    `json:"currency"`
	Status                string    `json:"status"`
	Description           string    `json:"description"`
	CreatedAt             time.Time `json:"created_at"`
}
