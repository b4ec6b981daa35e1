package billing

import (
	"fmt"
	"time"
)

// MatchKind selects the column an Update is keyed on
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchUserID
	MatchSubscriptionID
	MatchCustomerID
)

func (k MatchKind) String() string {
	switch k {
	case MatchUserID:
		return "user_id"
	case MatchSubscriptionID:
		return "stripe_subscription_id"
	case MatchCustomerID:
		return "stripe_customer_id"
	}
	return "none"
}

// Target identifies the subscription an event applies to
type Target struct {
	Kind       MatchKind
	UserID     int64
	ExternalID string
}

// PaymentRecord is appended to payment_history when an Update carrying it
// matches a subscription.
type PaymentRecord struct {
	ExternalID  string
	AmountCents int64
	Currency    string
}

// Update lists the fields an event overwrites. Nil fields are left alone.
type Update struct {
	Plan                *PlanType
	Status              *SubscriptionStatus
	GenerationsLimit    *int
	ResetUsage          bool
	PeriodStart         *time.Time
	PeriodEnd           *time.Time
	CancelAtPeriodEnd   *bool
	SubscriptionID      *string
	ClearSubscriptionID bool
	CustomerID          *string
	Payment             *PaymentRecord
}

// Empty reports whether the update changes nothing
func (u Update) Empty() bool {
	return u.Plan == nil && u.Status == nil && u.GenerationsLimit == nil && !u.ResetUsage &&
		u.PeriodStart == nil && u.PeriodEnd == nil && u.CancelAtPeriodEnd == nil &&
		u.SubscriptionID == nil && !u.ClearSubscriptionID && u.CustomerID == nil && u.Payment == nil
}

// Apply returns s with the update's fields overwritten. The store performs
// the same overwrite in SQL.
func (u Update) Apply(s Subscription) Subscription {
	if u.Plan != nil {
		s.PlanType = *u.Plan
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.GenerationsLimit != nil {
		s.GenerationsLimit = *u.GenerationsLimit
	}
	if u.ResetUsage {
		s.GenerationsUsed = 0
	}
	if u.PeriodStart != nil {
		t := *u.PeriodStart
		s.CurrentPeriodStart = &t
	}
	if u.PeriodEnd != nil {
		t := *u.PeriodEnd
		s.CurrentPeriodEnd = &t
	}
	if u.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
	}
	if u.SubscriptionID != nil {
		id := *u.SubscriptionID
		s.StripeSubscriptionID = &id
	}
	if u.ClearSubscriptionID {
		s.StripeSubscriptionID = nil
	}
	if u.CustomerID != nil {
		id := *u.CustomerID
		s.StripeCustomerID = &id
	}
	return s
}

// Transition maps an event to the subscription it targets and the fields it
// overwrites. Every effect is a fixed target state rather than a delta, so
// applying the same event twice is harmless.
func Transition(event Event, catalog *Catalog, now time.Time) (Target, Update, error) {
	switch e := event.(type) {
	case CheckoutCompleted:
		limit, ok := catalog.Limit(e.Plan)
		if !ok || !e.Plan.Paid() {
			return Target{}, Update{}, fmt.Errorf("%w: %q", ErrUnknownPlan, e.Plan)
		}
		start := now
		end := now.AddDate(0, 1, 0)
		update := Update{
			Plan:             ptr(e.Plan),
			Status:           ptr(SubscriptionStatusActive),
			GenerationsLimit: ptr(limit),
			ResetUsage:       true,
			PeriodStart:      &start,
			PeriodEnd:        &end,
			SubscriptionID:   ptr(e.SubscriptionID),
		}
		if e.CustomerID != "" {
			update.CustomerID = ptr(e.CustomerID)
		}
		return Target{Kind: MatchUserID, UserID: e.UserID}, update, nil

	case SubscriptionUpdated:
		update := Update{
			Status:            ptr(e.Status),
			CancelAtPeriodEnd: ptr(e.CancelAtPeriodEnd),
		}
		if !e.CurrentPeriodEnd.IsZero() {
			update.PeriodEnd = ptr(e.CurrentPeriodEnd)
		}
		return Target{Kind: MatchSubscriptionID, ExternalID: e.SubscriptionID}, update, nil

	case SubscriptionDeleted:
		limit := catalog.FreeLimit()
		return Target{Kind: MatchSubscriptionID, ExternalID: e.SubscriptionID}, Update{
			Plan:                ptr(PlanFree),
			Status:              ptr(SubscriptionStatusActive),
			GenerationsLimit:    ptr(limit),
			ResetUsage:          true,
			ClearSubscriptionID: true,
		}, nil

	case PaymentSucceeded:
		return Target{Kind: MatchCustomerID, ExternalID: e.CustomerID}, Update{
			ResetUsage: true,
			Payment: &PaymentRecord{
				ExternalID:  e.PaymentID,
				AmountCents: e.AmountCents,
				Currency:    e.Currency,
			},
		}, nil

	case PaymentFailed:
		return Target{Kind: MatchCustomerID, ExternalID: e.CustomerID}, Update{
			Status: ptr(SubscriptionStatusPastDue),
		}, nil

	case Ignored:
		return Target{}, Update{}, nil
	}

	return Target{}, Update{}, fmt.Errorf("unhandled event %T", event)
}

func ptr[T any](v T) *T {
	return &v
}
