package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrStripeDisabled is returned by paid-plan operations when the payment
	// provider is not configured.
	ErrStripeDisabled = errors.New("payment provider is not configured")

	// ErrUnknownPlan is returned for plans that cannot be purchased
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrPriceMismatch is returned when a client-supplied price reference
	// does not belong to the requested plan.
	ErrPriceMismatch = errors.New("price does not match plan")

	// ErrNoCustomer is returned when a user has no payment provider customer yet
	ErrNoCustomer = errors.New("no billing customer for user")

	// ErrSubscriptionNotFound is returned by lookups on correlation ids
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// NoSubscriptionError means a user has no Subscription row. Registration
// always creates one, so this indicates broken data.
type NoSubscriptionError struct {
	UserID int64
}

func (e *NoSubscriptionError) Error() string {
	return fmt.Sprintf("no subscription found for user %d", e.UserID)
}

// QuotaExceededError is returned when the period allowance is used up
type QuotaExceededError struct {
	Limit int
	Used  int
	Plan  PlanType
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("generation limit reached: %d of %d used on %s plan", e.Used, e.Limit, e.Plan)
}

// PaymentProviderError wraps a failed call to the payment provider
type PaymentProviderError struct {
	Op  string
	Err error
}

func (e *PaymentProviderError) Error() string {
	return fmt.Sprintf("payment provider %s failed: %v", e.Op, e.Err)
}

func (e *PaymentProviderError) Unwrap() error {
	return e.Err
}

// SignatureVerificationError rejects a webhook delivery outright. It covers
// bad signatures as well as signed payloads that cannot be interpreted.
type SignatureVerificationError struct {
	Reason string
	Err    error
}

func (e *SignatureVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook rejected: %s: %v", e.Reason, e.Err)
	}
	return "webhook rejected: " + e.Reason
}

func (e *SignatureVerificationError) Unwrap() error {
	return e.Err
}
