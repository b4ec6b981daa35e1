// Package usage meters fursona generations against the caller's plan.
//
// A request is checked before any work starts and charged only after the
// generator succeeds:
//
//	sub, err := gate.Run(ctx, userID,
//		func(ctx context.Context) error { result, err = generator.Generate(ctx, img, prompt); return err },
//		func(ctx context.Context, tx *sql.Tx) error { return personas.Create(ctx, tx, persona) },
//	)
//
// The charge is a conditional UPDATE in the database, so concurrent requests
// from the same user cannot overshoot the limit even though no lock is held
// while the generator runs.
package usage

import (
	"context"
	"errors"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/observability"
)

// Store is the subscription storage the gate depends on
type Store interface {
	GetByUserID(ctx context.Context, userID int64) (*billing.Subscription, error)
	ChargeGeneration(ctx context.Context, userID int64, record billing.RecordFunc) (*billing.Subscription, error)
}

// Gate enforces generation quotas
type Gate struct {
	store   Store
	metrics *observability.Metrics
}

// NewGate creates a new Gate. metrics may be nil.
func NewGate(store Store, metrics *observability.Metrics) *Gate {
	return &Gate{store: store, metrics: metrics}
}

// Check returns the subscription if at least one generation is left. It
// fails with *billing.NoSubscriptionError or *billing.QuotaExceededError.
func (g *Gate) Check(ctx context.Context, userID int64) (*billing.Subscription, error) {
	sub, err := g.store.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.HasQuota() {
		g.reject(sub.PlanType, "check")
		return nil, &billing.QuotaExceededError{
			Limit: sub.GenerationsLimit,
			Used:  sub.GenerationsUsed,
			Plan:  sub.PlanType,
		}
	}
	return sub, nil
}

// Run checks quota, calls generate and, only if it succeeds, charges one
// generation and calls record in the charge's transaction. A generate error
// is returned unchanged and nothing is charged. If a concurrent request used
// the last generation in the meantime, Run returns *billing.QuotaExceededError
// and the generated result is discarded.
func (g *Gate) Run(ctx context.Context, userID int64, generate func(ctx context.Context) error, record billing.RecordFunc) (*billing.Subscription, error) {
	if _, err := g.Check(ctx, userID); err != nil {
		return nil, err
	}

	if err := generate(ctx); err != nil {
		return nil, err
	}

	sub, err := g.store.ChargeGeneration(ctx, userID, record)
	if err != nil {
		var quotaErr *billing.QuotaExceededError
		if errors.As(err, &quotaErr) {
			g.reject(quotaErr.Plan, "charge")
		}
		return nil, err
	}
	return sub, nil
}

func (g *Gate) reject(plan billing.PlanType, stage string) {
	if g.metrics != nil {
		g.metrics.QuotaRejectionsTotal.WithLabelValues(string(plan), stage).Inc()
	}
}
