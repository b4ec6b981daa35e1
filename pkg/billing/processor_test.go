package billing

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fursona/internal/testdb"
	"github.com/platinummonkey/fursona/pkg/observability"
)

// mockEventStore records ApplyEvent calls
type mockEventStore struct {
	applyFunc func(ctx context.Context, eventID, eventType string, target Target, update Update) (ApplyResult, error)
	calls     int
}

func (m *mockEventStore) ApplyEvent(ctx context.Context, eventID, eventType string, target Target, update Update) (ApplyResult, error) {
	m.calls++
	if m.applyFunc != nil {
		return m.applyFunc(ctx, eventID, eventType, target, update)
	}
	return ApplyResult{Matched: true, UserID: 1}, nil
}

func newTestProcessor(store EventStore) (*Processor, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	p := NewProcessor(store, NewStripeEventParser(testWebhookSecret), DefaultCatalog("price_basic", "price_pro", true), ProcessorOptions{
		Metrics: metrics,
		Logger:  observability.NewLogger(observability.ErrorLevel, io.Discard),
		Now:     func() time.Time { return testNow },
	})
	return p, metrics
}

func TestProcessorCheckoutScenario(t *testing.T) {
	store, _, userID := newSQLiteStore(t)
	p, metrics := newTestProcessor(store)
	ctx := context.Background()

	payload, sig := signedEvent(t, "evt_1", EventCheckoutCompleted, checkoutObject(strconv.FormatInt(userID, 10), "basic"))
	require.NoError(t, p.HandleWebhook(ctx, payload, sig))

	sub, err := store.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, PlanBasic, sub.PlanType)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 50, sub.GenerationsLimit)
	assert.Equal(t, 0, sub.GenerationsUsed)
	assert.Equal(t, "sub_1", *sub.StripeSubscriptionID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventCheckoutCompleted, "applied")))
}

func TestProcessorReplay(t *testing.T) {
	store, db, userID := newSQLiteStore(t)
	ctx := context.Background()
	payload, sig := signedEvent(t, "evt_1", EventCheckoutCompleted, checkoutObject(strconv.FormatInt(userID, 10), "pro"))

	p, metrics := newTestProcessor(store)
	require.NoError(t, p.HandleWebhook(ctx, payload, sig))
	setUsage(t, db, userID, 9, UnlimitedGenerations)

	// Same process: caught by the in-memory cache.
	require.NoError(t, p.HandleWebhook(ctx, payload, sig))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventCheckoutCompleted, "duplicate")))

	// Fresh process: caught by the ledger.
	restarted, metrics := newTestProcessor(store)
	require.NoError(t, restarted.HandleWebhook(ctx, payload, sig))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventCheckoutCompleted, "duplicate")))

	sub, err := store.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, PlanPro, sub.PlanType)
	assert.Equal(t, 9, sub.GenerationsUsed)
}

func TestProcessorPaymentScenario(t *testing.T) {
	store, db, userID := newSQLiteStore(t)
	_, err := store.AttachCustomer(context.Background(), userID, "cus_9")
	require.NoError(t, err)
	setUsage(t, db, userID, 37, 50)

	p, metrics := newTestProcessor(store)
	payload, sig := signedEvent(t, "evt_pay", EventPaymentSucceeded, map[string]interface{}{
		"id": "in_1", "object": "invoice", "customer": "cus_9", "payment_intent": "pi_1", "amount_paid": 999, "currency": "usd",
	})
	require.NoError(t, p.HandleWebhook(context.Background(), payload, sig))

	sub, err := store.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.GenerationsUsed)
	assert.Equal(t, 1, countRows(t, db, "payment_history"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PaymentsRecordedTotal))
}

func TestProcessorUnknownSubscriptionIsAcknowledged(t *testing.T) {
	store, db, _ := newSQLiteStore(t)
	p, metrics := newTestProcessor(store)

	payload, sig := signedEvent(t, "evt_del", EventSubscriptionDeleted, map[string]interface{}{
		"id": "sub_nobody", "object": "subscription", "status": "canceled",
	})
	require.NoError(t, p.HandleWebhook(context.Background(), payload, sig))

	assert.Equal(t, 1, countRows(t, db, "subscriptions"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventSubscriptionDeleted, "unmatched")))
}

func TestProcessorIgnoredEvent(t *testing.T) {
	store := &mockEventStore{}
	p, metrics := newTestProcessor(store)

	payload, sig := signedEvent(t, "evt_x", "charge.refunded", map[string]interface{}{"id": "ch_1", "object": "charge"})
	require.NoError(t, p.HandleWebhook(context.Background(), payload, sig))

	assert.Equal(t, 0, store.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues("charge.refunded", "ignored")))
}

func TestProcessorRejectsBadSignature(t *testing.T) {
	store, _, userID := newSQLiteStore(t)
	p, metrics := newTestProcessor(store)

	payload, _ := signedEvent(t, "evt_1", EventCheckoutCompleted, checkoutObject(strconv.FormatInt(userID, 10), "basic"))
	err := p.HandleWebhook(context.Background(), payload, "t=123,v1=bad")

	var sigErr *SignatureVerificationError
	require.ErrorAs(t, err, &sigErr)

	sub, err := store.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, sub.PlanType)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected")))
}

func TestProcessorDatabaseErrorIsRetryable(t *testing.T) {
	store := &mockEventStore{
		applyFunc: func(context.Context, string, string, Target, Update) (ApplyResult, error) {
			return ApplyResult{}, errors.New("connection refused")
		},
	}
	p, metrics := newTestProcessor(store)

	payload, sig := signedEvent(t, "evt_1", EventPaymentFailed, map[string]interface{}{"id": "in_1", "object": "invoice", "customer": "cus_9"})

	err := p.HandleWebhook(context.Background(), payload, sig)
	require.Error(t, err)
	var sigErr *SignatureVerificationError
	assert.False(t, errors.As(err, &sigErr))

	// The failed event is not remembered, so redelivery reaches the store again.
	store.applyFunc = nil
	require.NoError(t, p.HandleWebhook(context.Background(), payload, sig))
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventPaymentFailed, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues(EventPaymentFailed, "applied")))
}

func TestProcessorUsesCurrentCatalog(t *testing.T) {
	var gotLimit int
	store := &mockEventStore{
		applyFunc: func(_ context.Context, _, _ string, _ Target, update Update) (ApplyResult, error) {
			gotLimit = *update.GenerationsLimit
			return ApplyResult{Matched: true}, nil
		},
	}
	catalog, err := ParseCatalog([]byte("plans:\n  - id: basic\n    generations: 75\n"), DefaultCatalog("price_basic", "price_pro", true))
	require.NoError(t, err)

	p := NewProcessor(store, NewStripeEventParser(testWebhookSecret), catalog, ProcessorOptions{
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
	})
	require.NoError(t, p.Process(context.Background(), CheckoutCompleted{ID: "evt_1", UserID: 7, Plan: PlanBasic, SubscriptionID: "sub_7"}))
	assert.Equal(t, 75, gotLimit)
}

func TestFreeTierLimitFollowsCatalogOverride(t *testing.T) {
	catalog, err := ParseCatalog([]byte("plans:\n  - id: free\n    generations: 10\n"), DefaultCatalog("price_basic", "price_pro", true))
	require.NoError(t, err)
	require.Equal(t, 10, catalog.FreeLimit())

	store, db, downgraded := newSQLiteStore(t)
	store.SetCatalog(catalog)
	ctx := context.Background()

	registered := testdb.CreateUser(t, db, "otter@example.com")
	require.NoError(t, store.CreateFree(ctx, db, registered))

	p := NewProcessor(store, NewStripeEventParser(testWebhookSecret), catalog, ProcessorOptions{
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, p.Process(ctx, CheckoutCompleted{ID: "evt_1", UserID: downgraded, Plan: PlanPro, SubscriptionID: "sub_1"}))
	require.NoError(t, p.Process(ctx, SubscriptionDeleted{ID: "evt_2", SubscriptionID: "sub_1"}))

	fresh, err := store.GetByUserID(ctx, registered)
	require.NoError(t, err)
	reverted, err := store.GetByUserID(ctx, downgraded)
	require.NoError(t, err)

	assert.Equal(t, 10, fresh.GenerationsLimit)
	assert.Equal(t, fresh.PlanType, reverted.PlanType)
	assert.Equal(t, fresh.Status, reverted.Status)
	assert.Equal(t, fresh.GenerationsLimit, reverted.GenerationsLimit)
	assert.Equal(t, fresh.GenerationsUsed, reverted.GenerationsUsed)
	assert.Nil(t, reverted.StripeSubscriptionID)
}
