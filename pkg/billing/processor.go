package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/fursona/pkg/contextkeys"
	"github.com/platinummonkey/fursona/pkg/observability"
)

// EventParser verifies and decodes a webhook delivery
type EventParser interface {
	Parse(payload []byte, signature string) (Event, error)
}

// EventStore applies a transition and records the event id atomically
type EventStore interface {
	ApplyEvent(ctx context.Context, eventID, eventType string, target Target, update Update) (ApplyResult, error)
}

// ProcessorOptions tunes the processor
type ProcessorOptions struct {
	// CacheSize and CacheTTL bound the in-memory set of recently applied
	// event ids checked before the ledger.
	CacheSize int
	CacheTTL  time.Duration
	Metrics   *observability.Metrics
	Logger    *observability.Logger
	Now       func() time.Time
}

// Processor reconciles payment provider webhooks into subscriptions
type Processor struct {
	store   EventStore
	parser  EventParser
	catalog CatalogSource
	seen    *lru.LRU[string, struct{}]
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewProcessor creates a new Processor
func NewProcessor(store EventStore, parser EventParser, catalog CatalogSource, opts ProcessorOptions) *Processor {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{
		store:   store,
		parser:  parser,
		catalog: catalog,
		seen:    lru.NewLRU[string, struct{}](opts.CacheSize, nil, opts.CacheTTL),
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// HandleWebhook verifies payload and applies it. A *SignatureVerificationError
// means the delivery must be rejected without retry; any other error is
// transient and the provider should redeliver.
func (p *Processor) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	event, err := p.parser.Parse(payload, signature)
	if err != nil {
		p.count("unknown", "rejected")
		var sigErr *SignatureVerificationError
		if !errors.As(err, &sigErr) {
			err = &SignatureVerificationError{Reason: "invalid payload", Err: err}
		}
		return err
	}

	ctx, span := observability.StartSpan(ctx, "billing.HandleWebhook",
		attribute.String("billing.event_id", event.EventID()),
		attribute.String("billing.event_type", event.EventType()),
	)
	defer func() { observability.EndSpan(span, err) }()

	return p.Process(ctx, event)
}

// Process applies an already verified event
func (p *Processor) Process(ctx context.Context, event Event) error {
	logger := p.log(ctx).WithFields(map[string]interface{}{
		"event_id":   event.EventID(),
		"event_type": event.EventType(),
	})

	if _, ok := event.(Ignored); ok {
		logger.Debug("Ignoring unhandled webhook event type")
		p.count(event.EventType(), "ignored")
		return nil
	}

	if p.seen.Contains(event.EventID()) {
		logger.Info("Skipping recently processed webhook event")
		p.count(event.EventType(), "duplicate")
		return nil
	}

	target, update, err := Transition(event, p.catalog.Current(), p.now().UTC())
	if err != nil {
		p.count(event.EventType(), "rejected")
		return &SignatureVerificationError{Reason: "unusable event", Err: err}
	}

	result, err := p.store.ApplyEvent(ctx, event.EventID(), event.EventType(), target, update)
	if err != nil {
		logger.WithError(err).Error("Failed to apply webhook event")
		p.count(event.EventType(), "error")
		return fmt.Errorf("failed to process event %s: %w", event.EventID(), err)
	}
	p.seen.Add(event.EventID(), struct{}{})

	switch {
	case result.Duplicate:
		logger.Info("Webhook event already processed")
		p.count(event.EventType(), "duplicate")
	case !result.Matched:
		logger.WithFields(map[string]interface{}{
			"match":       target.Kind.String(),
			"external_id": target.ExternalID,
			"user_id":     target.UserID,
		}).Warn("No subscription matches webhook event")
		p.count(event.EventType(), "unmatched")
	default:
		logger.WithField("user_id", result.UserID).Info("Applied webhook event")
		p.count(event.EventType(), "applied")
		if result.PaymentRecorded && p.metrics != nil {
			p.metrics.PaymentsRecordedTotal.Inc()
		}
	}
	return nil
}

func (p *Processor) count(eventType, outcome string) {
	if p.metrics != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}

// log prefers the request-scoped logger so entries carry the request id
func (p *Processor) log(ctx context.Context) *observability.Logger {
	if _, ok := ctx.Value(contextkeys.LoggerKey).(*observability.Logger); ok || p.logger == nil {
		return observability.FromContext(ctx)
	}
	return observability.UpdateLoggerWithTraceContext(ctx, p.logger)
}
