package api

import (
	"context"

	"github.com/platinummonkey/fursona/pkg/auth"
	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/persona"
)

// AuthService is implemented by *auth.Service
type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*auth.User, string, error)
	Login(ctx context.Context, email, password string) (*auth.User, string, error)
	GetUser(ctx context.Context, id int64) (*auth.User, error)
}

// PersonaService is implemented by *persona.Service
type PersonaService interface {
	Generate(ctx context.Context, req persona.GenerateRequest) (*persona.GenerateResult, error)
	History(ctx context.Context, userID int64, limit, offset int) ([]*persona.Persona, error)
}

// SubscriptionReader is implemented by *billing.PostgresStore
type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID int64) (*billing.Subscription, error)
	ListPayments(ctx context.Context, userID int64, limit int) ([]*billing.Payment, error)
}

// CheckoutService is implemented by *billing.CheckoutService
type CheckoutService interface {
	Enabled() bool
	CreateCheckout(ctx context.Context, userID int64, email string, plan billing.PlanType, priceID string) (*billing.CheckoutSession, error)
	CreatePortal(ctx context.Context, userID int64) (string, error)
}

// WebhookProcessor is implemented by *billing.Processor
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}
