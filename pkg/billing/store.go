package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RecordFunc persists whatever a successful charge paid for, inside the
// charge's transaction.
type RecordFunc func(ctx context.Context, tx *sql.Tx) error

// ApplyResult describes what ApplyEvent did
type ApplyResult struct {
	// Duplicate is set when the event id was already in the ledger
	Duplicate bool
	// Matched is set when a subscription row was updated
	Matched         bool
	UserID          int64
	Plan            PlanType
	PaymentRecorded bool
}

// PostgresStore implements Subscription persistence. Every mutation is a
// single conditional statement, so concurrent writers never lose updates.
type PostgresStore struct {
	db      *sql.DB
	catalog CatalogSource
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SetCatalog makes new subscriptions take the free allowance from catalog
// instead of FreeGenerations.
func (s *PostgresStore) SetCatalog(catalog CatalogSource) {
	s.catalog = catalog
}

func (s *PostgresStore) freeLimit() int {
	if s.catalog == nil {
		return FreeGenerations
	}
	return s.catalog.Current().FreeLimit()
}

const subscriptionColumns = `id, user_id, plan_type, status, stripe_customer_id, stripe_subscription_id,
		current_period_start, current_period_end, cancel_at_period_end,
		generations_used, generations_limit, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var (
		customerID     sql.NullString
		subscriptionID sql.NullString
		periodStart    sql.NullTime
		periodEnd      sql.NullTime
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanType, &sub.Status, &customerID, &subscriptionID,
		&periodStart, &periodEnd, &sub.CancelAtPeriodEnd,
		&sub.GenerationsUsed, &sub.GenerationsLimit, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		sub.StripeCustomerID = &customerID.String
	}
	if subscriptionID.Valid {
		sub.StripeSubscriptionID = &subscriptionID.String
	}
	if periodStart.Valid {
		sub.CurrentPeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	return sub, nil
}

// CreateFree inserts the free-tier subscription of a new user. It runs on q
// so that registration can create the user and subscription together.
func (s *PostgresStore) CreateFree(ctx context.Context, q DBTX, userID int64) error {
	query := `
		INSERT INTO subscriptions (user_id, plan_type, status, generations_used, generations_limit)
		VALUES ($1, $2, $3, 0, $4)
	`
	if _, err := q.ExecContext(ctx, query, userID, PlanFree, SubscriptionStatusActive, s.freeLimit()); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetByUserID returns the user's subscription or a *NoSubscriptionError
func (s *PostgresStore) GetByUserID(ctx context.Context, userID int64) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NoSubscriptionError{UserID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetByCustomerID looks a subscription up by payment provider customer
func (s *PostgresStore) GetByCustomerID(ctx context.Context, customerID string) (*Subscription, error) {
	return s.getBy(ctx, "stripe_customer_id", customerID)
}

// GetBySubscriptionID looks a subscription up by payment provider subscription
func (s *PostgresStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return s.getBy(ctx, "stripe_subscription_id", subscriptionID)
}

func (s *PostgresStore) getBy(ctx context.Context, column, value string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + column + ` = $1 ORDER BY id LIMIT 1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription by %s: %w", column, err)
	}
	return sub, nil
}

// AttachCustomer stores customerID unless the user already has one, and
// returns whichever id is stored afterwards.
func (s *PostgresStore) AttachCustomer(ctx context.Context, userID int64, customerID string) (string, error) {
	query := `
		UPDATE subscriptions
		SET stripe_customer_id = $1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $2 AND stripe_customer_id IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, customerID, userID); err != nil {
		return "", fmt.Errorf("failed to attach customer: %w", err)
	}

	var stored sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT stripe_customer_id FROM subscriptions WHERE user_id = $1`, userID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &NoSubscriptionError{UserID: userID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to read customer: %w", err)
	}
	if !stored.Valid {
		return "", ErrNoCustomer
	}
	return stored.String, nil
}

// ChargeGeneration consumes one generation and runs record in the same
// transaction. The increment is conditional on remaining quota, so concurrent
// charges can never push generations_used past generations_limit. When no
// quota is left it returns a *QuotaExceededError and record is not called.
func (s *PostgresStore) ChargeGeneration(ctx context.Context, userID int64, record RecordFunc) (*Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE subscriptions
		SET generations_used = generations_used + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1 AND (generations_limit = $2 OR generations_used < generations_limit)
	`
	result, err := tx.ExecContext(ctx, query, userID, UnlimitedGenerations)
	if err != nil {
		return nil, fmt.Errorf("failed to charge generation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to charge generation: %w", err)
	}

	if n == 0 {
		// Release the connection before re-reading outside the transaction.
		tx.Rollback()
		sub, err := s.GetByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return nil, &QuotaExceededError{Limit: sub.GenerationsLimit, Used: sub.GenerationsUsed, Plan: sub.PlanType}
	}

	if record != nil {
		if err := record(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to record generation: %w", err)
		}
	}

	sub, err := scanSubscription(tx.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit charge: %w", err)
	}
	return sub, nil
}

// ApplyEvent records eventID in the ledger and applies update to the row
// selected by target, in one transaction. A replayed event id commits
// nothing. An unmatched target is not an error.
func (s *PostgresStore) ApplyEvent(ctx context.Context, eventID, eventType string, target Target, update Update) (ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	ledger, err := tx.ExecContext(ctx,
		`INSERT INTO billing_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to record event: %w", err)
	}
	inserted, err := ledger.RowsAffected()
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to record event: %w", err)
	}
	if inserted == 0 {
		return ApplyResult{Duplicate: true}, nil
	}

	var result ApplyResult
	if target.Kind != MatchNone && !update.Empty() {
		query, args, err := buildUpdate(target, update)
		if err != nil {
			return ApplyResult{}, err
		}
		err = tx.QueryRowContext(ctx, query, args...).Scan(&result.UserID, &result.Plan)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return ApplyResult{}, fmt.Errorf("failed to apply %s: %w", eventType, err)
		default:
			result.Matched = true
		}
	}

	if result.Matched && update.Payment != nil {
		p := update.Payment
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payment_history (user_id, stripe_payment_intent_id, amount, currency, status, description)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (stripe_payment_intent_id) DO NOTHING
		`, result.UserID, p.ExternalID, p.AmountCents, p.Currency, "succeeded", fmt.Sprintf("%s plan subscription", result.Plan))
		if err != nil {
			return ApplyResult{}, fmt.Errorf("failed to record payment: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			result.PaymentRecorded = true
		}
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, fmt.Errorf("failed to commit %s: %w", eventType, err)
	}
	return result, nil
}

// buildUpdate renders update as one UPDATE statement. Placeholders are
// numbered in order of appearance.
func buildUpdate(target Target, update Update) (string, []interface{}, error) {
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Plan != nil {
		set("plan_type", string(*update.Plan))
	}
	if update.Status != nil {
		set("status", string(*update.Status))
	}
	if update.GenerationsLimit != nil {
		set("generations_limit", *update.GenerationsLimit)
	}
	if update.ResetUsage {
		sets = append(sets, "generations_used = 0")
	}
	if update.PeriodStart != nil {
		set("current_period_start", update.PeriodStart.UTC())
	}
	if update.PeriodEnd != nil {
		set("current_period_end", update.PeriodEnd.UTC())
	}
	if update.CancelAtPeriodEnd != nil {
		set("cancel_at_period_end", *update.CancelAtPeriodEnd)
	}
	if update.ClearSubscriptionID {
		sets = append(sets, "stripe_subscription_id = NULL")
	} else if update.SubscriptionID != nil {
		set("stripe_subscription_id", *update.SubscriptionID)
	}
	if update.CustomerID != nil {
		set("stripe_customer_id", *update.CustomerID)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")

	var key interface{}
	switch target.Kind {
	case MatchUserID:
		key = target.UserID
	case MatchSubscriptionID, MatchCustomerID:
		key = target.ExternalID
	default:
		return "", nil, fmt.Errorf("unsupported match kind %s", target.Kind)
	}
	args = append(args, key)

	query := fmt.Sprintf("UPDATE subscriptions SET %s WHERE %s = $%d RETURNING user_id, plan_type",
		strings.Join(sets, ", "), target.Kind, len(args))
	return query, args, nil
}

// ListPayments returns a user's payment history, newest first
func (s *PostgresStore) ListPayments(ctx context.Context, userID int64, limit int) ([]*Payment, error) {
	query := `
		SELECT id, user_id, stripe_payment_intent_id, amount, currency, status, description, created_at
		FROM payment_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := []*Payment{}
	for rows.Next() {
		p := &Payment{}
		var (
			externalID  sql.NullString
			description sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.UserID, &externalID, &p.Amount, &p.Currency, &p.Status, &description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.StripePaymentIntentID = externalID.String
		p.Description = description.String
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// PruneEvents deletes ledger rows processed before cutoff
func (s *PostgresStore) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM billing_events WHERE processed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune billing events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune billing events: %w", err)
	}
	return n, nil
}
