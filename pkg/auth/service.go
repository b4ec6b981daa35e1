package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/storage/postgres"
)

// SubscriptionCreator creates the free subscription of a new user
type SubscriptionCreator interface {
	CreateFree(ctx context.Context, q billing.DBTX, userID int64) error
}

// Service registers and authenticates users
type Service struct {
	db            *sql.DB
	users         *PostgresStore
	subscriptions SubscriptionCreator
	tokens        *TokenManager
	bcryptCost    int
}

// NewService creates a new Service
func NewService(db *sql.DB, users *PostgresStore, subscriptions SubscriptionCreator, tokens *TokenManager, bcryptCost int) *Service {
	return &Service{
		db:            db,
		users:         users,
		subscriptions: subscriptions,
		tokens:        tokens,
		bcryptCost:    bcryptCost,
	}
}

// Tokens returns the service's token manager
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

// Register creates a user and its free subscription in one transaction and
// returns a token for it.
func (s *Service) Register(ctx context.Context, email, password, name string) (*User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, "", ErrMissingCredentials
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, "", ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, "", err
	}

	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, "", err
	}

	user := &User{Email: email, Name: strings.TrimSpace(name), PasswordHash: hash}
	if err := s.createWithSubscription(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) createWithSubscription(ctx context.Context, user *User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.users.Create(ctx, tx, user); err != nil {
		// lost a race with a concurrent registration
		if postgres.IsUniqueViolation(err) {
			return ErrUserExists
		}
		return err
	}
	if err := s.subscriptions.CreateFree(ctx, tx, user.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registration: %w", err)
	}
	return nil
}

// Login checks the password and returns a fresh token
func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, "", ErrMissingCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// GetUser returns the user with id, or ErrUserNotFound
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
