package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/fursona/pkg/billing"
)

// PostgresStore persists users
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a user on q and fills in its ID and timestamps
func (s *PostgresStore) Create(ctx context.Context, q billing.DBTX, user *User) error {
	now := time.Now().UTC()
	name := sql.NullString{String: user.Name, Valid: user.Name != ""}

	query := `
		INSERT INTO users (email, password_hash, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`
	if err := q.QueryRowContext(ctx, query, user.Email, user.PasswordHash, name, now).Scan(&user.ID); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByEmail returns the user with email, or ErrUserNotFound
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.get(ctx, `WHERE email = $1`, email)
}

// GetByID returns the user with id, or ErrUserNotFound
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.get(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) get(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `SELECT id, email, password_hash, name, created_at, updated_at FROM users ` + where

	user := &User{}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &name, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Name = name.String
	return user, nil
}
