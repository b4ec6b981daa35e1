package persona

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/fursona/pkg/billing"
)

// Persona is one generated fursona
type Persona struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url,omitempty"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"created_at"`
}

// PostgresStore persists personas. Rows are never updated or deleted.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts p on q and fills in its ID. It is normally called inside
// the usage gate's charge transaction.
func (s *PostgresStore) Create(ctx context.Context, q billing.DBTX, p *Persona) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO fursonas (user_id, name, image_url, description, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	imageURL := sql.NullString{String: p.ImageURL, Valid: p.ImageURL != ""}
	err := q.QueryRowContext(ctx, query, p.UserID, p.Name, imageURL, p.Description, p.Provider, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create fursona: %w", err)
	}
	return nil
}

// ImageInUse reports whether any of the user's personas references imageURL
func (s *PostgresStore) ImageInUse(ctx context.Context, userID int64, imageURL string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fursonas WHERE user_id = $1 AND image_url = $2`, userID, imageURL).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check image references: %w", err)
	}
	return n > 0, nil
}

// ListByUser returns the user's personas, newest first
func (s *PostgresStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Persona, error) {
	query := `
		SELECT id, user_id, name, image_url, description, provider, created_at
		FROM fursonas
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list fursonas: %w", err)
	}
	defer rows.Close()

	personas := []*Persona{}
	for rows.Next() {
		p := &Persona{}
		var imageURL sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &imageURL, &p.Description, &p.Provider, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fursona: %w", err)
		}
		p.ImageURL = imageURL.String
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list fursonas: %w", err)
	}
	return personas, nil
}
