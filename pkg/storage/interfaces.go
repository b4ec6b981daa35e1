package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ImageStore persists uploaded photos and returns a reference URL for them
type ImageStore interface {
	PutImage(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// DeleteImage removes the object at key. A missing object is not an error.
	DeleteImage(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// Config for storage backends
type Config struct {
	Type string // "filesystem" or "s3"

	// Filesystem config
	FilesystemRoot string
	PublicBaseURL  string

	// PostgreSQL config
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:                "filesystem",
		FilesystemRoot:      "uploads",
		PublicBaseURL:       "/uploads",
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		S3Region:            "us-east-1",
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
	}
}

// ImageKey returns the content-addressed object key for a user's photo:
// users/<id>/<sha256[:2]>/<sha256>.<ext>
func ImageKey(userID int64, data []byte, ext string) string {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("users/%d/%s/%s.%s", userID, hash[:2], hash, ext)
}

// NewImageStore builds the configured ImageStore
func NewImageStore(ctx context.Context, cfg Config) (ImageStore, error) {
	switch cfg.Type {
	case "filesystem", "":
		return NewFilesystemImageStore(cfg.FilesystemRoot, cfg.PublicBaseURL)
	case "s3":
		return NewS3ImageStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
