package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemImageStore stores photos under a local directory
type FilesystemImageStore struct {
	rootDir string
	baseURL string
}

// NewFilesystemImageStore creates the root directory if needed
func NewFilesystemImageStore(rootDir, baseURL string) (*FilesystemImageStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("filesystem root is required")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &FilesystemImageStore{rootDir: rootDir, baseURL: baseURL}, nil
}

// Root returns the directory photos are written to
func (s *FilesystemImageStore) Root() string {
	return s.rootDir
}

// PutImage writes data at key. Existing files are left untouched since keys
// are content addressed.
func (s *FilesystemImageStore) PutImage(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return joinURL(s.baseURL, key), nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move image into place: %w", err)
	}

	return joinURL(s.baseURL, key), nil
}

// DeleteImage removes the file at key
func (s *FilesystemImageStore) DeleteImage(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// HealthCheck verifies the root directory is still writable
func (s *FilesystemImageStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("filesystem health check failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filesystem root %s is not a directory", s.rootDir)
	}
	return nil
}

func (s *FilesystemImageStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(s.rootDir, clean), nil
}
