package persona

import (
	"context"
	"database/sql"
	"time"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/observability"
	"github.com/platinummonkey/fursona/pkg/storage"
)

// History paging bounds
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

const uploadTimeout = 30 * time.Second

// Gate charges a generation only after generate succeeds
type Gate interface {
	Run(ctx context.Context, userID int64, generate func(ctx context.Context) error, record billing.RecordFunc) (*billing.Subscription, error)
}

// Store is the persona persistence the service depends on
type Store interface {
	Create(ctx context.Context, q billing.DBTX, p *Persona) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Persona, error)
	ImageInUse(ctx context.Context, userID int64, imageURL string) (bool, error)
}

// GenerateRequest is a single generation request
type GenerateRequest struct {
	UserID int64
	// Image is base64, optionally as a data URL
	Image    string
	Provider string
	Prompt   string
}

// GenerateResult is the stored persona plus the usage after charging
type GenerateResult struct {
	Persona      *Persona
	Subscription *billing.Subscription
}

// Service generates and stores personas under the usage gate
type Service struct {
	gate          Gate
	generators    *Registry
	store         Store
	images        storage.ImageStore
	metrics       *observability.Metrics
	maxImageBytes int64
}

// NewService creates a Service. images and metrics may be nil; without an
// image store the photo is not kept.
func NewService(gate Gate, generators *Registry, store Store, images storage.ImageStore, metrics *observability.Metrics) *Service {
	return &Service{
		gate:          gate,
		generators:    generators,
		store:         store,
		images:        images,
		metrics:       metrics,
		maxImageBytes: MaxImageBytes,
	}
}

// SetMaxImageBytes overrides the upload limit
func (s *Service) SetMaxImageBytes(n int64) {
	if n > 0 {
		s.maxImageBytes = n
	}
}

// Generate validates the image, runs the generator under the usage gate and
// stores the persona in the same transaction as the charge. The photo is
// uploaded only once the generator has succeeded, and removed again if the
// charge fails. An upload failure only loses the image URL.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	img, err := DecodeImage(req.Image, s.maxImageBytes)
	if err != nil {
		return nil, err
	}

	generator, provider, err := s.generators.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	p := &Persona{UserID: req.UserID, Provider: provider}
	key := storage.ImageKey(req.UserID, img.Data, img.Extension())

	generate := func(ctx context.Context) error {
		gen, err := generator.Generate(ctx, img, req.Prompt)
		if err != nil {
			return err
		}
		p.Name = gen.Name
		p.Description = gen.Description
		p.ImageURL = s.upload(ctx, key, img)
		return nil
	}

	record := func(ctx context.Context, tx *sql.Tx) error {
		return s.store.Create(ctx, tx, p)
	}

	sub, err := s.gate.Run(ctx, req.UserID, generate, record)
	if err != nil {
		if p.ImageURL != "" {
			s.discardUpload(ctx, req.UserID, key, p.ImageURL)
		}
		return nil, err
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"fursona_id": p.ID,
		"fursona":    p.Name,
		"provider":   provider,
		"used":       sub.GenerationsUsed,
	}).Info("fursona generated")

	return &GenerateResult{Persona: p, Subscription: sub}, nil
}

func (s *Service) upload(ctx context.Context, key string, img *Image) string {
	if s.images == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	url, err := s.images.PutImage(ctx, key, img.Data, img.ContentType())
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to store uploaded photo")
		if s.metrics != nil {
			s.metrics.ImageUploadErrorsTotal.Inc()
		}
		return ""
	}
	return url
}

// discardUpload removes a photo whose persona was never stored. Keys are
// content addressed, so a photo an earlier persona still points at is kept.
func (s *Service) discardUpload(ctx context.Context, userID int64, key, url string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()
	logger := observability.FromContext(ctx).WithField("key", key)

	inUse, err := s.store.ImageInUse(ctx, userID, url)
	if err != nil {
		logger.WithError(err).Warn("keeping photo of failed generation")
		return
	}
	if inUse {
		return
	}
	if err := s.images.DeleteImage(ctx, key); err != nil {
		logger.WithError(err).Warn("failed to remove photo of failed generation")
	}
}

// History returns a page of the user's personas, newest first. limit is
// clamped to [1, MaxHistoryLimit] and defaults to DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, userID int64, limit, offset int) ([]*Persona, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}
