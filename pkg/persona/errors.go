package persona

import (
	"errors"
	"fmt"
)

var (
	// ErrImageRequired is returned when the request carries no image
	ErrImageRequired = errors.New("image required")

	// ErrImageTooLarge is returned when the decoded image exceeds the limit
	ErrImageTooLarge = errors.New("image too large")

	// ErrInvalidImage is returned for bad base64 or an unsupported format
	ErrInvalidImage = errors.New("invalid image")

	// ErrUnknownProvider is returned for a provider name that is not supported
	ErrUnknownProvider = errors.New("unknown generation provider")
)

// GenerationError reports a failed call to the AI provider
type GenerationError struct {
	Provider string
	// Detail is the provider's message, safe to show to the caller
	Detail string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("fursona generation with %s failed: %s", e.Provider, e.Detail)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err was caused by the request itself
func IsClientError(err error) bool {
	return errors.Is(err, ErrImageRequired) ||
		errors.Is(err, ErrImageTooLarge) ||
		errors.Is(err, ErrInvalidImage) ||
		errors.Is(err, ErrUnknownProvider)
}
