package persona

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/fursona/pkg/observability"
)

// Supported providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// DefaultGeminiBaseURL is Gemini's OpenAI compatible endpoint
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Generation is a parsed model answer
type Generation struct {
	Provider    string
	Model       string
	Name        string
	Description string
	Raw         string
}

// Generator produces a fursona for an image
type Generator interface {
	Generate(ctx context.Context, img *Image, prompt string) (*Generation, error)
}

// GeneratorConfig configures an OpenAIGenerator
type GeneratorConfig struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float32
	TopP         float32
	MaxTokens    int
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// OpenAIGenerator calls a chat completions API with the photo attached
type OpenAIGenerator struct {
	client  *openai.Client
	cfg     GeneratorConfig
	metrics *observability.Metrics
}

// NewOpenAIGenerator creates a generator. For Gemini the base URL defaults to
// DefaultGeminiBaseURL. metrics may be nil.
func NewOpenAIGenerator(cfg GeneratorConfig, metrics *observability.Metrics) (*OpenAIGenerator, error) {
	if cfg.Provider == "" {
		return nil, errors.New("provider is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for %s", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for %s", cfg.Provider)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.BaseURL == "" && cfg.Provider == ProviderGemini {
		cfg.BaseURL = DefaultGeminiBaseURL
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		metrics: metrics,
	}, nil
}

// Provider returns the provider name
func (g *OpenAIGenerator) Provider() string {
	return g.cfg.Provider
}

// Generate asks the model for a fursona. Failures are *GenerationError.
func (g *OpenAIGenerator) Generate(ctx context.Context, img *Image, prompt string) (gen *Generation, err error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	ctx, span := observability.StartSpan(ctx, "persona.generate",
		attribute.String("provider", g.cfg.Provider),
		attribute.String("model", g.cfg.Model),
		attribute.String("image.format", img.Format),
	)
	defer func() { observability.EndSpan(span, err) }()

	req := openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: BuildPrompt(g.cfg.SystemPrompt, prompt),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    img.DataURL(),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		TopP:        g.cfg.TopP,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	g.observe(start, err)
	if err != nil {
		return nil, g.wrap(err)
	}

	if len(resp.Choices) == 0 {
		err = &GenerationError{Provider: g.cfg.Provider, Detail: "no response from provider"}
		return nil, err
	}

	raw := resp.Choices[0].Message.Content
	name, description := ParseResponse(raw)
	if name == "" {
		err = &GenerationError{Provider: g.cfg.Provider, Detail: "empty response from provider"}
		return nil, err
	}

	return &Generation{
		Provider:    g.cfg.Provider,
		Model:       g.cfg.Model,
		Name:        name,
		Description: description,
		Raw:         raw,
	}, nil
}

func (g *OpenAIGenerator) observe(start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	g.metrics.GenerationsTotal.WithLabelValues(g.cfg.Provider, status).Inc()
	g.metrics.GenerationDuration.WithLabelValues(g.cfg.Provider).Observe(time.Since(start).Seconds())
}

func (g *OpenAIGenerator) wrap(err error) error {
	detail := err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		detail = apiErr.Message
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		detail = "provider request timed out"
	case errors.As(err, &reqErr):
		detail = fmt.Sprintf("provider returned HTTP %d", reqErr.HTTPStatusCode)
	}

	return &GenerationError{Provider: g.cfg.Provider, Detail: detail, Err: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Registry maps provider names to generators
type Registry struct {
	mu              sync.RWMutex
	generators      map[string]Generator
	defaultProvider string
}

// NewRegistry creates an empty registry
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		generators:      make(map[string]Generator),
		defaultProvider: defaultProvider,
	}
}

// Register adds or replaces the generator for name
func (r *Registry) Register(name string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[strings.ToLower(name)] = g
}

// Get returns the generator for name, or the default one when name is empty.
// A supported provider without credentials yields a *GenerationError; any
// other name yields ErrUnknownProvider.
func (r *Registry) Get(name string) (Generator, string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.defaultProvider
	}

	r.mu.RLock()
	g, ok := r.generators[name]
	r.mu.RUnlock()
	if ok {
		return g, name, nil
	}

	switch name {
	case ProviderGemini, ProviderOpenAI:
		return nil, name, &GenerationError{Provider: name, Detail: fmt.Sprintf("%s is not configured", name)}
	default:
		return nil, name, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// Providers lists the registered provider names
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
