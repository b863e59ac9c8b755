package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// EmbeddingConfig holds configuration for the embedding client.
type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	RPM        int
	Timeout    time.Duration
	HTTPClient *http.Client // optional (tests)
}

// OpenAIEmbeddings implements EmbeddingClient using the official OpenAI SDK
// against any OpenAI-compatible embeddings endpoint.
type OpenAIEmbeddings struct {
	model   string
	client  openai.Client
	limiter *RateLimiter
}

// NewOpenAIEmbeddings creates a new embedding client.
func NewOpenAIEmbeddings(cfg EmbeddingConfig) (*OpenAIEmbeddings, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding client: api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.RPM <= 0 {
		cfg.RPM = 300
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbeddings{
		model:   cfg.Model,
		client:  openai.NewClient(opts...),
		limiter: NewRateLimiter(cfg.RPM),
	}, nil
}

// Name returns the client identifier.
func (c *OpenAIEmbeddings) Name() string {
	return "openai-embeddings"
}

// Embed returns the vector for a single text.
func (c *OpenAIEmbeddings) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	return resp.Data[0].Embedding, nil
}
