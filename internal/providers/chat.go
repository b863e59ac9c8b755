package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"
)

// ChatConfig holds configuration for an OpenAI-compatible chat client.
type ChatConfig struct {
	Name       string // client identifier (default "vision" / "text" by caller)
	BaseURL    string
	APIKey     string
	Model      string
	RPM        int           // requests per minute (default 60)
	MaxRetries int           // retry attempts per call (default 3)
	RetryDelay time.Duration // base delay between retries (default 2s)
	Timeout    time.Duration // HTTP timeout (default 180s)
	HTTPClient *http.Client  // optional (tests)
}

// ChatClient talks to any OpenAI-compatible /chat/completions endpoint.
// It implements both VisionClient and TextClient; a single configured
// endpoint can serve both roles.
type ChatClient struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
	limiter    *RateLimiter
}

// NewChatClient creates a new OpenAI-compatible chat client.
func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chat client %q: base_url is required", cfg.Name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("chat client %q: model is required", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = "chat"
	}
	if cfg.RPM <= 0 {
		cfg.RPM = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &ChatClient{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     httpClient,
		limiter:    NewRateLimiter(cfg.RPM),
	}, nil
}

// Name returns the client identifier.
func (c *ChatClient) Name() string {
	return c.name
}

// AnalyzeBatch sends the page images with prior-batch context and parses the
// structured analysis. A response that cannot be parsed is returned with
// ParseError set rather than as an error, so callers can degrade gracefully.
func (c *ChatClient) AnalyzeBatch(ctx context.Context, images [][]byte, startPage int, contextText string) (*BatchAnalysis, error) {
	userText := batchUserPrompt(startPage, len(images), contextText)

	content := []chatContent{{Type: "text", Text: userText}}
	for _, img := range images {
		content = append(content, chatContent{
			Type: "image_url",
			ImageURL: &chatImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: batchSystemPrompt},
			{Role: "user", Content: content},
		},
		Temperature:    0.3,
		ResponseFormat: batchResponseFormat(),
	}

	raw, err := c.complete(ctx, &req)
	if err != nil {
		return nil, err
	}

	return ParseBatchAnalysis(raw), nil
}

// Generate sends a plain text prompt and returns the raw completion text.
func (c *ChatClient) Generate(ctx context.Context, prompt, system string, temperature float64) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
	}
	return c.complete(ctx, &req)
}

// complete performs the HTTP call with rate limiting and retries.
func (c *ChatClient) complete(ctx context.Context, req *chatRequest) (string, error) {
	var content string

	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			resp, err := c.doRequest(ctx, req)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("no choices in response")
			}
			content = resp.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("%s call failed: %w", c.name, err)
	}
	return content, nil
}

func (c *ChatClient) doRequest(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%s returned status %d: %s", c.name, httpResp.StatusCode, truncateForError(respBody))
		// Client errors other than rate limiting won't heal on retry.
		if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 && httpResp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Unrecoverable(err)
		}
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

func truncateForError(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// Wire types for the OpenAI-compatible chat API.

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []chatContent
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
