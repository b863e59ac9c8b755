package config

// Config holds insight configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
	Providers ProvidersCfg `mapstructure:"providers" yaml:"providers"`
	Analysis  AnalysisCfg  `mapstructure:"analysis" yaml:"analysis"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// ProvidersCfg groups the external AI service endpoints.
type ProvidersCfg struct {
	Vision    ProviderCfg  `mapstructure:"vision" yaml:"vision"`
	Text      TextCfg      `mapstructure:"text" yaml:"text"`
	Embedding EmbeddingCfg `mapstructure:"embedding" yaml:"embedding"`
}

// ProviderCfg configures an OpenAI-compatible chat endpoint.
type ProviderCfg struct {
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model          string  `mapstructure:"model" yaml:"model"`
	RateLimit      int     `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
}

// TextCfg configures the text-generation endpoint used by aggregation tiers.
// When UseVisionProvider is set the vision endpoint settings are reused.
type TextCfg struct {
	ProviderCfg       `mapstructure:",squash" yaml:",inline"`
	UseVisionProvider bool `mapstructure:"use_vision_provider" yaml:"use_vision_provider"`
}

// EmbeddingCfg configures the embedding endpoint for the semantic index.
// Empty APIKey disables index rebuilds.
type EmbeddingCfg struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	Model          string `mapstructure:"model" yaml:"model"`
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// AnalysisCfg configures the hierarchical analysis pipeline.
type AnalysisCfg struct {
	// PagesPerBatch is the number of pages analyzed per vision call (1-10).
	PagesPerBatch int `mapstructure:"pages_per_batch" yaml:"pages_per_batch"`
	// ContextBatches is how many prior batch results are fed back as context (0-5).
	ContextBatches int `mapstructure:"context_batches" yaml:"context_batches"`
	// ArchitecturePreset selects the tier chain: simple, standard,
	// chapter_based, full, or custom.
	ArchitecturePreset string `mapstructure:"architecture_preset" yaml:"architecture_preset"`
	// CustomTiers is used when ArchitecturePreset is "custom".
	CustomTiers []Tier `mapstructure:"custom_tiers" yaml:"custom_tiers"`
	// IncrementalSchedule is an optional cron expression; when set,
	// incremental analysis tasks are created on that schedule.
	IncrementalSchedule string `mapstructure:"incremental_schedule" yaml:"incremental_schedule"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Providers: ProvidersCfg{
			Vision: ProviderCfg{
				BaseURL:        "https://api.openai.com/v1",
				APIKey:         "${INSIGHT_VISION_API_KEY}",
				Model:          "gpt-4o",
				RateLimit:      60,
				MaxRetries:     3,
				TimeoutSeconds: 180,
				Temperature:    0.3,
			},
			Text: TextCfg{
				UseVisionProvider: true,
			},
			Embedding: EmbeddingCfg{
				BaseURL:        "https://api.openai.com/v1",
				APIKey:         "${INSIGHT_EMBEDDING_API_KEY}",
				Model:          "text-embedding-3-small",
				RateLimit:      300,
				TimeoutSeconds: 60,
			},
		},
		Analysis: AnalysisCfg{
			PagesPerBatch:      5,
			ContextBatches:     1,
			ArchitecturePreset: PresetStandard,
		},
	}
}

// TextProvider resolves the effective text-generation endpoint settings.
func (c *Config) TextProvider() ProviderCfg {
	if c.Providers.Text.UseVisionProvider {
		return c.Providers.Vision
	}
	return c.Providers.Text.ProviderCfg
}
