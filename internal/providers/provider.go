package providers

import "context"

// VisionClient analyzes a batch of page images in one call.
// Implementations retry transient failures internally; callers treat a
// returned error as final for that batch.
type VisionClient interface {
	// AnalyzeBatch sends the page images together with the rendered context
	// from prior batches and returns the structured analysis. startPage is
	// the 1-indexed page number of the first image.
	AnalyzeBatch(ctx context.Context, images [][]byte, startPage int, contextText string) (*BatchAnalysis, error)

	// Name returns the client identifier.
	Name() string
}

// TextClient generates free-form text from a prompt. Used by aggregation
// tiers to condense summaries.
type TextClient interface {
	Generate(ctx context.Context, prompt, system string, temperature float64) (string, error)
	Name() string
}

// EmbeddingClient turns text into a vector for the semantic index.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Name() string
}

// PageAnalysis is the per-page portion of a batch analysis.
type PageAnalysis struct {
	PageNumber int    `json:"page_number"`
	Summary    string `json:"page_summary"`
}

// BatchAnalysis is the structured result of one vision call.
type BatchAnalysis struct {
	Pages           []PageAnalysis `json:"pages"`
	BatchSummary    string         `json:"batch_summary"`
	KeyEvents       []string       `json:"key_events"`
	ContinuityNotes string         `json:"continuity_notes,omitempty"`

	// ParseError is set when the model response could not be parsed as the
	// expected structure; the raw text is kept in BatchSummary so the run
	// can continue degraded.
	ParseError bool `json:"parse_error,omitempty"`
}
