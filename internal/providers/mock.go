package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockVision is a VisionClient for testing.
type MockVision struct {
	// Configurable behavior
	Latency   time.Duration
	FailPages map[int]bool // startPage -> fail that batch
	ParseErr  bool         // return results flagged as parse errors

	// State
	callCount atomic.Int64

	mu       sync.Mutex
	contexts []string // context text seen per call, in order
}

// NewMockVision creates a mock vision client.
func NewMockVision() *MockVision {
	return &MockVision{FailPages: make(map[int]bool)}
}

// Name returns the client identifier.
func (m *MockVision) Name() string { return "mock-vision" }

// Calls returns how many times AnalyzeBatch was invoked.
func (m *MockVision) Calls() int64 { return m.callCount.Load() }

// Contexts returns the context strings passed to each call.
func (m *MockVision) Contexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.contexts))
	copy(out, m.contexts)
	return out
}

// AnalyzeBatch fabricates a deterministic analysis for the page range.
func (m *MockVision) AnalyzeBatch(ctx context.Context, images [][]byte, startPage int, contextText string) (*BatchAnalysis, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.contexts = append(m.contexts, contextText)
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Latency):
		}
	}

	if m.FailPages[startPage] {
		return nil, fmt.Errorf("mock vision failure at page %d", startPage)
	}

	endPage := startPage + len(images) - 1
	result := &BatchAnalysis{
		BatchSummary: fmt.Sprintf("第%d-%d页的剧情摘要", startPage, endPage),
		KeyEvents: []string{
			fmt.Sprintf("第%d页发生了关键事件", startPage),
			fmt.Sprintf("第%d页出现了转折", endPage),
		},
		ContinuityNotes: "承接前文",
		ParseError:      m.ParseErr,
	}
	for i := range images {
		result.Pages = append(result.Pages, PageAnalysis{
			PageNumber: startPage + i,
			Summary:    fmt.Sprintf("第%d页的画面描述", startPage+i),
		})
	}
	return result, nil
}

// MockText is a TextClient for testing.
type MockText struct {
	Latency  time.Duration
	Response string // returned verbatim when set
	Err      error  // returned for every call when set

	callCount atomic.Int64

	mu      sync.Mutex
	prompts []string
}

// NewMockText creates a mock text client.
func NewMockText() *MockText {
	return &MockText{}
}

// Name returns the client identifier.
func (m *MockText) Name() string { return "mock-text" }

// Calls returns how many times Generate was invoked.
func (m *MockText) Calls() int64 { return m.callCount.Load() }

// Prompts returns the prompts seen, in order.
func (m *MockText) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Generate returns the configured response or a canned JSON synopsis.
func (m *MockText) Generate(ctx context.Context, prompt, system string, temperature float64) (string, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return `{"summary": "生成的概括", "key_events": ["事件一"], "themes": []}`, nil
}

// MockEmbedding is an EmbeddingClient for testing.
type MockEmbedding struct {
	Err error

	callCount atomic.Int64
}

// Name returns the client identifier.
func (m *MockEmbedding) Name() string { return "mock-embedding" }

// Calls returns how many times Embed was invoked.
func (m *MockEmbedding) Calls() int64 { return m.callCount.Load() }

// Embed returns a fixed-size vector derived from the text length.
func (m *MockEmbedding) Embed(ctx context.Context, text string) ([]float64, error) {
	m.callCount.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	return []float64{float64(len(text)), 1, 0}, nil
}
