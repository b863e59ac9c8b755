// Package analysis implements the hierarchical batch-analysis pipeline:
// pages are analyzed in batches with a bounded window of prior-batch context,
// then condensed bottom-up through configurable aggregation tiers into a
// whole-book overview.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCancelled is returned from a checkpoint when the task driving the
// pipeline has been cancelled.
var ErrCancelled = errors.New("analysis cancelled")

// Gate is the cooperative pause/cancel token checked at every batch and
// group boundary. Wait blocks while the task is paused and returns
// ErrCancelled once the task is cancelled; in-flight provider calls are
// never interrupted.
type Gate interface {
	Wait(ctx context.Context) error
}

// NopGate never pauses and never cancels.
type NopGate struct{}

func (NopGate) Wait(ctx context.Context) error { return ctx.Err() }

// PageRange is an inclusive page span.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether two ranges share at least one page.
func (r PageRange) Overlaps(other PageRange) bool {
	return r.Start <= other.End && r.End >= other.Start
}

// Label renders the range the way prompts and logs show it.
func (r PageRange) Label() string {
	return fmt.Sprintf("第%d-%d页", r.Start, r.End)
}

// PageSummary is the per-page portion of a batch result.
type PageSummary struct {
	PageNumber int    `json:"page_number"`
	Summary    string `json:"page_summary"`
}

// BatchResult is the stored output of one vision call over a page batch.
// Identity is the page range; a result is immutable once written except by
// forced re-analysis, which deletes and recreates it.
type BatchResult struct {
	Range           PageRange     `json:"page_range"`
	ChapterID       string        `json:"chapter_id,omitempty"`
	Pages           []PageSummary `json:"pages"`
	Summary         string        `json:"batch_summary"`
	KeyEvents       []string      `json:"key_events"`
	ContinuityNotes string        `json:"continuity_notes,omitempty"`
	AnalyzedAt      time.Time     `json:"analyzed_at"`
	ParseError      bool          `json:"parse_error,omitempty"`
}

// PageRecord is the per-page fan-out of a batch result, stored separately
// so page-level consumers don't need to know batch boundaries.
type PageRecord struct {
	PageNumber int       `json:"page_number"`
	Summary    string    `json:"page_summary"`
	BatchRange PageRange `json:"batch_range"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// SegmentResult is the output of one aggregation-tier group.
type SegmentResult struct {
	ID          string    `json:"segment_id"`
	Tier        int       `json:"tier"`
	Group       int       `json:"group"`
	ChapterID   string    `json:"chapter_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	Range       PageRange `json:"page_range"`
	Synopsis    string    `json:"summary"`
	KeyEvents   []string  `json:"key_events"`
	InputCount  int       `json:"input_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// BookOverview is the book-level synopsis produced by finalization.
type BookOverview struct {
	BookID           string    `json:"book_id"`
	TotalPages       int       `json:"total_pages"`
	Synopsis         string    `json:"summary"`
	SectionSummaries []string  `json:"section_summaries"`
	Source           string    `json:"summary_source"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Progress is a point-in-time view of pipeline execution, delivered through
// the run's progress callback after every completed unit.
type Progress struct {
	Phase          string `json:"phase"`
	TotalUnits     int    `json:"total_units"`
	CompletedUnits int    `json:"completed_units"`
	CurrentPage    int    `json:"current_page,omitempty"`
	Message        string `json:"message,omitempty"`
}
