package analysis

import (
	"context"
	"sort"
	"time"

	"github.com/panelworks/insight/internal/store"
)

// finalize produces the book-level overview from the richest stored tier and
// kicks off the semantic-index rebuild. Neither step can fail the run: an
// overview error falls back to a naive join, a rebuild error is only logged.
func (p *Pipeline) finalize(ctx context.Context, onProgress func(Progress), totalPages int) {
	onProgress(Progress{Phase: "overview", TotalUnits: 1})

	sections, source := p.collectSections()
	if len(sections) == 0 {
		p.logger.Warn("no analyzed content for overview")
	} else {
		overview := &BookOverview{
			BookID:           p.bookID,
			TotalPages:       totalPages,
			SectionSummaries: sections,
			Source:           source,
			GeneratedAt:      time.Now().UTC(),
		}

		response, err := p.text.Generate(ctx, renderOverviewPrompt(sections), analysisSystemPrompt, 0.3)
		if err != nil {
			p.logger.Error("overview generation failed", "error", err)
			overview.Synopsis = joinFirst(sections, fallbackSummaryCount)
		} else {
			overview.Synopsis = response
		}

		if err := p.store.Put(store.OverviewKey, overview); err != nil {
			p.logger.Error("failed to save overview", "error", err)
		} else {
			p.logger.Info("overview generated", "source", source, "sections", len(sections))
		}
	}

	onProgress(Progress{Phase: "overview", TotalUnits: 1, CompletedUnits: 1})

	if p.index != nil {
		// Rebuild outlives the run; a cancelled task must not abort it.
		rebuildCtx := context.WithoutCancel(ctx)
		go func() {
			if err := p.index.Rebuild(rebuildCtx); err != nil {
				p.logger.Error("semantic index rebuild failed", "error", err)
			}
		}()
	}
}

// collectSections gathers "第s-e页: summary" lines for the overview prompt
// from the richest analyzed tier available: chapter summaries first, then
// segments, then raw batch results.
func (p *Pipeline) collectSections() ([]string, string) {
	if sections := p.segmentSections(store.ChapterPrefix); len(sections) > 0 {
		return sections, "chapters"
	}
	if sections := p.segmentSections(store.SegmentPrefix); len(sections) > 0 {
		return sections, "segments"
	}

	batches, err := p.loadStoredBatches(PageRange{Start: 1, End: int(^uint(0) >> 1)})
	if err != nil {
		p.logger.Warn("failed to load batches for overview", "error", err)
		return nil, "none"
	}
	var sections []string
	for _, b := range batches {
		if b.Summary != "" && !b.ParseError {
			sections = append(sections, memberLine(b.Range, b.Summary))
		}
	}
	if len(sections) == 0 {
		return nil, "none"
	}
	return sections, "batches"
}

func (p *Pipeline) segmentSections(prefix string) []string {
	keys, err := p.store.ListKeys(prefix)
	if err != nil {
		p.logger.Warn("failed to list stored segments", "prefix", prefix, "error", err)
		return nil
	}

	var segments []SegmentResult
	maxTier := 0
	for _, key := range keys {
		var seg SegmentResult
		found, err := p.store.Get(key, &seg)
		if err != nil || !found || seg.Synopsis == "" {
			continue
		}
		if seg.Tier > maxTier {
			maxTier = seg.Tier
		}
		segments = append(segments, seg)
	}
	// With several fixed tiers stored, only the most condensed one feeds
	// the overview.
	condensed := segments[:0]
	for _, seg := range segments {
		if seg.Tier == maxTier {
			condensed = append(condensed, seg)
		}
	}
	segments = condensed
	sort.Slice(segments, func(i, j int) bool { return segments[i].Range.Start < segments[j].Range.Start })

	sections := make([]string, 0, len(segments))
	for _, seg := range segments {
		sections = append(sections, memberLine(seg.Range, seg.Synopsis))
	}
	return sections
}
