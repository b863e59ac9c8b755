package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/panelworks/insight/internal/config"
	"github.com/panelworks/insight/internal/library"
	"github.com/panelworks/insight/internal/providers"
	"github.com/panelworks/insight/internal/store"
)

// maxGroupEvents caps the key events collected into one aggregation group.
const maxGroupEvents = 10

// fallbackSummaryCount is how many member summaries the naive fallback
// synopsis joins when generation or parsing fails.
const fallbackSummaryCount = 3

// tierInput is one unit consumed by an aggregation tier, either a batch
// result or a prior tier's segment. nil entries mark failed batches and hold
// their position in the group layout.
type tierInput struct {
	Range   PageRange
	Summary string
	Events  []string
}

func batchInputs(results []*BatchResult) []*tierInput {
	inputs := make([]*tierInput, len(results))
	for i, r := range results {
		if r == nil {
			continue
		}
		inputs[i] = &tierInput{Range: r.Range, Summary: r.Summary, Events: r.KeyEvents}
	}
	return inputs
}

// runFixedTier groups inputs into ceil(n/unitsPerGroup) contiguous groups
// (one group when the tier collapses all) and condenses each through a
// text-generation call. A failed group is logged and skipped; it never
// aborts the tier.
func (p *Pipeline) runFixedTier(ctx context.Context, tier config.Tier, tierIdx int, inputs []*tierInput, idPrefix string, gate Gate, onProgress func(Progress), res *Result) ([]*tierInput, error) {
	unitsPerGroup := tier.UnitsPerGroup
	if unitsPerGroup <= 0 {
		unitsPerGroup = len(inputs)
	}
	totalGroups := (len(inputs) + unitsPerGroup - 1) / unitsPerGroup

	var outputs []*tierInput
	for group := 0; group < totalGroups; group++ {
		if err := gate.Wait(ctx); err != nil {
			return outputs, err
		}

		start := group * unitsPerGroup
		end := start + unitsPerGroup
		if end > len(inputs) {
			end = len(inputs)
		}

		segmentID := fmt.Sprintf("%stier%d_group_%03d", idPrefix, tierIdx, group)
		segment := p.aggregateGroup(ctx, segmentID, tier.Name, tierIdx, group, inputs[start:end])
		if segment != nil {
			if err := p.store.Put(store.SegmentPrefix+segmentID, segment); err != nil {
				return outputs, err
			}
			outputs = append(outputs, &tierInput{Range: segment.Range, Summary: segment.Synopsis, Events: segment.KeyEvents})
			res.Segments++
		}

		onProgress(Progress{
			Phase:          tier.Name,
			TotalUnits:     totalGroups,
			CompletedUnits: group + 1,
			Message:        segmentID,
		})
	}
	return outputs, nil
}

// aggregateGroup condenses one group of inputs into a SegmentResult, or nil
// when the group holds no valid members or generation fails outright.
func (p *Pipeline) aggregateGroup(ctx context.Context, segmentID, tierName string, tierIdx, group int, members []*tierInput) *SegmentResult {
	r, summaries, events, count := collectMembers(members)
	if count == 0 {
		p.logger.Warn("aggregation group has no valid members, skipping", "segment", segmentID)
		return nil
	}

	segment := &SegmentResult{
		ID:          segmentID,
		Tier:        tierIdx,
		Group:       group,
		Range:       r,
		KeyEvents:   events,
		InputCount:  count,
		GeneratedAt: time.Now().UTC(),
	}

	prompt := renderSegmentPrompt(segmentID, r, summaries)
	response, err := p.text.Generate(ctx, prompt, analysisSystemPrompt, 0.3)
	if err != nil {
		p.logger.Error("segment generation failed", "segment", segmentID, "tier", tierName, "error", err)
		return nil
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if jsonErr := json.Unmarshal([]byte(providers.StripJSONFences(response)), &parsed); jsonErr != nil || parsed.Summary == "" {
		// Degrade to a naive join of the leading member summaries.
		segment.Synopsis = joinFirst(summaries, fallbackSummaryCount)
	} else {
		segment.Synopsis = parsed.Summary
	}
	return segment
}

// runChapterTier produces one segment per chapter from the inputs whose
// page range overlaps that chapter. Chapters with no overlapping inputs are
// skipped.
func (p *Pipeline) runChapterTier(ctx context.Context, tier config.Tier, inputs []*tierInput, chapters []library.Chapter, gate Gate, onProgress func(Progress), res *Result) ([]*tierInput, error) {
	var outputs []*tierInput
	for i, ch := range chapters {
		if err := gate.Wait(ctx); err != nil {
			return outputs, err
		}

		chRange := PageRange{Start: ch.StartPage, End: ch.EndPage}
		var members []*tierInput
		for _, in := range inputs {
			if in != nil && in.Range.Overlaps(chRange) {
				members = append(members, in)
			}
		}
		if len(members) == 0 {
			continue
		}

		segment := p.aggregateChapter(ctx, ch, members)
		if segment != nil {
			if err := p.store.Put(store.ChapterKey(ch.ID), segment); err != nil {
				return outputs, err
			}
			outputs = append(outputs, &tierInput{Range: segment.Range, Summary: segment.Synopsis, Events: segment.KeyEvents})
			res.Segments++
		}

		onProgress(Progress{
			Phase:          tier.Name,
			TotalUnits:     len(chapters),
			CompletedUnits: i + 1,
			Message:        ch.ID,
		})
	}
	return outputs, nil
}

func (p *Pipeline) aggregateChapter(ctx context.Context, ch library.Chapter, members []*tierInput) *SegmentResult {
	r, summaries, events, count := collectMembers(members)
	if count == 0 {
		return nil
	}

	title := ch.Title
	if title == "" {
		title = ch.ID
	}

	segment := &SegmentResult{
		ID:          ch.ID,
		ChapterID:   ch.ID,
		Title:       title,
		Range:       r,
		KeyEvents:   events,
		InputCount:  count,
		GeneratedAt: time.Now().UTC(),
	}

	prompt := renderChapterPrompt(title, r, summaries)
	response, err := p.text.Generate(ctx, prompt, analysisSystemPrompt, 0.3)
	if err != nil {
		p.logger.Error("chapter summary failed", "chapter", ch.ID, "error", err)
		segment.Synopsis = joinFirst(summaries, fallbackSummaryCount)
		return segment
	}

	var parsed struct {
		Summary   string   `json:"summary"`
		KeyEvents []string `json:"key_events"`
	}
	if jsonErr := json.Unmarshal([]byte(providers.StripJSONFences(response)), &parsed); jsonErr != nil || parsed.Summary == "" {
		segment.Synopsis = joinFirst(summaries, fallbackSummaryCount)
	} else {
		segment.Synopsis = parsed.Summary
		if len(parsed.KeyEvents) > 0 {
			segment.KeyEvents = parsed.KeyEvents
		}
	}
	return segment
}

// collectMembers folds the non-nil members of a group: the spanned range,
// the "第s-e页: summary" member lines, and the first events up to the cap.
func collectMembers(members []*tierInput) (r PageRange, summaries []string, events []string, count int) {
	for _, m := range members {
		if m == nil {
			continue
		}
		if count == 0 {
			r = m.Range
		} else {
			if m.Range.Start < r.Start {
				r.Start = m.Range.Start
			}
			if m.Range.End > r.End {
				r.End = m.Range.End
			}
		}
		count++

		if m.Summary != "" {
			summaries = append(summaries, memberLine(m.Range, m.Summary))
		}
		for _, e := range m.Events {
			if e != "" && len(events) < maxGroupEvents {
				events = append(events, e)
			}
		}
	}
	return r, summaries, events, count
}

func joinFirst(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
