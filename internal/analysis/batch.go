package analysis

import (
	"context"
	"time"

	"github.com/panelworks/insight/internal/store"
)

// runBatchTier analyzes every planned batch in page order. The returned
// slice is parallel to plan: a failed batch leaves a nil in place so later
// tiers group positionally over the planned layout, not the survivors.
func (p *Pipeline) runBatchTier(ctx context.Context, plan []plannedBatch, opts Options, force bool, prior []*BatchResult, gate Gate, onProgress func(Progress), res *Result) ([]*BatchResult, error) {
	results := make([]*BatchResult, 0, len(plan))

	for i, batch := range plan {
		if err := gate.Wait(ctx); err != nil {
			return results, err
		}

		r := batch.pageRange()
		progress := Progress{
			Phase:       "batch_analysis",
			TotalUnits:  len(plan),
			CurrentPage: r.Start,
		}

		// Cache: a stored, cleanly parsed result satisfies the batch
		// without a client call unless the run is forced.
		if !force {
			var cached BatchResult
			found, err := p.store.Get(store.BatchKey(r.Start, r.End), &cached)
			if err != nil {
				return results, err
			}
			if found && !cached.ParseError {
				p.logger.Debug("using cached batch", "pages", r.Label())
				results = append(results, &cached)
				prior = append(prior, &cached)
				progress.CompletedUnits = i + 1
				onProgress(progress)
				continue
			}
		}

		result, err := p.analyzeBatch(ctx, batch, ContextWindow(prior, opts.ContextBatches))
		if err != nil {
			p.logger.Error("batch analysis failed", "pages", r.Label(), "error", err)
			res.FailedPages = append(res.FailedPages, batch.pageNums()...)
			results = append(results, nil)
			progress.CompletedUnits = i + 1
			onProgress(progress)
			continue
		}

		results = append(results, result)
		prior = append(prior, result)
		res.Batches++
		progress.CompletedUnits = i + 1
		onProgress(progress)
	}

	return results, nil
}

// analyzeBatch loads the batch's images, calls the vision client with the
// rendered context, and persists the result plus its per-page fan-out.
func (p *Pipeline) analyzeBatch(ctx context.Context, batch plannedBatch, window []*BatchResult) (*BatchResult, error) {
	r := batch.pageRange()

	images := make([][]byte, 0, len(batch.pages))
	for _, pg := range batch.pages {
		data, err := p.library.PageImage(ctx, p.bookID, pg.PageNum)
		if err != nil {
			return nil, err
		}
		images = append(images, data)
	}

	contextText := FormatContext(window)
	p.logger.Info("analyzing batch", "pages", r.Label(), "images", len(images), "context_batches", len(window))

	analysis, err := p.vision.AnalyzeBatch(ctx, images, r.Start, contextText)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Range:           r,
		ChapterID:       batch.chapterID,
		Summary:         analysis.BatchSummary,
		KeyEvents:       analysis.KeyEvents,
		ContinuityNotes: analysis.ContinuityNotes,
		AnalyzedAt:      time.Now().UTC(),
		ParseError:      analysis.ParseError,
	}
	for _, pg := range analysis.Pages {
		result.Pages = append(result.Pages, PageSummary{
			PageNumber: pg.PageNumber,
			Summary:    pg.Summary,
		})
	}

	if err := p.store.Put(store.BatchKey(r.Start, r.End), result); err != nil {
		return nil, err
	}

	for _, pg := range result.Pages {
		if pg.PageNumber == 0 {
			continue
		}
		record := PageRecord{
			PageNumber: pg.PageNumber,
			Summary:    pg.Summary,
			BatchRange: r,
			AnalyzedAt: result.AnalyzedAt,
		}
		if err := p.store.Put(store.PageKey(pg.PageNumber), record); err != nil {
			p.logger.Warn("failed to save page record", "page", pg.PageNumber, "error", err)
		}
	}

	return result, nil
}
