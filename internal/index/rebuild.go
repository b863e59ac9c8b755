package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/panelworks/insight/internal/analysis"
	"github.com/panelworks/insight/internal/providers"
	"github.com/panelworks/insight/internal/store"
)

// minEventLength filters key events too short to be worth indexing.
const minEventLength = 5

// Rebuilder regenerates the semantic index from stored batch results.
type Rebuilder struct {
	store  *store.Store
	index  Index
	embed  providers.EmbeddingClient
	logger *slog.Logger
}

// NewRebuilder creates a rebuilder over the book's store.
func NewRebuilder(st *store.Store, idx Index, embed providers.EmbeddingClient, logger *slog.Logger) *Rebuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{store: st, index: idx, embed: embed, logger: logger}
}

// Rebuild drops every indexed entry and re-adds one vector per page summary
// and per qualifying key event. A single failed embedding is logged and
// skipped; the rebuild keeps going.
func (r *Rebuilder) Rebuild(ctx context.Context) error {
	ranges, err := store.ListBatchRanges(r.store)
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}
	if len(ranges) == 0 {
		r.logger.Info("no batch results, skipping index rebuild")
		return nil
	}

	if err := r.index.DeleteAllPages(ctx); err != nil {
		return fmt.Errorf("failed to clear page index: %w", err)
	}
	if err := r.index.DeleteAllEvents(ctx); err != nil {
		return fmt.Errorf("failed to clear event index: %w", err)
	}

	pagesIndexed, eventsIndexed := 0, 0
	for _, rg := range ranges {
		var batch analysis.BatchResult
		found, err := r.store.Get(store.BatchKey(rg[0], rg[1]), &batch)
		if err != nil || !found {
			continue
		}
		batchID := fmt.Sprintf("batch_%d_%d", rg[0], rg[1])

		for _, page := range batch.Pages {
			if page.PageNumber == 0 || page.Summary == "" {
				continue
			}
			vector, err := r.embed.Embed(ctx, page.Summary)
			if err != nil {
				r.logger.Warn("failed to embed page summary", "page", page.PageNumber, "error", err)
				continue
			}
			meta := map[string]string{
				"page_summary": page.Summary,
				"type":         "page",
				"parent_batch": batchID,
			}
			if err := r.index.AddPageEmbedding(ctx, page.PageNumber, vector, meta); err != nil {
				r.logger.Warn("failed to index page", "page", page.PageNumber, "error", err)
				continue
			}
			pagesIndexed++
		}

		for i, event := range batch.KeyEvents {
			event = strings.TrimSpace(event)
			if utf8.RuneCountInString(event) < minEventLength {
				continue
			}
			vector, err := r.embed.Embed(ctx, event)
			if err != nil {
				r.logger.Warn("failed to embed event", "batch", batchID, "error", err)
				continue
			}
			eventID := fmt.Sprintf("event_%d_%d_%d", rg[0], rg[1], i)
			meta := map[string]string{
				"content":      event,
				"type":         "event",
				"parent_batch": batchID,
			}
			if err := r.index.AddEventEmbedding(ctx, eventID, vector, meta); err != nil {
				r.logger.Warn("failed to index event", "event", eventID, "error", err)
				continue
			}
			eventsIndexed++
		}
	}

	r.logger.Info("semantic index rebuilt", "pages", pagesIndexed, "events", eventsIndexed)
	return nil
}
