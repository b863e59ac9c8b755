package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/panelworks/insight/internal/config"
	"github.com/panelworks/insight/internal/library"
	"github.com/panelworks/insight/internal/providers"
	"github.com/panelworks/insight/internal/store"
)

// Kind selects which pages a pipeline run covers.
type Kind string

const (
	KindFullBook      Kind = "full_book"
	KindSingleChapter Kind = "single_chapter"
	KindIncremental   Kind = "incremental"
	KindReanalyze     Kind = "reanalyze"
)

// IndexRebuilder rebuilds the semantic index from stored batch results.
// Finalization triggers it asynchronously; failures are logged, never fatal.
type IndexRebuilder interface {
	Rebuild(ctx context.Context) error
}

// Options parameterize one pipeline run.
type Options struct {
	Kind           Kind
	Force          bool // bypass the batch cache
	PagesPerBatch  int
	ContextBatches int
	Tiers          []config.Tier
	Chapters       []string // KindSingleChapter targets
	Pages          []int    // KindReanalyze targets
}

// Result summarizes a finished (or cancelled) run.
type Result struct {
	FailedPages []int `json:"failed_pages,omitempty"`
	Batches     int   `json:"batches"`
	Segments    int   `json:"segments"`
}

// Pipeline drives the tier chain for one book.
type Pipeline struct {
	bookID  string
	vision  providers.VisionClient
	text    providers.TextClient
	library library.Provider
	store   *store.Store
	index   IndexRebuilder // optional
	logger  *slog.Logger
}

// NewPipeline creates a pipeline bound to one book. index may be nil when no
// embedding provider is configured.
func NewPipeline(bookID string, vision providers.VisionClient, text providers.TextClient, lib library.Provider, st *store.Store, index IndexRebuilder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		bookID:  bookID,
		vision:  vision,
		text:    text,
		library: lib,
		store:   st,
		index:   index,
		logger:  logger.With("book_id", bookID),
	}
}

// Run executes the tier chain for the configured kind: batch analysis, the
// middle aggregation tiers in order, then finalization. gate is consulted
// before every batch and group; a cancel observed there returns ErrCancelled
// with all work persisted so far left intact.
func (p *Pipeline) Run(ctx context.Context, opts Options, gate Gate, onProgress func(Progress)) (*Result, error) {
	if gate == nil {
		gate = NopGate{}
	}
	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	if opts.PagesPerBatch <= 0 {
		opts.PagesPerBatch = 5
	}
	if len(opts.Tiers) == 0 {
		return nil, fmt.Errorf("no analysis tiers configured")
	}

	pages, err := p.library.BookPages(ctx, p.bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load book pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("book %q has no pages to analyze", p.bookID)
	}
	chapters, err := p.library.ChapterBoundaries(ctx, p.bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter boundaries: %w", err)
	}

	res := &Result{}

	switch opts.Kind {
	case KindSingleChapter:
		err = p.runChapters(ctx, opts, gate, onProgress, pages, chapters, res)
	case KindIncremental:
		err = p.runIncremental(ctx, opts, gate, onProgress, pages, chapters, res)
	case KindReanalyze:
		err = p.runReanalyze(ctx, opts, gate, onProgress, pages, res)
	default:
		err = p.runFullBook(ctx, opts, gate, onProgress, pages, chapters, res)
	}
	if err != nil {
		return res, err
	}

	if err := gate.Wait(ctx); err != nil {
		return res, err
	}
	p.finalize(ctx, onProgress, len(pages))
	return res, nil
}

// runFullBook analyzes every page, then runs the middle tiers over the
// planned batch list. Failed batches stay in the list as gaps so group
// boundaries don't shift.
func (p *Pipeline) runFullBook(ctx context.Context, opts Options, gate Gate, onProgress func(Progress), pages []library.Page, chapters []library.Chapter, res *Result) error {
	plan := partition(pages, opts.PagesPerBatch, opts.Tiers[0].AlignToChapter)
	results, err := p.runBatchTier(ctx, plan, opts, opts.Force, nil, gate, onProgress, res)
	if err != nil {
		return err
	}
	return p.runMiddleTiers(ctx, opts.Tiers, batchInputs(results), chapters, "", gate, onProgress, res)
}

// runChapters runs the tier chain once per target chapter, scoping segment
// identities to the chapter so whole-book segments are not clobbered.
func (p *Pipeline) runChapters(ctx context.Context, opts Options, gate Gate, onProgress func(Progress), pages []library.Page, chapters []library.Chapter, res *Result) error {
	for _, chID := range opts.Chapters {
		var chPages []library.Page
		for _, pg := range pages {
			if pg.ChapterID == chID {
				chPages = append(chPages, pg)
			}
		}
		if len(chPages) == 0 {
			return fmt.Errorf("chapter %q not found or has no pages", chID)
		}

		plan := partition(chPages, opts.PagesPerBatch, false)
		results, err := p.runBatchTier(ctx, plan, opts, opts.Force, nil, gate, onProgress, res)
		if err != nil {
			return err
		}
		if err := p.runMiddleTiers(ctx, opts.Tiers, batchInputs(results), chapters, chID+"_", gate, onProgress, res); err != nil {
			return err
		}
	}
	return nil
}

// runIncremental analyzes only pages beyond the last stored batch range,
// seeding the context window from stored results, then re-aggregates over
// the full stored batch set.
func (p *Pipeline) runIncremental(ctx context.Context, opts Options, gate Gate, onProgress func(Progress), pages []library.Page, chapters []library.Chapter, res *Result) error {
	ranges, err := store.ListBatchRanges(p.store)
	if err != nil {
		return fmt.Errorf("failed to list stored batches: %w", err)
	}
	maxEnd := 0
	for _, r := range ranges {
		if r[1] > maxEnd {
			maxEnd = r[1]
		}
	}

	var newPages []library.Page
	for _, pg := range pages {
		if pg.PageNum > maxEnd {
			newPages = append(newPages, pg)
		}
	}

	if len(newPages) == 0 {
		p.logger.Info("incremental analysis found no new pages", "analyzed_through", maxEnd)
	} else {
		prior, err := p.loadStoredBatches(PageRange{Start: 1, End: maxEnd})
		if err != nil {
			return err
		}
		plan := partition(newPages, opts.PagesPerBatch, opts.Tiers[0].AlignToChapter)
		if _, err := p.runBatchTier(ctx, plan, opts, opts.Force, prior, gate, onProgress, res); err != nil {
			return err
		}
	}

	all, err := p.loadStoredBatches(PageRange{Start: 1, End: len(pages)})
	if err != nil {
		return err
	}
	return p.runMiddleTiers(ctx, opts.Tiers, batchInputs(all), chapters, "", gate, onProgress, res)
}

// runReanalyze recomputes the exact batch ranges covering the target pages:
// the stale records are deleted first, then recreated with the cache
// bypassed. Middle tiers are left alone; finalization refreshes the
// overview from the stored data.
func (p *Pipeline) runReanalyze(ctx context.Context, opts Options, gate Gate, onProgress func(Progress), pages []library.Page, res *Result) error {
	if len(opts.Pages) == 0 {
		return fmt.Errorf("no pages selected for re-analysis")
	}
	targets := make(map[int]bool, len(opts.Pages))
	for _, n := range opts.Pages {
		targets[n] = true
	}

	full := partition(pages, opts.PagesPerBatch, opts.Tiers[0].AlignToChapter)
	var plan []plannedBatch
	for _, b := range full {
		for _, pg := range b.pages {
			if targets[pg.PageNum] {
				plan = append(plan, b)
				break
			}
		}
	}
	if len(plan) == 0 {
		return fmt.Errorf("selected pages are out of range")
	}

	for _, b := range plan {
		if err := p.store.Delete(store.BatchKey(b.pageRange().Start, b.pageRange().End)); err != nil {
			return err
		}
	}

	_, err := p.runBatchTier(ctx, plan, opts, true, nil, gate, onProgress, res)
	return err
}

// runMiddleTiers executes tiers[1:len-1] in order, each consuming the
// previous tier's outputs. The final tier is handled by finalization.
func (p *Pipeline) runMiddleTiers(ctx context.Context, tiers []config.Tier, inputs []*tierInput, chapters []library.Chapter, idPrefix string, gate Gate, onProgress func(Progress), res *Result) error {
	for tierIdx := 1; tierIdx < len(tiers)-1; tierIdx++ {
		tier := tiers[tierIdx]
		if len(inputs) == 0 {
			p.logger.Warn("aggregation tier has no inputs, skipping", "tier", tier.Name)
			return nil
		}

		var (
			outputs []*tierInput
			err     error
		)
		if tier.AlignToChapter && tier.CollapseAll() {
			outputs, err = p.runChapterTier(ctx, tier, inputs, chapters, gate, onProgress, res)
		} else {
			outputs, err = p.runFixedTier(ctx, tier, tierIdx, inputs, idPrefix, gate, onProgress, res)
		}
		if err != nil {
			return err
		}
		inputs = outputs
	}
	return nil
}

// loadStoredBatches reads every stored batch result overlapping span,
// sorted by start page.
func (p *Pipeline) loadStoredBatches(span PageRange) ([]*BatchResult, error) {
	ranges, err := store.ListBatchRanges(p.store)
	if err != nil {
		return nil, err
	}
	var results []*BatchResult
	for _, r := range ranges {
		br := PageRange{Start: r[0], End: r[1]}
		if !br.Overlaps(span) {
			continue
		}
		var b BatchResult
		found, err := p.store.Get(store.BatchKey(r[0], r[1]), &b)
		if err != nil {
			return nil, err
		}
		if found {
			results = append(results, &b)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Range.Start < results[j].Range.Start })
	return results, nil
}

// plannedBatch is one contiguous page group scheduled for a vision call.
type plannedBatch struct {
	pages     []library.Page
	chapterID string // set when partitioning was chapter-aligned
}

func (b plannedBatch) pageRange() PageRange {
	return PageRange{Start: b.pages[0].PageNum, End: b.pages[len(b.pages)-1].PageNum}
}

func (b plannedBatch) pageNums() []int {
	nums := make([]int, len(b.pages))
	for i, pg := range b.pages {
		nums[i] = pg.PageNum
	}
	return nums
}

// partition splits pages into consecutive groups of perBatch. With
// alignToChapter set, partitioning restarts at every chapter boundary so no
// batch spans two chapters.
func partition(pages []library.Page, perBatch int, alignToChapter bool) []plannedBatch {
	if len(pages) == 0 {
		return nil
	}

	if !alignToChapter {
		return chunk(pages, perBatch, "")
	}

	var out []plannedBatch
	start := 0
	for i := 1; i <= len(pages); i++ {
		if i == len(pages) || pages[i].ChapterID != pages[start].ChapterID {
			out = append(out, chunk(pages[start:i], perBatch, pages[start].ChapterID)...)
			start = i
		}
	}
	return out
}

func chunk(pages []library.Page, perBatch int, chapterID string) []plannedBatch {
	var out []plannedBatch
	for i := 0; i < len(pages); i += perBatch {
		end := i + perBatch
		if end > len(pages) {
			end = len(pages)
		}
		out = append(out, plannedBatch{pages: pages[i:end], chapterID: chapterID})
	}
	return out
}
