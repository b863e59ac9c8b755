package config

import (
	"errors"
	"fmt"
)

// Architecture preset names.
const (
	PresetSimple       = "simple"
	PresetStandard     = "standard"
	PresetChapterBased = "chapter_based"
	PresetFull         = "full"
	PresetCustom       = "custom"
)

// Tier describes one stage of the aggregation chain. The first tier is
// always the batch-analysis tier; the last tier always collapses its full
// input into a single book-level synopsis.
type Tier struct {
	// Name is the display name used in progress phases and segment keys.
	Name string `mapstructure:"name" yaml:"name"`
	// UnitsPerGroup is how many inputs of the previous tier are condensed
	// into one output. 0 means collapse all inputs into one output.
	UnitsPerGroup int `mapstructure:"units_per_group" yaml:"units_per_group"`
	// AlignToChapter forces grouping to follow chapter boundaries. On the
	// batch tier it keeps batches from spanning chapters; on an aggregation
	// tier it groups batch results per-chapter instead of by count.
	AlignToChapter bool `mapstructure:"align_to_chapter" yaml:"align_to_chapter"`
}

// CollapseAll reports whether the tier reduces its whole input to one output.
func (t Tier) CollapseAll() bool {
	return t.UnitsPerGroup <= 0
}

var presetTiers = map[string][]Tier{
	PresetSimple: {
		{Name: "批量分析", UnitsPerGroup: 5},
		{Name: "全书总结", UnitsPerGroup: 0},
	},
	PresetStandard: {
		{Name: "批量分析", UnitsPerGroup: 5},
		{Name: "段落总结", UnitsPerGroup: 5},
		{Name: "全书总结", UnitsPerGroup: 0},
	},
	PresetChapterBased: {
		{Name: "批量分析", UnitsPerGroup: 5, AlignToChapter: true},
		{Name: "章节总结", UnitsPerGroup: 0, AlignToChapter: true},
		{Name: "全书总结", UnitsPerGroup: 0},
	},
	PresetFull: {
		{Name: "批量分析", UnitsPerGroup: 5},
		{Name: "小总结", UnitsPerGroup: 5},
		{Name: "章节总结", UnitsPerGroup: 0, AlignToChapter: true},
		{Name: "全书总结", UnitsPerGroup: 0},
	},
}

// ErrNoTiers is returned when an architecture resolves to an empty tier list.
var ErrNoTiers = errors.New("architecture must contain at least the batch tier")

// Tiers resolves the configured architecture into its tier chain.
// Unknown presets fall back to standard; custom without custom_tiers
// also falls back to standard, matching the original behavior.
func (a AnalysisCfg) Tiers() []Tier {
	if a.ArchitecturePreset == PresetCustom && len(a.CustomTiers) > 0 {
		return a.CustomTiers
	}
	tiers, ok := presetTiers[a.ArchitecturePreset]
	if !ok {
		tiers = presetTiers[PresetStandard]
	}
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// Validate checks the analysis settings before a run starts.
func (a AnalysisCfg) Validate() error {
	if a.PagesPerBatch < 1 || a.PagesPerBatch > 10 {
		return fmt.Errorf("pages_per_batch must be in [1,10], got %d", a.PagesPerBatch)
	}
	if a.ContextBatches < 0 || a.ContextBatches > 5 {
		return fmt.Errorf("context_batches must be in [0,5], got %d", a.ContextBatches)
	}
	tiers := a.Tiers()
	if len(tiers) == 0 {
		return ErrNoTiers
	}
	for i, tier := range tiers {
		if tier.Name == "" {
			return fmt.Errorf("tier %d has no name", i)
		}
	}
	return nil
}
