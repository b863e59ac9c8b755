package config

import "testing"

func TestAnalysisCfg_Tiers(t *testing.T) {
	tests := []struct {
		name      string
		cfg       AnalysisCfg
		wantLen   int
		wantFirst string
	}{
		{
			name:      "standard preset",
			cfg:       AnalysisCfg{ArchitecturePreset: PresetStandard},
			wantLen:   3,
			wantFirst: "批量分析",
		},
		{
			name:      "simple preset",
			cfg:       AnalysisCfg{ArchitecturePreset: PresetSimple},
			wantLen:   2,
			wantFirst: "批量分析",
		},
		{
			name:      "full preset",
			cfg:       AnalysisCfg{ArchitecturePreset: PresetFull},
			wantLen:   4,
			wantFirst: "批量分析",
		},
		{
			name:      "unknown preset falls back to standard",
			cfg:       AnalysisCfg{ArchitecturePreset: "bogus"},
			wantLen:   3,
			wantFirst: "批量分析",
		},
		{
			name: "custom with tiers",
			cfg: AnalysisCfg{
				ArchitecturePreset: PresetCustom,
				CustomTiers: []Tier{
					{Name: "batch", UnitsPerGroup: 4},
					{Name: "book", UnitsPerGroup: 0},
				},
			},
			wantLen:   2,
			wantFirst: "batch",
		},
		{
			name:      "custom without tiers falls back to standard",
			cfg:       AnalysisCfg{ArchitecturePreset: PresetCustom},
			wantLen:   3,
			wantFirst: "批量分析",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiers := tt.cfg.Tiers()
			if len(tiers) != tt.wantLen {
				t.Fatalf("len(tiers) = %d, want %d", len(tiers), tt.wantLen)
			}
			if tiers[0].Name != tt.wantFirst {
				t.Errorf("first tier = %q, want %q", tiers[0].Name, tt.wantFirst)
			}
			if !tiers[len(tiers)-1].CollapseAll() {
				t.Errorf("last tier should collapse all inputs")
			}
		})
	}
}

func TestTiers_ReturnsCopy(t *testing.T) {
	cfg := AnalysisCfg{ArchitecturePreset: PresetStandard}
	tiers := cfg.Tiers()
	tiers[0].Name = "mutated"

	again := cfg.Tiers()
	if again[0].Name != "批量分析" {
		t.Error("preset table was mutated by caller")
	}
}

func TestChapterBasedPreset_Alignment(t *testing.T) {
	tiers := AnalysisCfg{ArchitecturePreset: PresetChapterBased}.Tiers()
	if !tiers[0].AlignToChapter {
		t.Error("chapter_based batch tier should align to chapters")
	}
	if !tiers[1].AlignToChapter || !tiers[1].CollapseAll() {
		t.Error("chapter summary tier should be chapter-aligned collapse-all")
	}
	if tiers[2].AlignToChapter {
		t.Error("book tier should not be chapter-aligned")
	}
}

func TestAnalysisCfg_Validate(t *testing.T) {
	good := AnalysisCfg{PagesPerBatch: 5, ContextBatches: 1, ArchitecturePreset: PresetStandard}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	bad := AnalysisCfg{PagesPerBatch: 0, ContextBatches: 1}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for pages_per_batch = 0")
	}

	bad = AnalysisCfg{PagesPerBatch: 5, ContextBatches: 9}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for context_batches = 9")
	}

	bad = AnalysisCfg{
		PagesPerBatch:      5,
		ContextBatches:     1,
		ArchitecturePreset: PresetCustom,
		CustomTiers:        []Tier{{Name: ""}},
	}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unnamed tier")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("INSIGHT_TEST_KEY", "secret123")

	if got := ResolveEnvVars("${INSIGHT_TEST_KEY}"); got != "secret123" {
		t.Errorf("ResolveEnvVars() = %q", got)
	}
	if got := ResolveEnvVars("plain-value"); got != "plain-value" {
		t.Errorf("ResolveEnvVars() = %q", got)
	}
	if got := ResolveEnvVars("${MISSING_VAR_XYZ}"); got != "" {
		t.Errorf("ResolveEnvVars() = %q, want empty", got)
	}
}
