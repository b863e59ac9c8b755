package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panelworks/insight/internal/analysis"
	"github.com/panelworks/insight/internal/config"
	"github.com/panelworks/insight/internal/home"
	"github.com/panelworks/insight/internal/index"
	"github.com/panelworks/insight/internal/library"
	"github.com/panelworks/insight/internal/providers"
	"github.com/panelworks/insight/internal/store"
)

// PipelineRunner builds and runs an analysis pipeline per task. Clients and
// pipeline options are resolved from the current configuration at start
// time, so config changes apply to the next task without a restart.
type PipelineRunner struct {
	homeDir *home.Dir
	cfg     *config.Manager
	logger  *slog.Logger
}

func NewPipelineRunner(homeDir *home.Dir, cfg *config.Manager, logger *slog.Logger) *PipelineRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineRunner{homeDir: homeDir, cfg: cfg, logger: logger}
}

func (r *PipelineRunner) Run(ctx context.Context, task Snapshot, gate analysis.Gate, onProgress func(analysis.Progress)) (*analysis.Result, error) {
	cfg := r.cfg.Get()
	if err := cfg.Analysis.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis configuration: %w", err)
	}

	vision, err := chatClient("vision", cfg.Providers.Vision)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	text, err := chatClient("text", cfg.TextProvider())
	if err != nil {
		return nil, fmt.Errorf("creating text client: %w", err)
	}

	st := store.New(r.homeDir.AnalysisPath(task.BookID))

	var rebuilder analysis.IndexRebuilder
	if embCfg := cfg.Providers.Embedding; embCfg.APIKey != "" {
		embed, err := providers.NewOpenAIEmbeddings(providers.EmbeddingConfig{
			BaseURL: embCfg.BaseURL,
			APIKey:  config.ResolveEnvVars(embCfg.APIKey),
			Model:   embCfg.Model,
			RPM:     embCfg.RateLimit,
			Timeout: time.Duration(embCfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedding client: %w", err)
		}
		rebuilder = index.NewRebuilder(st, index.NewFileIndex(st), embed, r.logger)
	}

	pipe := analysis.NewPipeline(task.BookID, vision, text, library.NewFSProvider(r.homeDir), st, rebuilder, r.logger)

	return pipe.Run(ctx, analysis.Options{
		Kind:           task.Kind,
		Force:          task.Force,
		PagesPerBatch:  cfg.Analysis.PagesPerBatch,
		ContextBatches: cfg.Analysis.ContextBatches,
		Tiers:          cfg.Analysis.Tiers(),
		Chapters:       task.Chapters,
		Pages:          task.Pages,
	}, gate, onProgress)
}

func chatClient(name string, cfg config.ProviderCfg) (*providers.ChatClient, error) {
	return providers.NewChatClient(providers.ChatConfig{
		Name:       name,
		BaseURL:    cfg.BaseURL,
		APIKey:     config.ResolveEnvVars(cfg.APIKey),
		Model:      cfg.Model,
		RPM:        cfg.RateLimit,
		MaxRetries: cfg.MaxRetries,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
}
