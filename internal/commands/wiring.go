package commands

import (
	"context"
	"fmt"
	"os"

	gbq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/spesalog/spesalog/internal/agent"
	"github.com/spesalog/spesalog/internal/batch"
	"github.com/spesalog/spesalog/internal/config"
	"github.com/spesalog/spesalog/internal/gcsarchive"
	bqstore "github.com/spesalog/spesalog/internal/infra/bigquery"
	"github.com/spesalog/spesalog/internal/logger"
	"github.com/spesalog/spesalog/internal/match"
	"github.com/spesalog/spesalog/internal/pipeline"
	"github.com/spesalog/spesalog/internal/store"
	"github.com/spesalog/spesalog/internal/store/inmemory"
	"github.com/spesalog/spesalog/internal/structure"
)

// App bundles the wired dependencies a command needs. Everything is
// constructed once per invocation and injected; nothing is global.
type App struct {
	Cfg       *config.Config
	Log       zerolog.Logger
	Store     store.Store
	Model     agent.Categorizer
	Detector  *structure.Detector
	Processor *pipeline.Processor
	Archive   *gcsarchive.Archive

	closers []func() error
}

// Close releases the clients the app holds.
func (a *App) Close() {
	for _, c := range a.closers {
		_ = c()
	}
}

// BuildApp wires configuration, storage, model backend and pipeline.
// Exported for cmd/worker, which shares the wiring.
func BuildApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	app := &App{Cfg: cfg, Log: logger.New("spesalog")}

	if cfg.ProjectID != "" {
		client, err := gbq.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("bigquery client: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		app.Store = bqstore.New(client, cfg.Dataset)
	} else {
		// Without a project the run is self-contained: ingest and process
		// must happen in the same invocation.
		app.Store = inmemory.New()
	}

	var embedder match.Embedder
	switch {
	case cfg.Simulate:
		app.Model = agent.NewFake(nil)
	case cfg.ModelBackend == "openai":
		client := agent.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), cfg.OpenAIBaseURL, agent.Options{
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			MaxRetries:     cfg.MaxRetries,
			RetryBaseDelay: cfg.RetryBaseDelay,
			Timeout:        cfg.ModelTimeout,
		})
		app.Model = client
		embedder = client
	default:
		client, err := agent.NewGeminiClient(ctx, agent.Options{
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			MaxRetries:     cfg.MaxRetries,
			RetryBaseDelay: cfg.RetryBaseDelay,
			Timeout:        cfg.ModelTimeout,
		})
		if err != nil {
			return nil, err
		}
		app.Model = client
		embedder = client
	}

	if cfg.ArchiveBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		app.Archive = gcsarchive.New(client, cfg.ArchiveBucket)
	}

	learner := match.NewTemplateLearner(app.Store, cfg.TemplateMinSample, cfg.TemplateFreqThreshold)
	matcher := match.New(app.Store, embedder, learner, match.Config{
		FuzzyThreshold:          cfg.FuzzyThreshold,
		MerchantFuzzyThreshold:  cfg.MerchantFuzzyThreshold,
		SemanticAutoDistance:    cfg.SemanticAutoDistance,
		SemanticContextDistance: cfg.SemanticContextDistance,
		HistoryLimit:            cfg.HistoryLimit,
	})
	app.Detector = structure.NewDetector(app.Store, app.Model, structure.Config{
		SamplePercent: cfg.SamplePercent,
		SampleFloor:   cfg.SampleFloor,
		DateParseRate: cfg.DateParseRate,
	})
	app.Processor = pipeline.New(app.Store, matcher, app.Model, app.Detector, pipeline.Config{
		Batch:            batch.Bounds{Size: cfg.BatchSize, Min: cfg.BatchMin, Max: cfg.BatchMax},
		StuckGracePeriod: cfg.StuckGracePeriod,
	})
	return app, nil
}

// archiver adapts the optional GCS archive to the pipeline interface;
// a nil *Archive must become a nil interface.
func (a *App) archiver() pipeline.Archiver {
	if a.Archive == nil {
		return nil
	}
	return a.Archive
}
