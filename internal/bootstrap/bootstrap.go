package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/promo-price-index/internal/config"
	"github.com/kirillkom/promo-price-index/internal/core/consensus"
	"github.com/kirillkom/promo-price-index/internal/core/ports"
	"github.com/kirillkom/promo-price-index/internal/core/priceindex"
	"github.com/kirillkom/promo-price-index/internal/core/usecase"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/chunking"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/dataset"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/dedup"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/extractor/document"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/queue/nats"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/resilience"
	"github.com/kirillkom/promo-price-index/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue     ports.IndexRequestQueue
	ImportUC  *usecase.ImportFlyerUseCase
	IndexUC   *usecase.ComputeIndexUseCase
	RequestUC *usecase.RequestIndexUseCase
	ProcessUC *usecase.ProcessIndexRequestUseCase

	closeFn func()
}

// New wires the application. observer receives retry and breaker events of the
// Ollama and NATS calls; it may be nil.
func New(ctx context.Context, cfg config.Config, observer resilience.RetryObserver) (*App, error) {
	weights, err := loadWeights(cfg.CategoryWeightsFile)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	snapshots := postgres.NewSnapshotRepository(db)
	products := postgres.NewProductRepository(db)
	results := postgres.NewIndexRepository(db)
	imports := postgres.NewImportRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(cfg.Resilience).
		WithPolicy("ollama.", resilience.ExtractionConfig(cfg.Resilience))
	if observer != nil {
		executor.WithObserver(observer)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSIndexSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaExtractModel, executor)
	extractor := ollama.NewProductExtractor(
		ollamaClient,
		document.NewReader(),
		chunking.NewSplitter(cfg.ExtractChunkSize, cfg.ExtractChunkOverlap),
	)
	engine := consensus.New(consensus.Options{
		NameSimilarityThreshold: cfg.ConsensusNameSimilarity,
		PriceTolerance:          consensus.DefaultPriceTolerance,
	})
	extractionUC := usecase.NewMultiPassExtractionUseCase(extractor, engine, cfg.ImportFailOnAllPassesFailed)

	importUC := usecase.NewImportFlyerUseCase(
		storage,
		imports,
		extractionUC,
		cfg.ImportMaxUploadBytes,
		cfg.ImportPassCount,
	)
	indexUC := usecase.NewComputeIndexUseCase(
		snapshots,
		products,
		results,
		priceindex.NewEngine(weights),
		cfg.IndexBatchConcurrency,
	)
	requestUC := usecase.NewRequestIndexUseCase(queue)
	processUC := usecase.NewProcessIndexRequestUseCase(indexUC, dedup.New(cfg.DedupCacheSize))

	return &App{
		Config: cfg,
		Queue:  queue,

		ImportUC:  importUC,
		IndexUC:   indexUC,
		RequestUC: requestUC,
		ProcessUC: processUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func loadWeights(path string) (priceindex.Weights, error) {
	if path == "" {
		return priceindex.DefaultWeights, nil
	}
	overrides, err := dataset.LoadWeights(path)
	if err != nil {
		return nil, fmt.Errorf("load category weights: %w", err)
	}
	slog.Info("category_weights_loaded", "path", path, "overrides", len(overrides))
	return priceindex.DefaultWeights.Merge(overrides), nil
}
