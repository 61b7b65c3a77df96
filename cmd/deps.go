package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/prmemory/internal/config"
	"github.com/prmemory/internal/database"
	"github.com/prmemory/internal/embedding"
	"github.com/prmemory/internal/llm"
	"github.com/prmemory/internal/logging"
	"github.com/prmemory/internal/memory"
	"github.com/prmemory/internal/pipeline"
	ghprovider "github.com/prmemory/internal/providers/github"
	"github.com/prmemory/internal/rag"
	"github.com/prmemory/internal/redact"
	"github.com/prmemory/internal/review"
)

// loadConfig reads and validates the configuration named by the global
// --config flag and sets up logging from it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deps is the wired service graph shared by serve, review and index.
type deps struct {
	cfg          *config.Config
	pool         *pgxpool.Pool
	settings     pipeline.Settings
	orchestrator *pipeline.Orchestrator
	indexer      *pipeline.Indexer
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	pool, err := database.NewPool(ctx, cfg.Database.URL, int32(cfg.Queue.MaxWorkers*2+4))
	if err != nil {
		return nil, err
	}

	emb, err := embedding.NewEmbedder(cfg.Embedding)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	store := embedding.NewPostgresStore(pool, emb)
	memSvc := memory.NewService(store, memory.NewPostgresHistoryStore(pool))
	retriever := rag.NewRetriever(store)

	base, err := llm.NewCompleter(ctx, cfg.LLM)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	opts := []review.Option{
		review.WithMaxTokens(cfg.LLM.MaxTokens),
		review.WithSummaryMaxTokens(cfg.LLM.SummaryMaxTokens),
	}
	if cfg.Review.RedactSecrets {
		r, err := redact.New()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create redactor: %w", err)
		}
		opts = append(opts, review.WithRedactor(r))
	}
	generator := review.NewGenerator(llm.NewResilientCompleterWithDefaults(base), opts...)

	auth, err := ghprovider.LoadAppAuth(cfg.GitHub.AppID, cfg.GitHub.PrivateKeyPath, cfg.GitHub.APIURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to load github app credentials: %w", err)
	}
	factory := ghprovider.NewClientFactory(auth, cfg.GitHub.APIURL, ghprovider.WithRateLimit(cfg.GitHub.RequestsPerSecond))
	hosts := func(ctx context.Context, installationID int64) (pipeline.CodeHost, error) {
		client, err := factory.ForInstallation(ctx, installationID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	settings := pipeline.SettingsFromConfig(cfg.Review)
	log.Debug().
		Str("llm_provider", cfg.LLM.Provider).
		Str("embedding_provider", cfg.Embedding.Provider).
		Int("max_files", settings.MaxFilesToReview).
		Bool("memory", settings.EnableMemoryPersistence).
		Msg("Service graph ready")

	return &deps{
		cfg:          cfg,
		pool:         pool,
		settings:     settings,
		orchestrator: pipeline.NewOrchestrator(hosts, retriever, memSvc, generator, settings),
		indexer:      pipeline.NewIndexer(hosts, retriever, settings),
	}, nil
}

func (d *deps) Close() {
	d.pool.Close()
}
