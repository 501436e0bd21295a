// Package main provides the entry point for the BOQ matching Temporal worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"

	"github.com/stavmatch/boq-matching-service/internal/cache"
	"github.com/stavmatch/boq-matching-service/internal/catalog"
	"github.com/stavmatch/boq-matching-service/internal/catalog/local"
	"github.com/stavmatch/boq-matching-service/internal/catalog/rts"
	"github.com/stavmatch/boq-matching-service/internal/catalog/urs"
	"github.com/stavmatch/boq-matching-service/internal/config"
	"github.com/stavmatch/boq-matching-service/internal/database"
	"github.com/stavmatch/boq-matching-service/internal/events"
	"github.com/stavmatch/boq-matching-service/internal/llm"
	"github.com/stavmatch/boq-matching-service/internal/observability"
	"github.com/stavmatch/boq-matching-service/internal/pipeline"
	"github.com/stavmatch/boq-matching-service/internal/repository"
	"github.com/stavmatch/boq-matching-service/internal/reranker"
	"github.com/stavmatch/boq-matching-service/internal/retriever"
	"github.com/stavmatch/boq-matching-service/internal/splitter"
	"github.com/stavmatch/boq-matching-service/internal/temporal"
	"github.com/stavmatch/boq-matching-service/internal/temporal/activities"
	"github.com/stavmatch/boq-matching-service/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("boq-matching-service worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Create repositories.
	jobRepo := repository.NewPgJobRepository(db)
	itemRepo := repository.NewPgItemRepository(db)
	cacheRepo := repository.NewPgCacheRepository(db)

	// Create metrics.
	metrics := observability.NewMetrics("boq_matching")

	// Create the stage result cache and start its expiry sweeper.
	var resultCache *cache.Cache
	if cfg.Cache.Enabled {
		resultCache = cache.New(cacheRepo, cache.TTLConfig{
			Split:    cfg.Cache.SplitTTL,
			Retrieve: cfg.Cache.RetrieveTTL,
			Rerank:   cfg.Cache.RerankTTL,
		}, logger, metrics)
		go resultCache.RunSweeper(ctx, cfg.Cache.SweepInterval)
		logger.Info().Dur("sweep_interval", cfg.Cache.SweepInterval).Msg("stage result cache enabled")
	}

	// Create the classification client.
	llmClient, err := llm.NewClient(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	logger.Info().Str("provider", cfg.LLM.Provider).Msg("LLM client created")

	// Create the catalog source registry and register enabled sources.
	registry := catalog.NewRegistry()
	if err := registerCatalogSources(registry, cfg, logger); err != nil {
		return err
	}
	registry.SetRoles(catalog.SourceURS, catalog.SourceRTS, catalog.SourceLocal)

	// Assemble the per-item pipeline.
	workSplitter := splitter.New(llmClient, resultCache, logger, metrics)
	candidateRetriever := retriever.New(registry, resultCache, retriever.Config{
		ShortCircuitScore: cfg.Catalog.Local.ShortCircuitScore,
	}, logger, metrics)
	candidateReranker := reranker.New(llmClient, resultCache, logger, metrics)
	processor := pipeline.New(workSplitter, candidateRetriever, candidateReranker, logger, metrics)

	// Create the job lifecycle event publisher.
	var publisher activities.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := events.NewKafkaPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("create kafka publisher: %w", err)
		}
		defer func() {
			if closeErr := kafkaPublisher.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close kafka publisher")
			}
		}()
		publisher = kafkaPublisher
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka publisher created")
	} else {
		publisher = events.NoopPublisher{}
	}

	// Create Temporal client.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	// Create WorkerManager.
	workerConfig := temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue)
	manager, err := temporal.NewWorkerManager(temporalClient, workerConfig)
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}

	// Register workflows.
	manager.RegisterWorkflow(workflows.BatchMatchWorkflow)

	// Create and register all activity structs.
	jobActivities := activities.NewJobActivities(jobRepo, itemRepo, metrics)
	itemActivities := activities.NewItemActivities(itemRepo, jobRepo, processor, metrics)
	eventActivities := activities.NewEventActivities(publisher, jobRepo)

	manager.RegisterActivity(jobActivities)
	manager.RegisterActivity(itemActivities)
	manager.RegisterActivity(eventActivities)

	logger.Info().
		Str("task_queue", cfg.Temporal.TaskQueue).
		Msg("starting temporal worker")

	// Start the worker and block until context is cancelled.
	if err := manager.Start(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped via signal")
			return nil
		}
		return fmt.Errorf("worker error: %w", err)
	}

	return nil
}

// registerCatalogSources registers all enabled catalog sources with the registry.
func registerCatalogSources(registry *catalog.Registry, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Catalog.URS.Enabled {
		ursCfg := cfg.Catalog.URS
		registry.Register(urs.New(urs.Config{
			BaseURL:    ursCfg.BaseURL,
			APIKey:     ursCfg.APIKey,
			Timeout:    ursCfg.Timeout,
			RateLimit:  ursCfg.RateLimit,
			MaxResults: ursCfg.MaxResults,
			Enabled:    true,
		}))
		logger.Info().Msg("registered catalog source: URS")
	}

	if cfg.Catalog.RTS.Enabled {
		rtsCfg := cfg.Catalog.RTS
		registry.Register(rts.New(rts.Config{
			BaseURL:    rtsCfg.BaseURL,
			APIKey:     rtsCfg.APIKey,
			Timeout:    rtsCfg.Timeout,
			RateLimit:  rtsCfg.RateLimit,
			MaxResults: rtsCfg.MaxResults,
			Enabled:    true,
		}))
		logger.Info().Msg("registered catalog source: RTS")
	}

	if cfg.Catalog.Local.Enabled {
		localCatalog, err := local.Load(local.Config{
			Path:       cfg.Catalog.Local.Path,
			MaxResults: cfg.Catalog.Local.MaxResults,
			Enabled:    true,
		})
		if err != nil {
			return fmt.Errorf("load local catalog: %w", err)
		}
		registry.Register(localCatalog)
		logger.Info().Str("path", cfg.Catalog.Local.Path).Int("entries", localCatalog.Len()).Msg("registered catalog source: local")
	}

	return nil
}
