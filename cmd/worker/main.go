// Package main provides the entry point for the reference harvester Temporal worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"

	"github.com/medscribe/reference-harvester/internal/classify"
	"github.com/medscribe/reference-harvester/internal/config"
	"github.com/medscribe/reference-harvester/internal/database"
	"github.com/medscribe/reference-harvester/internal/events"
	"github.com/medscribe/reference-harvester/internal/observability"
	"github.com/medscribe/reference-harvester/internal/pipeline"
	"github.com/medscribe/reference-harvester/internal/repository"
	"github.com/medscribe/reference-harvester/internal/scoring"
	"github.com/medscribe/reference-harvester/internal/sources"
	"github.com/medscribe/reference-harvester/internal/sources/clinicaltrials"
	"github.com/medscribe/reference-harvester/internal/sources/pubmed"
	"github.com/medscribe/reference-harvester/internal/temporal"
	"github.com/medscribe/reference-harvester/internal/temporal/activities"
	"github.com/medscribe/reference-harvester/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("reference-harvester worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("refharvest")

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	referenceRepo := repository.NewPgReferenceRepository(db, metrics, logger)
	insightRepo := repository.NewPgInsightRepository(db)

	// External reference sources.
	registry := sources.NewRegistry()
	registry.Register(pubmed.New(pubmed.Config{
		BaseURL:     cfg.Sources.PubMed.BaseURL,
		APIKey:      cfg.Sources.PubMed.APIKey,
		Timeout:     cfg.Sources.PubMed.Timeout,
		RateLimit:   cfg.Sources.PubMed.RateLimit,
		MaxAttempts: cfg.Sources.PubMed.MaxAttempts,
		RetryDelay:  cfg.Sources.PubMed.RetryDelay,
		MaxResults:  cfg.Harvest.MaxPerSource,
		Enabled:     cfg.Sources.PubMed.Enabled,
	}, logger))
	registry.Register(clinicaltrials.New(clinicaltrials.Config{
		BaseURL:     cfg.Sources.ClinicalTrials.BaseURL,
		Timeout:     cfg.Sources.ClinicalTrials.Timeout,
		RateLimit:   cfg.Sources.ClinicalTrials.RateLimit,
		MaxAttempts: cfg.Sources.ClinicalTrials.MaxAttempts,
		RetryDelay:  cfg.Sources.ClinicalTrials.RetryDelay,
		MaxResults:  cfg.Harvest.MaxPerSource,
		Enabled:     cfg.Sources.ClinicalTrials.Enabled,
	}, logger))

	// Entity extraction for summaries and keywords.
	extractor := classify.NewClient(classify.ClientConfig{
		Endpoint: cfg.Classifier.Endpoint,
		APIKey:   cfg.Classifier.APIKey,
		Timeout:  cfg.Classifier.Timeout,
	}, logger)
	classifier := classify.NewClassifier(extractor, cfg.Classifier.MaxTextLength, logger)

	harvestPipeline := pipeline.New(
		registry,
		classifier,
		scoring.NewScorer(),
		referenceRepo,
		metrics,
		pipeline.Config{
			Retention:         cfg.Harvest.Retention,
			EnrichmentWorkers: cfg.Harvest.EnrichmentWorkers,
		},
		logger,
	)

	// Harvest event publishing is optional.
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Kafka.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, metrics, logger)
		defer func() {
			if closeErr := kafkaPublisher.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close event publisher")
			}
		}()
		publisher = kafkaPublisher
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka event publisher enabled")
	}

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

	manager, err := temporal.NewWorkerManager(temporalClient, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue))
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	harvestActivities := activities.NewHarvestActivities(harvestPipeline, referenceRepo, insightRepo, publisher)
	manager.RegisterWorkflow(workflows.HarvestWorkflow)
	manager.RegisterActivity(harvestActivities.RunHarvest)
	manager.RegisterActivity(harvestActivities.PurgeExpired)
	manager.RegisterActivity(harvestActivities.PublishHarvestEvent)

	// Recurring harvests, when configured.
	if cfg.Temporal.CronSchedule != "" {
		harvestClient := temporal.NewHarvestWorkflowClient(temporalClient, temporal.ClientConfig{
			TaskQueue: cfg.Temporal.TaskQueue,
		}, workflows.HarvestWorkflow)

		err := harvestClient.StartCronHarvest(ctx, cfg.Temporal.CronSchedule, temporal.HarvestWorkflowInput{
			LiteratureQuery: cfg.Harvest.LiteratureQuery,
			TrialsQuery:     cfg.Harvest.TrialsQuery,
			MaxPerSource:    cfg.Harvest.MaxPerSource,
		})
		if err != nil {
			return fmt.Errorf("schedule cron harvest: %w", err)
		}
		logger.Info().Str("schedule", cfg.Temporal.CronSchedule).Msg("cron harvest scheduled")
	}

	logger.Info().
		Str("task_queue", cfg.Temporal.TaskQueue).
		Msg("reference-harvester worker is ready")

	if err := manager.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	logger.Info().Msg("reference-harvester worker shutdown complete")
	return nil
}
