package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/api"
	"github.com/localnewslab/newsminer/internal/botsense"
	"github.com/localnewslab/newsminer/internal/clock/system"
	"github.com/localnewslab/newsminer/internal/extract"
	collyfetcher "github.com/localnewslab/newsminer/internal/fetcher/colly"
	"github.com/localnewslab/newsminer/internal/hash/sha256"
	iduuid "github.com/localnewslab/newsminer/internal/id/uuid"
	"github.com/localnewslab/newsminer/internal/mlsvc"
	"github.com/localnewslab/newsminer/internal/orchestrator"
	"github.com/localnewslab/newsminer/internal/pipeline"
	"github.com/localnewslab/newsminer/internal/ratelimit"
	"github.com/localnewslab/newsminer/internal/stages"
	"github.com/localnewslab/newsminer/internal/store/postgres"
	"github.com/localnewslab/newsminer/internal/telemetry"
	"github.com/localnewslab/newsminer/internal/telemetry/sinks"
	"github.com/localnewslab/newsminer/internal/wire"
)

const shutdownTimeout = 10 * time.Second

// newRunCmd creates the 'run' subcommand: the continuous pipeline process.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline orchestrator",
		Long: `Starts the continuous polling loop. Each cycle claims pending work for
every enabled stage, processes it, and reports queue depths. The process
also serves the operator status API when enabled.`,
		RunE: runPipeline,
	}
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifeMins) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	queueStore, err := postgres.NewQueueStore(pool)
	if err != nil {
		return err
	}
	sourceStore, err := postgres.NewSourceStore(pool)
	if err != nil {
		return err
	}
	candidateStore, err := postgres.NewCandidateStore(pool)
	if err != nil {
		return err
	}
	articleStore, err := postgres.NewArticleStore(pool)
	if err != nil {
		return err
	}
	telemetryStore, err := postgres.NewTelemetryStore(pool)
	if err != nil {
		return err
	}
	gazetteerStore, err := postgres.NewGazetteerStore(pool)
	if err != nil {
		return err
	}

	clk := system.New()
	sense, err := botsense.NewManager(sourceStore, clk, botsense.Config{
		DecayFloor:          cfg.BotSense.DecayFloor,
		DecaySuccesses:      cfg.BotSense.DecaySuccesses,
		DecayQuietDays:      cfg.BotSense.DecayQuietDays,
		CooldownMultipliers: cfg.BotSense.CooldownMultipliers,
		Overrides:           cfg.BotSense.Overrides,
	}, logger.Named("botsense"))
	if err != nil {
		return fmt.Errorf("init sensitivity manager: %w", err)
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	hub := telemetry.NewHub(
		telemetry.Config{Logger: logger.Named("telemetry")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
		sinks.NewStoreSink(telemetryStore, logger.Named("telemetry.store")),
		sinks.NewDetectorSink(sense, logger.Named("telemetry.detector")),
	)

	limiter := ratelimit.New(sense, clk, ratelimit.Config{
		GlobalRPS:   cfg.Fetch.GlobalRPS,
		GlobalBurst: cfg.Fetch.GlobalBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
	})
	validator := wire.NewValidator(wire.Config{
		WireServices:     cfg.Classify.WireServices,
		LocalCallsigns:   cfg.Classify.LocalCallsigns,
		LocalityKeywords: cfg.Classify.LocalityKeywords,
	})
	hasher := sha256.New()

	var entityExtractor pipeline.EntityExtractor
	if cfg.ML.EntityURL != "" {
		entityExtractor = mlsvc.NewEntityClient(cfg.ML.EntityURL, cfg.ML.Timeout())
	} else {
		logger.Info("no entity service configured, using gazetteer matcher")
		entityExtractor = mlsvc.NewPlaceMatcher()
	}

	stagesCfg := cfg.Stages
	var classifier pipeline.Classifier
	if cfg.ML.ClassifierURL != "" {
		classifier = mlsvc.NewClassifier(cfg.ML.ClassifierURL, cfg.ML.Timeout())
	} else if stagesCfg.Analysis {
		logger.Warn("no classifier configured, disabling analysis stage")
		stagesCfg.Analysis = false
	}

	dataset := cfg.Orchestrator.Dataset()
	processors := []stages.Processor{
		stages.NewDiscovery(fetcher, limiter, sense, sense, sourceStore, candidateStore,
			hub, clk, dataset, logger.Named("discovery")),
		stages.NewVerification(fetcher, limiter, sense, sense, candidateStore,
			hub, clk, cfg.Fetch.MaxFailures, logger.Named("verification")),
		stages.NewExtraction(fetcher, limiter, sense, sense, extract.New(), articleStore,
			candidateStore, hasher, hub, clk, cfg.Fetch.MaxFailures, logger.Named("extraction")),
		stages.NewCleaning(articleStore, validator, hasher, hub, clk,
			cfg.Fetch.MaxFailures, logger.Named("cleaning")),
		stages.NewEntityExtraction(articleStore, entityExtractor, gazetteerStore,
			hub, clk, cfg.Fetch.MaxFailures, logger.Named("entities")),
		stages.NewAnalysis(articleStore, classifier, hub, clk,
			cfg.Fetch.MaxFailures, logger.Named("analysis")),
	}

	ids := iduuid.New()
	orch := orchestrator.New(queueStore, processors, cfg.Orchestrator, stagesCfg,
		cfg.Batch, hub, ids, clk, logger.Named("orchestrator"))

	var srv *http.Server
	if cfg.API.Enabled {
		apiServer := api.NewServer(queueStore, sourceStore, sense, registry, ids, logger.Named("api"))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.API.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server started", zap.Int("port", cfg.API.Port))
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("status server error", zap.Error(serveErr))
				stop()
			}
		}()
	}

	runErr := orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("telemetry flush failed", zap.Error(err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run pipeline: %w", runErr)
	}
	logger.Info("shutdown complete")
	return nil
}
