package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/api"
	"github.com/shubhsaxena/discovery-engine/internal/autocomplete"
	"github.com/shubhsaxena/discovery-engine/internal/cache"
	"github.com/shubhsaxena/discovery-engine/internal/clickhouse"
	"github.com/shubhsaxena/discovery-engine/internal/config"
	"github.com/shubhsaxena/discovery-engine/internal/elasticsearch"
	"github.com/shubhsaxena/discovery-engine/internal/firestore"
	"github.com/shubhsaxena/discovery-engine/internal/indexing"
	"github.com/shubhsaxena/discovery-engine/internal/kafka"
	"github.com/shubhsaxena/discovery-engine/internal/missledger"
	"github.com/shubhsaxena/discovery-engine/internal/observability"
	"github.com/shubhsaxena/discovery-engine/internal/recommend"
	"github.com/shubhsaxena/discovery-engine/internal/search"
	"github.com/shubhsaxena/discovery-engine/internal/semantic"
	"github.com/shubhsaxena/discovery-engine/internal/tasks"
	"github.com/shubhsaxena/discovery-engine/internal/trending"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting discovery engine",
		zap.String("service", cfg.Observability.ServiceName),
	)

	tracerShutdown, err := observability.InitTracer(cfg.Observability.ServiceName)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage and transport clients.
	redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("initializing redis: %w", err)
	}
	defer redisCache.Close()
	logger.Info("redis cache initialized")

	esClient, err := elasticsearch.NewClient(cfg.Elasticsearch, cfg.Search, logger)
	if err != nil {
		return fmt.Errorf("initializing elasticsearch: %w", err)
	}
	defer esClient.Close()
	logger.Info("elasticsearch client initialized")

	fsClient, err := firestore.NewClient(ctx, cfg.Firestore, logger)
	if err != nil {
		return fmt.Errorf("initializing firestore: %w", err)
	}
	defer fsClient.Close()
	logger.Info("firestore client initialized")

	chClient, err := clickhouse.NewClient(cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("clickhouse initialization failed, trending analytics degraded", zap.Error(err))
		chClient = nil
	} else {
		defer chClient.Close()
		if err := chClient.EnsureTables(ctx); err != nil {
			logger.Warn("clickhouse table creation failed", zap.Error(err))
		}
		logger.Info("clickhouse client initialized")
	}

	// Detached side-effect pool: trending increments, miss ledger
	// writes, durable inserts.
	runner := tasks.NewRunner(0, 0, 0, logger)
	defer runner.Close()

	var trendingStore trending.Store = trending.NoopStore{}
	if chClient != nil {
		trendingStore = chClient
	}
	tracker := trending.NewTracker(redisCache, trendingStore, runner, cfg.Trending, logger)
	go tracker.RunRetention(ctx)

	ledger := missledger.NewLedger(fsClient, cfg.Misses, logger)

	embedClient := semantic.NewClient(cfg.Embedding, logger)
	recClient := recommend.NewClient(cfg.Recommender, logger)

	slowQueryDetector := observability.NewSlowQueryDetector(
		cfg.Search.SlowQuery.WarningThreshold,
		cfg.Search.SlowQuery.CriticalThreshold,
		logger,
	)

	orch := search.New(
		esClient, fsClient, redisCache, tracker, ledger,
		recClient, embedClient, runner, slowQueryDetector,
		cfg.Search, logger,
	)

	suggester := autocomplete.NewAggregator(fsClient, tracker, redisCache, cfg.Suggest, logger)

	// Indexing pipeline: change events in, bulk index writes out.
	var indexEmbedder indexing.Embedder
	if embedClient.Enabled() {
		indexEmbedder = embedClient
	}
	streamProcessor := indexing.NewStreamProcessor(esClient, redisCache, indexEmbedder, cfg.Elasticsearch, logger)
	defer streamProcessor.Stop()

	consumer := kafka.NewConsumer(cfg.Kafka, streamProcessor.HandleEvent, logger)
	if err := consumer.Start(ctx); err != nil {
		logger.Warn("kafka consumer start failed, indexing pipeline will be unavailable", zap.Error(err))
	} else {
		defer consumer.Stop()
		logger.Info("kafka consumer started")
	}

	// Optional bridge: republish native Firestore document changes onto
	// the change topic when the catalog service does not emit them.
	if cfg.Kafka.BridgeFirestoreChanges {
		producer := kafka.NewProducer(cfg.Kafka, logger)
		defer producer.Close()

		listener := fsClient.NewChangeListener(producer.PublishChangeEvent)
		go func() {
			if err := listener.Listen(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firestore change listener stopped", zap.Error(err))
			}
		}()
		logger.Info("firestore change bridge started")
	}

	// HTTP surface.
	handler := api.NewHandler(orch, suggester, tracker, ledger, fsClient, logger)

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.Register("redis", redisCache)
	healthHandler.Register("firestore", fsClient)
	healthHandler.RegisterES(esClient)
	if chClient != nil {
		healthHandler.Register("clickhouse", chClient)
	}
	healthHandler.Register("kafka", consumer)

	router := api.NewRouter(handler, healthHandler, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	cancel()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
