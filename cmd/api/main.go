package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/thistle/config"
	"github.com/Ramsey-B/thistle/internal/database"
	mergerecordrepo "github.com/Ramsey-B/thistle/internal/repositories/mergerecord"
	suggestionrepo "github.com/Ramsey-B/thistle/internal/repositories/suggestion"
	"github.com/Ramsey-B/thistle/pkg/events"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/logging"
	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/merging"
	"github.com/Ramsey-B/thistle/pkg/middleware"
	"github.com/Ramsey-B/thistle/pkg/normalize"
	"github.com/Ramsey-B/thistle/pkg/processor"
	"github.com/Ramsey-B/thistle/pkg/routes/health"
	matchroutes "github.com/Ramsey-B/thistle/pkg/routes/match"
	suggestionroutes "github.com/Ramsey-B/thistle/pkg/routes/suggestion"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const version = "0.1.0"

func main() {
	ctx := context.Background()

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, flushLogs, err := logging.NewZapLogger(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = flushLogs() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	tracingEndpoint := ""
	if cfg.TracingEnabled {
		tracingEndpoint = cfg.TracingEndpoint
	}
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Endpoint:    tracingEndpoint,
		Insecure:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	dbPort, err := strconv.Atoi(cfg.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid database port %q: %w", cfg.DatabasePort, err)
	}
	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.RepositoryTimeout)
	defer cancelConnect()

	db, err := database.Connect(connectCtx, database.Config{
		Host:            cfg.DatabaseHost,
		Port:            dbPort,
		Username:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Database:        cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
	})
	if err := migrations.MigrateDB(cfg.DatabaseName, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	graphClient, err := graph.NewClient(graph.Config{
		Host:         cfg.GraphDBHost,
		Port:         cfg.GraphDBPort,
		Username:     cfg.GraphDBUser,
		Password:     cfg.GraphDBPassword,
		QueryTimeout: cfg.RepositoryTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to graph database: %w", err)
	}
	defer func() { _ = graphClient.Close(context.Background()) }()

	if err := graphClient.VerifyConnectivity(connectCtx); err != nil {
		return fmt.Errorf("graph database unreachable: %w", err)
	}

	store := graph.NewStore(graphClient, logger)
	suggestions := suggestionrepo.NewRepository(db, logger)
	mergeRecords := mergerecordrepo.NewRepository(db, logger)

	policy := normalize.Policy{}
	engine := matching.NewEngine(logger, store, suggestions, policy, matching.EngineConfig{
		PartialThreshold: cfg.MatchPartialThreshold,
		MaxCandidates:    cfg.MatchMaxCandidates,
	})

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer func() { _ = producer.Close() }()

	emitter := events.NewEmitter(producer, logger)
	coordinator := merging.NewCoordinator(logger, store, mergeRecords, emitter)
	manager := suggestion.NewManager(logger, suggestions, store, coordinator, engine, emitter, suggestion.Config{
		DismissUndoWindow: cfg.DismissUndoWindow,
		LinkUndoWindow:    cfg.LinkUndoWindow,
	})
	defer manager.Close()

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := ectoinject.RegisterInstance[*suggestion.Manager](container, manager); err != nil {
		return fmt.Errorf("failed to register suggestion manager: %w", err)
	}
	if err := ectoinject.RegisterInstance[*matching.Engine](container, engine); err != nil {
		return fmt.Errorf("failed to register matching engine: %w", err)
	}

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		proc := processor.NewProcessor(logger, store, manager, policy)
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaInputTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, proc.HandleMessage)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
		defer func() { _ = consumer.Stop() }()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(echomiddleware.Recover())

	checker := health.NewChecker(db, graphClient, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	suggestionroutes.Register(api.Group("/suggestions"))
	matchroutes.Register(api.Group("/matches"))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]any{"port": cfg.Port}).Info("Starting HTTP server")
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	checker.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-stop:
		logger.WithFields(map[string]any{"signal": sig.String()}).Info("Shutting down")
	}

	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	return nil
}
