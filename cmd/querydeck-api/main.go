package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querydeck/querydeck/internal/api"
	"github.com/querydeck/querydeck/internal/auth"
	"github.com/querydeck/querydeck/internal/completion"
	"github.com/querydeck/querydeck/internal/config"
	"github.com/querydeck/querydeck/internal/export"
	historypostgres "github.com/querydeck/querydeck/internal/history/postgres"
	"github.com/querydeck/querydeck/internal/migrations"
	"github.com/querydeck/querydeck/internal/nl2sql"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/pipeline"
	duckdbengine "github.com/querydeck/querydeck/internal/query/duckdb"
	"github.com/querydeck/querydeck/internal/session"
	s3store "github.com/querydeck/querydeck/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querydeck-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	completionClient, err := completion.NewOpenAIClient(completion.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		TopP:        cfg.AI.TopP,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize completion client", slog.Any("error", err))
		os.Exit(1)
	}
	prompts, err := nl2sql.NewPromptBuilderFromFile(cfg.AI.PromptTemplateFile, cfg.AI.Dialect)
	if err != nil {
		logger.Error("failed to load prompt template", slog.Any("error", err))
		os.Exit(1)
	}
	generator, err := nl2sql.NewGenerator(completionClient, prompts, nl2sql.GeneratorConfig{
		Model:       cfg.AI.Model,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		TopP:        cfg.AI.TopP,
	})
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}

	serviceDeps := pipeline.Dependencies{
		Logger: observability.Component(logger, "pipeline"),
		Sessions: session.NewStore(session.StoreConfig{
			IdleTTL:         cfg.Session.IdleTTL,
			CleanupInterval: cfg.Session.CleanupInterval,
			HistoryLimit:    cfg.Session.HistoryLimit,
		}),
		Generator: generator,
		Engine:    duckdbengine.NewEngine(cfg.Query.TempDir),
	}
	readiness := []api.ReadinessCheck{
		api.CheckCompletionConfig(cfg),
		api.CheckObjectStoreConfig(cfg),
	}

	if cfg.ObjectStore.PublishEnabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		serviceDeps.Publisher = export.NewPublisher(objectStore, cfg.ObjectStore.URLExpiry)
	}

	if cfg.History.Enabled() {
		historyDB, err := historypostgres.Open(context.Background(), historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open query history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		historyRepo := historypostgres.NewRepository(historyDB)
		serviceDeps.History = historyRepo
		readiness = append(readiness, historyRepo.HealthCheck, migrations.NewRunner().Check(historyDB))
	}

	service, err := pipeline.NewService(pipeline.Config{
		RowLimit:     cfg.Query.RowLimit,
		QueryTimeout: cfg.Query.Timeout,
	}, serviceDeps)
	if err != nil {
		logger.Error("failed to initialize query pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	serviceDeps.Sessions.OnEvicted(service.SyncSessionGauge)

	deps := api.Dependencies{
		Logger:            observability.Component(logger, "http"),
		Service:           service,
		MaxUploadBytes:    cfg.HTTP.MaxUploadBytes,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(observability.Component(logger, "auth"), validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("model", cfg.AI.Model),
			slog.Bool("publish_enabled", cfg.ObjectStore.PublishEnabled),
			slog.Bool("history_enabled", cfg.History.Enabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
