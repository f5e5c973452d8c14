package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"buildtrack/api/internal/analysis"
	"buildtrack/api/internal/app"
	"buildtrack/api/internal/baseline"
	"buildtrack/api/internal/config"
	"buildtrack/api/internal/email"
	"buildtrack/api/internal/export"
	"buildtrack/api/internal/logging"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/search"
	"buildtrack/api/internal/session"
	"buildtrack/api/internal/storage"
	"buildtrack/api/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if err := os.MkdirAll(cfg.BaselinesDir, 0o755); err != nil {
		return fmt.Errorf("create baselines dir: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Baselines: baseline.New(cfg.BaselinesDir),
		Exporter:  export.NewService(logger),
		Logger:    logger,
	}

	// Search
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	deps.Search = searchService
	go searchService.ReindexAllFromPG(ctx)

	// Refresh tokens and analysis locks
	var locks analysis.Locker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.Connect(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer client.Close()
		logger.Info("using redis for refresh token storage")
		deps.Sessions = session.NewRedisStoreWithClient(client)
		locks = session.NewLocker(client, "analysis:", 10*time.Minute)
	} else {
		logger.Info("using postgres for refresh token storage")
	}

	// Change notifications
	hub := realtime.NewHub()
	defer hub.Close()
	deps.Changes = hub
	var events realtime.Publisher = hub
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		broker, err := realtime.NewAMQPPublisher(cfg.AMQPURL, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq connection failed: %w", err)
		}
		defer broker.Close()
		events = &realtime.Fanout{Broker: broker, Local: hub, Logger: logger}
		go realtime.NewBridge(cfg.AMQPURL, hub, logger).Run(ctx)
	}
	deps.Events = events

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	} else {
		logger.Warn("smtp not configured, verification tokens are returned in responses")
	}

	if strings.TrimSpace(cfg.StorageEndpoint) != "" {
		objects, err := storage.New(storage.Options{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			UseSSL:    cfg.StorageUseSSL,
			PublicURL: cfg.StoragePublicURL,
		})
		if err != nil {
			return err
		}
		if err := objects.EnsureBuckets(ctx); err != nil {
			return fmt.Errorf("prepare buckets: %w", err)
		}
		deps.Objects = objects

		if strings.TrimSpace(cfg.LLMAPIKey) != "" {
			deps.Analysis = analysis.NewService(dataStore, objects, locks,
				analysis.NewLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey), events, logger,
				analysis.Options{
					Model:           cfg.LLMModel,
					MaxExtractBytes: cfg.MaxExtractBytes,
					Timeout:         cfg.LLMTimeout,
				})
		} else {
			logger.Warn("llm api key not set, sync-project-knowledge is disabled")
		}
	} else {
		logger.Warn("object storage not configured, file routes are disabled")
	}

	service := app.New(cfg, dataStore, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("buildtrack api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
