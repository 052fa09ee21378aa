package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	natsclient "github.com/adamwolfe2/leadme-sub019/common/messaging/nats"
	"github.com/adamwolfe2/leadme-sub019/common/middleware"
	"github.com/adamwolfe2/leadme-sub019/common/tokens"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/auth"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/config"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dispatch"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/events"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/handlers"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/idempotency"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/importer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leadindex"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leads"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/normalizer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/partner"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/ratelimit"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/routing"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/server"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/service"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/tenant"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/validator"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	loader, err := config.NewLoader(*configPath)
	if err != nil {
		slog.Error("Failed to load config", logging.Error(err))
		os.Exit(1)
	}
	cfg, err := loader.Config()
	if err != nil {
		slog.Error("Invalid config", logging.Error(err))
		os.Exit(1)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("dispatch_mode", cfg.Dispatch.Mode),
		slog.String("dlq_backend", cfg.DLQ.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loader, cfg); err != nil {
		slog.Error("Ingest service failed", logging.Error(err))
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func run(ctx context.Context, loader *config.Loader, cfg *config.Config) error {
	// Repository
	var repo repository.Repository
	if cfg.Database.URL != "" {
		if cfg.Database.AutoMigrate {
			if err := migrateUp(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
				return err
			}
		}
		pg, err := repository.NewPostgresRepository(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		repo = pg
		slog.Info("Using PostgreSQL repository")
	} else {
		repo = repository.NewInMemoryRepository()
		slog.Warn("database.url is empty; state is kept in process memory")
	}

	// NATS JetStream
	var js *natsclient.JetStreamClient
	var broker messaging.Broker
	if cfg.NATS.Enabled {
		var err error
		js, err = natsclient.NewJetStreamClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "leadme-ingest",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
			Logger:        slog.Default(),
		})
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer js.Drain()
		if err := js.CreateOrUpdateStream(ctx, natsclient.LeadEventsStream); err != nil {
			return fmt.Errorf("create lead event stream: %w", err)
		}
		broker = js
		slog.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
	}

	// Dead letter queue
	var dead dlq.Writer = dlq.Discard{}
	var deadStats dlq.StatsReporter
	switch cfg.DLQ.Backend {
	case "jetstream":
		q, err := dlq.NewJetStreamQueue(ctx, js, slog.Default())
		if err != nil {
			return fmt.Errorf("init jetstream dlq: %w", err)
		}
		dead, deadStats = q, q
	case "file":
		q, err := dlq.NewQueue(cfg.DLQ.Path, slog.Default())
		if err != nil {
			return fmt.Errorf("init file dlq: %w", err)
		}
		dead, deadStats = q, q
		slog.Warn("File DLQ does not support multiple ingest instances", slog.String("path", cfg.DLQ.Path))
	default:
		slog.Warn("Dead letter queue disabled")
	}

	// Domain events
	var emitter events.Emitter = events.NoopEmitter{}
	if js != nil {
		emitter = events.NewNATSEmitter(js, slog.Default())
	}

	engine := routing.NewEngine(repo, emitter, slog.Default())
	writer := leads.NewWriter(repo, normalizer.NewPipeline(normalizer.DefaultRegistry()), emitter, dead, slog.Default())

	var dispatcher dispatch.Dispatcher
	switch cfg.Dispatch.Mode {
	case "queued":
		worker := dispatch.NewWorker(engine, dead, cfg.Dispatch.MaxDeliver, slog.Default())
		stopWorker, err := worker.Start(ctx, js)
		if err != nil {
			return fmt.Errorf("start routing worker: %w", err)
		}
		defer stopWorker()
		dispatcher = dispatch.NewQueuedDispatcher(js)
	default:
		dispatcher = dispatch.NewInlineDispatcher(engine, dead, slog.Default())
	}

	// Lead search index
	var searcher handlers.Searcher
	if cfg.OpenSearch.Enabled {
		ix, err := leadindex.NewIndexer(leadindex.Config{
			URL:           cfg.OpenSearch.URL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			TLSSkipVerify: cfg.OpenSearch.TLSSkipVerify,
			Index:         cfg.OpenSearch.Index,
		}, slog.Default())
		if err != nil {
			return fmt.Errorf("create opensearch client: %w", err)
		}
		initCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		if err := ix.Initialize(initCtx); err != nil {
			slog.Warn("Failed to initialize lead index", logging.Error(err))
		}
		cancel()
		if js != nil {
			stopIndexer, err := ix.Start(ctx, js)
			if err != nil {
				return fmt.Errorf("start lead indexer: %w", err)
			}
			defer stopIndexer()
		} else {
			slog.Warn("nats disabled; the lead index is searchable but not fed")
		}
		searcher = ix
	}

	// Rate limiting
	var limiter ratelimit.RateLimiter = ratelimit.NoOpRateLimiter{}
	if cfg.Redis.Enabled {
		l, err := ratelimit.NewRedisRateLimiter(cfg.Redis.URL, cfg.Redis.RateLimitRequests, cfg.Redis.RateLimitWindow)
		if err != nil {
			slog.Warn("Failed to initialize Redis rate limiter; continuing without rate limiting", logging.Error(err))
		} else {
			limiter = l
			slog.Info("Rate limiting enabled",
				slog.Int("requests", cfg.Redis.RateLimitRequests),
				slog.Duration("window", cfg.Redis.RateLimitWindow))
		}
	}
	defer limiter.Close()

	svc := service.NewIngestService(service.Deps{
		Store:      repo,
		Ledger:     idempotency.NewLedger(repo),
		Resolver:   tenant.NewResolver(repo),
		Writer:     writer,
		Dispatcher: dispatcher,
		Router:     engine,
		Logger:     slog.Default(),
	})

	secrets := webhook.NewSecretStore(cfg.Webhook.Secrets)
	if secrets.Sources() == 0 {
		slog.Warn("No webhook secrets configured; every webhook delivery will be rejected")
	}
	loader.Watch(func(next *config.Config) {
		secrets.Replace(next.Webhook.Secrets)
		slog.Info("Webhook secrets rotated", slog.Int("sources", secrets.Sources()))
	})
	wh := webhook.NewHandler(svc, secrets, limiter, webhook.Options{
		MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		SecretHeader:    cfg.Webhook.SecretHeader,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		AllowedHeaders:  cfg.Webhook.AllowedHeaders,
	}, slog.Default())

	imp := importer.New(repo,
		importer.NewFetcher(cfg.Import.DownloadTimeout, cfg.Import.DownloadRetries, cfg.Import.MaxFileBytes),
		writer, dispatcher, dead,
		importer.Options{
			MaxRows:      cfg.Import.MaxRows,
			BatchSize:    cfg.Import.BatchSize,
			Concurrency:  cfg.Import.Concurrency,
			BatchTimeout: cfg.Import.BatchTimeout,
			JobLease:     cfg.Import.JobLease,
		}, slog.Default())

	if cfg.Auth.JWTSecret == "" {
		slog.Warn("auth.jwt_secret is empty; every /api/v1 request will be rejected")
	}
	api := handlers.New(handlers.Deps{
		Ingester:       svc,
		Importer:       imp,
		Store:          repo,
		Uploader:       partner.NewUploader(repo, writer, dispatcher, dead, cfg.Import.Concurrency, cfg.Import.MaxRows, slog.Default()),
		Ledger:         partner.NewLedger(repo, slog.Default()),
		Keys:           partner.NewKeyVerifier(repo),
		Validator:      validator.MustNew(),
		Search:         searcher,
		DLQ:            deadStats,
		Broker:         broker,
		MaxUploadBytes: cfg.Import.MaxFileBytes,
		Logger:         slog.Default(),
	})

	router := server.NewRouter(server.Options{
		Webhook: wh,
		API:     api,
		Tokens:  tokenValidator(cfg.Auth),
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", handlers.APIKeyHeader},
			AllowCredentials: true,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Ingest service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func migrateUp(source, databaseURL string) error {
	slog.Info("Running database migrations", slog.String("source", source))
	m, err := migrate.New(source, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("Database migrations completed")
	return nil
}

// rejectAll is used when no signing secret is configured.
type rejectAll struct{}

func (rejectAll) Validate(string) (*tokens.Claims, error) {
	return nil, errors.New("api authentication is not configured")
}

func tokenValidator(cfg config.AuthConfig) auth.TokenValidator {
	if cfg.JWTSecret == "" {
		return rejectAll{}
	}
	return tokens.NewManager(cfg.JWTSecret, cfg.Issuer)
}
