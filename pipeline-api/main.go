package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipeboard/pipeboard/internal/platform/auth"
	"github.com/pipeboard/pipeboard/internal/platform/httpserver"
	"github.com/pipeboard/pipeboard/internal/platform/locker"
	"github.com/pipeboard/pipeboard/internal/platform/metrics"
	"github.com/pipeboard/pipeboard/internal/platform/objectstore"
	"github.com/pipeboard/pipeboard/internal/platform/postgres"
	"github.com/pipeboard/pipeboard/internal/platform/tracing"
	"github.com/pipeboard/pipeboard/internal/repo"
	"github.com/pipeboard/pipeboard/internal/repo/memstore"
	repopg "github.com/pipeboard/pipeboard/internal/repo/postgres"
	"github.com/pipeboard/pipeboard/internal/service/attachments"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcCfg, err := serviceConfigFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}

	traceCfg, err := tracing.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid tracing config", "error", err)
		os.Exit(2)
	}
	shutdownTracing, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(2)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var readiness []httpserver.ReadinessCheck

	var store repo.Store
	switch svcCfg.Store {
	case backendPostgres:
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if dbCfg.MigrateOnStart {
			if err := repopg.MigrateUp(db); err != nil {
				logger.Error("database migration failed", "error", err)
				os.Exit(1)
			}
		}
		store = repopg.NewStore(db, repopg.WithLockTimeout(dbCfg.LockTimeout), repopg.WithRetryWindow(dbCfg.RetryWindow))
		readiness = append(readiness, httpserver.ReadinessCheck{Name: "postgres", Check: pingDB(db)})
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		store = memstore.New()
	}

	var objects objectstore.Store
	switch svcCfg.Objects {
	case backendMinIO:
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		minioStore := objectstore.NewMinIOStore(client, storeCfg)
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := minioStore.EnsureBucket(startupCtx); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		objects = minioStore
		readiness = append(readiness, httpserver.ReadinessCheck{Name: "minio", Check: minioStore.Check})
	default:
		objects = objectstore.NewMemoryStore()
	}

	lockCfg, err := locker.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid lock config", "error", err)
		os.Exit(2)
	}
	var entityLocker locker.Locker = locker.NewLocal(lockCfg.Wait)
	if lockCfg.RedisURL != "" {
		client, err := locker.NewRedisClient(lockCfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis config", "error", err)
			os.Exit(2)
		}
		defer func() { _ = client.Close() }()
		redisLocker := locker.NewRedis(client, lockCfg)
		entityLocker = redisLocker
		readiness = append(readiness, httpserver.ReadinessCheck{Name: "redis", Check: redisLocker.Check})
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeDev:
		logger.Warn("dev auth enabled", "subject", authCfg.DevSubject)
		authenticator = auth.NewDevAuthenticator(authCfg)
	default:
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
		authenticator = oidcAuth
	}
	if len(authCfg.AgentKeys) > 0 {
		authenticator = auth.NewAgentKeyAuthenticator(authCfg, authenticator)
	}

	m := metrics.New()
	svc := lifecycle.New(store, lifecycle.Options{
		Locker:           entityLocker,
		Metrics:          m,
		Logger:           logger,
		LogCreationEvent: svcCfg.LogCreationEvent,
	})
	files := attachments.New(store, objects, attachments.Options{Logger: logger})

	var validator *requestValidator
	if svcCfg.ValidateRequests {
		doc, err := loadOpenAPI(ctx)
		if err != nil {
			logger.Error("openapi document invalid", "error", err)
			os.Exit(2)
		}
		validator, err = newRequestValidator(logger, doc)
		if err != nil {
			logger.Error("openapi router init failed", "error", err)
			os.Exit(2)
		}
	}

	handler := buildHandler(handlerDeps{
		Logger:        logger,
		API:           newPipelineAPI(logger, svc, files),
		Store:         store,
		Metrics:       m,
		Authenticator: authenticator,
		Validator:     validator,
		CORSOrigins:   svcCfg.CORSOrigins,
		Readiness:     readiness,
		ReadyTimeout:  httpCfg.CheckTimeout,
	})

	if err := httpserver.Run(ctx, logger, httpCfg, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func pingDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
