package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/kuberdock/internal/audit"
	"github.com/wisbric/kuberdock/internal/auth"
	"github.com/wisbric/kuberdock/internal/config"
	"github.com/wisbric/kuberdock/internal/httpserver"
	"github.com/wisbric/kuberdock/internal/kube"
	"github.com/wisbric/kuberdock/internal/notify"
	"github.com/wisbric/kuberdock/internal/platform"
	"github.com/wisbric/kuberdock/internal/seed"
	"github.com/wisbric/kuberdock/internal/tasks"
	"github.com/wisbric/kuberdock/internal/telemetry"
	"github.com/wisbric/kuberdock/pkg/billing"
	"github.com/wisbric/kuberdock/pkg/events"
	"github.com/wisbric/kuberdock/pkg/image"
	"github.com/wisbric/kuberdock/pkg/ippool"
	"github.com/wisbric/kuberdock/pkg/lock"
	"github.com/wisbric/kuberdock/pkg/node"
	"github.com/wisbric/kuberdock/pkg/pd"
	"github.com/wisbric/kuberdock/pkg/pod"
	"github.com/wisbric/kuberdock/pkg/ports"
	"github.com/wisbric/kuberdock/pkg/settings"
	"github.com/wisbric/kuberdock/pkg/sse"
	"github.com/wisbric/kuberdock/pkg/usage"
	"github.com/wisbric/kuberdock/pkg/yamlapi"
)

// Login throttling: failed attempts per IP before a cool-down window applies.
const (
	loginMaxAttempts = 5
	loginWindow      = 3 * time.Minute

	taskQueueBuffer  = 64
	taskQueueWorkers = 4
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api, worker, all, seed).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting kuberdock",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"ip_mode", cfg.IPMode,
		"storage_backend", cfg.StorageBackend,
	)

	// Tracing
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "kuberdock", "0.1.0")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	// Database
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Redis
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	// Run global migrations.
	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}
	logger.Info("global migrations applied")

	// Metrics
	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	case "all":
		errCh := make(chan error, 1)
		go func() {
			errCh <- runWorker(ctx, cfg, logger, db, rdb)
		}()
		if err := runAPI(ctx, cfg, logger, db, rdb, metricsReg); err != nil {
			return err
		}
		return <-errCh
	case "seed":
		return seed.Run(ctx, db, cfg.InternalUser, cfg.AdminPassword, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// storageBackend selects the persistent-disk backend from configuration.
func storageBackend(ctx context.Context, cfg *config.Config) (pd.Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageCeph:
		return pd.NewCephBackend(pd.CephConfig{
			Pool:     cfg.CephPool,
			User:     cfg.CephUser,
			Monitors: cfg.CephMonitors,
			Keyring:  cfg.CephKeyring,
			FSType:   cfg.CephFSType,
		}), nil
	case config.StorageAWS:
		return pd.NewEBSBackend(ctx, pd.EBSConfig{
			Region:           cfg.AWSRegion,
			AvailabilityZone: cfg.AWSAvailabilityZone,
			FSType:           cfg.AWSEBSFSType,
		})
	default:
		return pd.NewLocalBackend(cfg.NodeLocalStoragePrefix), nil
	}
}

// sessionSecret returns the configured session secret, or an ephemeral one in
// dev installs (tokens then die with the process).
func sessionSecret(cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.SessionSecret != "" {
		return cfg.SessionSecret, nil
	}
	if !cfg.DevMode {
		return "", fmt.Errorf("KUBERDOCK_SESSION_SECRET is required outside dev mode")
	}
	logger.Warn("no session secret configured, using an ephemeral one")
	return auth.GenerateDevSecret(), nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	cluster, err := kube.New(cfg.KubeAPIURL, cfg.KubeConfigPath)
	if err != nil {
		return fmt.Errorf("connecting to kubernetes: %w", err)
	}

	// Authentication.
	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionManager(secret, cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("initializing session manager: %w", err)
	}
	users := &auth.Storage{DB: db}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, users)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	}

	limiter := auth.NewRateLimiter(rdb, loginMaxAttempts, loginWindow)
	login := auth.NewLoginHandler(users, sessions, limiter, logger)

	// Audit log writer (async, buffered).
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	// Domain services.
	settingsSvc := settings.NewService(db, logger)
	catalog := billing.NewService(db, logger)
	usageSvc := usage.NewService(db, logger)
	portsSvc := ports.NewService(db, logger)
	locks := lock.NewManager(rdb)
	probe := image.NewProbe(db, rdb, cfg.ImageCacheTTL, logger)

	backend, err := storageBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}
	pds := pd.NewService(db, backend, settingsSvc, locks, logger)
	pds.SetUsageRecorder(usageSvc.Store())

	pools := ippool.NewService(db, cluster, cfg.IPMode, logger)
	pools.SetUsageRecorder(usageSvc.Store())

	podSvc := pod.NewService(pod.ServiceDeps{
		Pool:         db,
		Cluster:      cluster,
		PDs:          pds,
		IPs:          pools,
		Catalog:      catalog,
		Settings:     settingsSvc,
		Probe:        probe,
		Locks:        locks,
		PortRules:    portsSvc,
		InternalUser: cfg.InternalUser,
		LocalPrefix:  cfg.NodeLocalStoragePrefix,
		Maintenance:  cfg.Maintenance,
		Logger:       logger,
	})

	nodeSvc := node.NewService(node.NewStore(db), catalog, cluster, logger)
	broker := sse.NewBroker(rdb, cfg.SSEKeepaliveInterval)
	publisher := notify.NewPublisher(rdb, cfg.SlackWebhookURL, logger)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, httpserver.AuthDeps{
		Sessions: sessions,
		Users:    users,
		OIDC:     oidcAuth,
		Login:    login,
	}, publisher)

	// Mount domain handlers.
	srv.APIRouter.Mount("/podapi", pod.NewHandler(podSvc, auditWriter, logger).Routes())
	srv.APIRouter.Mount("/pstorage", pd.NewHandler(pds, auditWriter, logger).Routes())
	srv.APIRouter.Mount("/ippool", ippool.NewHandler(pools, auditWriter, logger).Routes())
	srv.APIRouter.Mount("/nodes", node.NewHandler(nodeSvc, auditWriter, logger).Routes())
	srv.APIRouter.Mount("/yamlapi", yamlapi.NewHandler(podSvc, auditWriter, logger).Routes())
	srv.APIRouter.Mount("/stream", sse.NewHandler(broker, logger).Routes())

	portsHandler := ports.NewHandler(portsSvc, auditWriter, logger)
	srv.APIRouter.Mount("/allowed-ports", portsHandler.AllowedRoutes())
	srv.APIRouter.Mount("/restricted-ports", portsHandler.RestrictedRoutes())

	srv.APIRouter.Mount("/usage", usage.NewHandler(usageSvc, logger).Routes())
	srv.APIRouter.Mount("/settings", settings.NewHandler(settingsSvc, logger).Routes())
	srv.APIRouter.Mount("/pricing", billing.NewHandler(catalog, logger).Routes())
	srv.APIRouter.Mount("/audit-log", audit.NewHandler(audit.NewStore(db), logger).Routes())

	httpSrv := &http.Server{
		Addr:        cfg.ListenAddr(),
		Handler:     srv,
		ReadTimeout: 10 * time.Second,
		// No write timeout: /api/stream holds SSE connections open.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker hosts the cluster reconciler and the persistent-disk garbage
// collector.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	cluster, err := kube.New(cfg.KubeAPIURL, cfg.KubeConfigPath)
	if err != nil {
		return fmt.Errorf("connecting to kubernetes: %w", err)
	}

	settingsSvc := settings.NewService(db, logger)
	usageSvc := usage.NewService(db, logger)
	locks := lock.NewManager(rdb)
	publisher := notify.NewPublisher(rdb, cfg.SlackWebhookURL, logger)

	queue := tasks.NewQueue(taskQueueBuffer, logger)
	queue.Start(ctx, taskQueueWorkers)

	backend, err := storageBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}
	pds := pd.NewService(db, backend, settingsSvc, locks, logger)
	pds.SetUsageRecorder(usageSvc.Store())
	go pds.RunGC(ctx, cfg.PDGCInterval)

	logger.Info("worker started")
	rec := events.NewReconciler(cluster, pod.NewStore(db), usageSvc, rdb, publisher, queue, nil, nil, logger)
	rec.Run(ctx)
	logger.Info("worker stopped")
	return nil
}
