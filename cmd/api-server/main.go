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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/property-visit-scheduling/internal/api"
	"github.com/hackgods/property-visit-scheduling/internal/appointment"
	"github.com/hackgods/property-visit-scheduling/internal/config"
	"github.com/hackgods/property-visit-scheduling/internal/db"
	"github.com/hackgods/property-visit-scheduling/internal/logging"
	"github.com/hackgods/property-visit-scheduling/internal/notify"
	"github.com/hackgods/property-visit-scheduling/internal/property"
	redisclient "github.com/hackgods/property-visit-scheduling/internal/redis"
	"github.com/hackgods/property-visit-scheduling/internal/telemetry"
)

const serviceName = "visit-api"

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "err", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api-server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTelEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		return err
	}

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "err", err)
		}
	}()
	logger.Info("connected to Redis")

	notifier, closeNotifier := buildNotifier(cfg, logger)
	defer closeNotifier()

	var directory appointment.PropertyDirectory = property.NewPgDirectory(pgPool)
	if cfg.PropertyCacheTTL > 0 {
		directory = property.NewCachedDirectory(directory, rdb, cfg.PropertyCacheTTL, logger)
	}

	opts := []appointment.Option{appointment.WithLogger(logger)}
	switch cfg.LockBackend {
	case "redis":
		opts = append(opts, appointment.WithLocker(redisclient.NewOwnerLocker(rdb, cfg.LockTTL, cfg.LockWait)))
	case "local":
		opts = append(opts, appointment.WithLocker(appointment.NewLocalLocker()))
	}

	store := appointment.NewPgStore(pgPool, cfg.StoreReadAttempts)
	svc := appointment.NewService(store, directory, notifier, cfg, opts...)

	routerCfg := api.RouterConfig{
		Service:  svc,
		Auth:     buildAuthenticator(cfg),
		Logger:   logger,
		Required: map[string]api.Check{"postgres": pgPool.Ping},
		Optional: map[string]api.Check{"redis": redisclient.ReadyCheck(rdb)},
		Env:      cfg.Env,
		Version:  version,
	}
	if cfg.CreateRateLimit > 0 {
		routerCfg.RateLimiter = api.NewRateLimiter(rdb, cfg.CreateRateLimit, time.Minute, logger)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(api.NewRouter(routerCfg), "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}

	// let in-flight cancellation notices finish before closing their transport
	drained := make(chan struct{})
	go func() {
		svc.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("notifications still in flight at shutdown")
	}

	return nil
}

func buildNotifier(cfg config.Config, logger *slog.Logger) (appointment.Notifier, func()) {
	switch cfg.Notifier {
	case "http":
		return notify.NewHTTPNotifier(cfg.MessagingURL, cfg.MessagingToken, cfg.NotifyTimeout), func() {}
	case "kafka":
		n := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		return n, func() {
			if err := n.Close(); err != nil {
				logger.Warn("error closing kafka writer", "err", err)
			}
		}
	default:
		return notify.NewLogNotifier(logger), func() {}
	}
}

func buildAuthenticator(cfg config.Config) api.Authenticator {
	if cfg.AuthMode == "jwt" {
		return api.NewJWTAuthenticator(cfg.JWTSecret)
	}
	return api.HeaderAuthenticator{}
}
