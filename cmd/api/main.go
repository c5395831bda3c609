package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/maisonluxe/storefront/internal/api/http"
	"github.com/maisonluxe/storefront/internal/api/http/handlers"
	"github.com/maisonluxe/storefront/internal/auth"
	"github.com/maisonluxe/storefront/internal/config"
	"github.com/maisonluxe/storefront/internal/events"
	"github.com/maisonluxe/storefront/internal/observability"
	"github.com/maisonluxe/storefront/internal/persistence"
	"github.com/maisonluxe/storefront/internal/ratelimit"
	"github.com/maisonluxe/storefront/internal/repository"
	"github.com/maisonluxe/storefront/internal/service"
	"github.com/maisonluxe/storefront/internal/session"
	"github.com/maisonluxe/storefront/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.OpenPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if _, err := persistence.Migrate(ctx, pg.Pool, persistence.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	readiness := map[string]handlers.Pinger{"postgres": pg}

	var (
		sessionStore session.Store
		revoker      session.SubjectRevoker
		windowStore  ratelimit.Store
	)
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory session and rate-limit stores; state is not shared between instances")
		memory := session.NewMemoryStore(cfg.Session.TTL)
		sessionStore, revoker = memory, memory
		windowStore = ratelimit.NewMemoryStore()
	default:
		redis := persistence.OpenRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
		readiness["redis"] = redis
		redisSessions := session.NewRedisStore(redis.Client, cfg.Session.KeyPrefix, cfg.Session.TTL)
		sessionStore, revoker = redisSessions, redisSessions
		windowStore = ratelimit.NewRedisStore(redis.Client, cfg.RateLimit.Prefix)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(observability.MetricsOptions{Registerer: registry})
	if err != nil {
		logger.Fatal("failed to init metrics", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	var (
		sink        *events.AsyncSink
		sinkHandler events.EventHandler
	)
	if cfg.Events.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Queue, logger)
		if err != nil {
			logger.Fatal("failed to init event publisher", zap.Error(err))
		}
		defer publisher.Close() //nolint:errcheck
		publisher.WithDialTimeout(cfg.Events.DialTimeout)
		sink = events.NewAsyncSink(publisher.Handle, cfg.Events.Buffer, logger)
		sinkHandler = sink.Handle
	}
	workerCtx, stopWorkers := context.WithCancel(ctx)
	auditDone := worker.StartAuditWorker(workerCtx, service.NewAuditService(dispatcher, logger, sinkHandler), sink)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL())
	userRepo := repository.NewUserRepository(pg.Pool)
	permissions := auth.DefaultRegistry()

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:   userRepo,
		Sessions:   sessionStore,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err := authService.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword); err != nil {
		logger.Fatal("failed to bootstrap admin", zap.Error(err))
	}
	userService := service.NewUserService(userRepo, revoker, dispatcher, logger)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(windowStore, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	gate, err := auth.NewGate(auth.GateConfig{
		Routes:    auth.DefaultRouteTable(),
		LoginPath: cfg.Frontend.LoginPath,
		HomePath:  cfg.Frontend.HomePath,
	}, auth.GateDependencies{
		Tokens:   tokens,
		Sessions: sessionStore,
		Limiter:  limiter,
		Registry: permissions,
		Policy:   auth.DefaultPolicy(),
		Logger:   logger,
		Metrics:  metrics,
		Events:   dispatcher,
	})
	if err != nil {
		logger.Fatal("failed to build request gate", zap.Error(err))
	}

	cookies := session.CookieOptions{
		Domain: cfg.Auth.CookieDomain,
		Secure: cfg.Auth.CookieSecure || cfg.App.IsProduction(),
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ProxyHeader:  cfg.App.ProxyHeader,
		ErrorHandler: httptransport.ErrorHandler,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	routes := httptransport.RouteConfig{
		Health:     handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness),
		Auth:       handlers.NewAuthHandler(authService, auth.NewLoginThrottle(cfg.Auth.LoginAttemptsPerMinute, cfg.Auth.LoginBurst), cookies),
		Account:    handlers.NewAccountHandler(authService, permissions),
		AdminUsers: handlers.NewAdminUsersHandler(userService),
		Pages:      handlers.NewPageHandler(cfg.Frontend.URL, logger),
		Gate:       gate,
		Registry:   permissions,
	}
	if cfg.Metrics.Enabled {
		routes.MetricsPath = cfg.Metrics.Path
		routes.MetricsHandler = adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	httptransport.RegisterRoutes(app, routes)

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	stopWorkers()
	select {
	case <-auditDone:
	case <-time.After(5 * time.Second):
		logger.Warn("audit sink did not drain before shutdown")
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
