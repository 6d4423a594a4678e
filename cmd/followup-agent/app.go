package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"waterbar/internal/advice"
	"waterbar/internal/aggregator"
	"waterbar/internal/api"
	"waterbar/internal/audit"
	"waterbar/internal/changesource"
	"waterbar/internal/config"
	"waterbar/internal/constants"
	"waterbar/internal/dispatch"
	"waterbar/internal/ledger"
	"waterbar/internal/logger"
	"waterbar/internal/mcpbridge"
	"waterbar/internal/pipeline"
	"waterbar/internal/store"
	"waterbar/pkg/bootstrap"
	"waterbar/pkg/cel"
	"waterbar/pkg/circuitbreaker"
	"waterbar/pkg/health"
	"waterbar/pkg/metrics"
	"waterbar/pkg/middleware"
	"waterbar/pkg/migrations"
	"waterbar/pkg/ratelimit"
	"waterbar/pkg/tracing"
)

type App struct {
	*bootstrap.Base

	db       *sql.DB
	redis    *redis.Client
	mongo    *mongo.Database
	store    *store.CircuitBreakerStore
	ledgerCB *ledger.CircuitBreakerRepository
	ledger   *ledger.Service
	recorder audit.Recorder
	advice   *advice.Generator
	notifier *mcpbridge.Client
	driver   *pipeline.Driver
	source   changesource.Source

	limiter        *ratelimit.PerClient
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider
	startedAt      time.Time
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:      bootstrap.NewBase(cfg, log),
		startedAt: time.Now().UTC(),
	}
}

// Initialize builds everything serve needs: the pipeline, its change source
// and the admin HTTP server.
func (a *App) Initialize(ctx context.Context) error {
	if err := a.initCore(ctx); err != nil {
		return err
	}

	src, err := changesource.New(a.Config, a.store, a.Logger.Named("source"))
	if err != nil {
		return fmt.Errorf("failed to initialize change source: %w", err)
	}
	a.source = src
	a.OnShutdownClose("change source", src.Close)

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

// initCore builds the pipeline driver and its dependencies. The notifier is
// started here, so a launch failure aborts startup.
func (a *App) initCore(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp
	a.OnShutdown("tracer provider", tp.Shutdown)

	metrics.RegisterAll()

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := a.initLedger(ctx); err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	if err := a.initAudit(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	filter, err := evaluator.NewItemFilter(a.Config.Pipeline.ItemFilter)
	if err != nil {
		return fmt.Errorf("invalid pipeline.item_filter: %w", err)
	}
	agg := aggregator.New(a.store, filter, a.Logger.Named("aggregator"))

	provider, err := advice.NewProvider(a.Config.Advice)
	if err != nil {
		return fmt.Errorf("failed to initialize advice provider: %w", err)
	}
	a.advice = advice.NewGenerator(provider, a.Logger.Named("advice"),
		advice.WithCircuitBreaker(circuitbreaker.FromSettings("advice", a.Config.CircuitBreaker)),
		advice.WithTimeout(a.Config.Advice.Timeout),
		advice.WithFallback(a.Config.Advice.FallbackMessage),
	)
	a.Logger.InfowCtx(ctx, "Advice generator ready", "provider", a.advice.ProviderName())

	if err := a.initNotifier(ctx); err != nil {
		return err
	}

	a.driver = pipeline.NewDriver(agg, a.advice, a.notifier, a.Config.Notifier.ToolName,
		dispatch.PayloadBuilder{
			Flow:              a.Config.Notifier.Flow,
			CompletionMessage: a.Config.Pipeline.CompletionMessage,
		},
		a.Logger.Named("pipeline"),
		pipeline.WithLedger(a.ledger),
		pipeline.WithAudit(a.recorder),
		pipeline.WithRateLimit(a.Config.Notifier.RatePerSecond, constants.DefaultDispatchBurst),
	)
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.Databases.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	a.OnShutdownClose("postgres", db.Close)

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "PostgreSQL migrations applied")
	}

	a.store = store.NewCircuitBreakerStore(store.NewPostgresStore(db), a.Config.CircuitBreaker)
	return nil
}

func (a *App) initLedger(ctx context.Context) error {
	backend := a.Config.Ledger.Backend
	var repo ledger.Repository

	switch backend {
	case constants.LedgerBackendRedis:
		client, err := a.Databases.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redis = client
		a.OnShutdownClose("redis", client.Close)
		repo = ledger.NewRedisRepository(client)
	case constants.LedgerBackendSQLite:
		db, err := a.Databases.InitSQLite(ctx)
		if err != nil {
			return err
		}
		a.OnShutdownClose("sqlite", db.Close)
		sqliteRepo, err := ledger.NewSQLiteRepository(ctx, db)
		if err != nil {
			return err
		}
		repo = sqliteRepo
	case constants.LedgerBackendMemory, "":
		backend = constants.LedgerBackendMemory
		a.Logger.WarnwCtx(ctx, "Using in-memory ledger; duplicate protection does not survive a restart")
		repo = ledger.NewMemoryRepository()
	default:
		return fmt.Errorf("unknown ledger backend %q", backend)
	}

	a.ledgerCB = ledger.NewCircuitBreakerRepository(repo, backend, a.Config.CircuitBreaker)
	a.ledger = ledger.NewService(a.ledgerCB, backend, a.Config.Ledger, a.Logger.Named("ledger"))
	return nil
}

func (a *App) initAudit(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := a.Databases.InitMongoDB(initCtx)
	if err != nil {
		a.Logger.WarnwCtx(initCtx, "MongoDB connection failed, keeping the audit log in memory", "error", err)
		db = nil
	}
	if db == nil {
		a.recorder = audit.NewMemoryRecorder(0)
		return nil
	}

	a.mongo = db
	a.OnShutdown("mongodb", db.Client().Disconnect)

	if err := migrations.EnsureAuditIndexes(initCtx, db); err != nil {
		return err
	}
	a.recorder = audit.NewMongoRecorder(db)
	return nil
}

func (a *App) initNotifier(ctx context.Context) error {
	n := a.Config.Notifier
	if n.Command == "" {
		return fmt.Errorf("notifier.command is required")
	}

	a.notifier = mcpbridge.New(mcpbridge.Config{
		Command:     n.Command,
		Args:        n.Args,
		Dir:         n.WorkDir,
		CallTimeout: n.CallTimeout,
		Handshake:   n.Handshake,
	}, a.Logger.Named("notifier"))

	if err := a.notifier.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notifier: %w", err)
	}
	a.OnShutdownClose("notifier", a.notifier.Stop)
	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(a.Config.Management.RateLimit)
		a.limiter = ratelimit.NewPerClient(rateLimitConfig)
		router.Use(ratelimit.RateLimitMiddleware(a.limiter))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewStoreChecker(a.store))
	healthRegistry.Register(health.NewNotifierChecker(a.notifier))
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if a.mongo != nil {
		healthRegistry.RegisterOptional(health.NewMongoDBChecker(a.mongo.Client()))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	registerDocs(router)

	api.NewHandler(a.driver, a.recorder, a.status, a.Logger.Named("api")).RegisterRoutes(router)

	a.router = router
	return nil
}

func (a *App) status(ctx context.Context) api.Status {
	st := api.Status{
		Service:        constants.ServiceName,
		Notifier:       a.notifier.State().String(),
		AdviceProvider: a.advice.ProviderName(),
		Ledger:         api.LedgerStatus{Backend: a.ledger.Backend()},
		CircuitBreaker: map[string]string{
			"postgres-store": a.store.State(),
			"ledger":         a.ledgerCB.State(),
		},
		StartedAt: a.startedAt,
	}
	if a.source != nil {
		st.Source = a.source.Mode()
	}
	if st.Notifier == mcpbridge.StateRunning.String() && !a.notifier.Alive() {
		st.Notifier = "exited"
	}

	size, err := a.ledger.Size(ctx)
	if err != nil {
		st.Ledger.Error = err.Error()
	} else {
		st.Ledger.Reservations = size
	}
	return st
}

// Run serves HTTP and drives the pipeline until ctx is done or one of them
// fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.driver.Run(gctx, a.source)
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.RunCleanup(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorwCtx(shutdownCtx, "Shutdown incomplete", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// registerDocs serves the generated OpenAPI description of /api/v1.
func registerDocs(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
