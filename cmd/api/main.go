package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	_ "github.com/joho/godotenv/autoload"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sjperalta/school-ledger-api/docs" // Swagger docs
	"github.com/sjperalta/school-ledger-api/internal/config"
	"github.com/sjperalta/school-ledger-api/internal/database"
	"github.com/sjperalta/school-ledger-api/internal/handlers"
	"github.com/sjperalta/school-ledger-api/internal/jobs"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/locking"
	"github.com/sjperalta/school-ledger-api/internal/metrics"
	"github.com/sjperalta/school-ledger-api/internal/middleware"
	"github.com/sjperalta/school-ledger-api/internal/repository"
	"github.com/sjperalta/school-ledger-api/internal/services"
	"github.com/sjperalta/school-ledger-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// @title School Ledger API
// @version 1.0
// @description Tuition ledger: splits student payments across tranches, applies scholarships and time reductions, and keeps an append-only per-tranche ledger.

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Setup(cfg.Environment, cfg.LogLevel)

	// Initialize Sentry (GlitchTip) when DSN is configured
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			logger.Info("Sentry initialized")
		}
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to database")

	if cfg.AutoMigrate {
		sqlDB, err := db.DB()
		if err == nil {
			err = database.Migrate(sqlDB)
		}
		if err != nil {
			logger.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("Database migrations applied")
	}

	// Per-student payment locks: Redis when configured, in-process otherwise
	locker, closeLocker := newLocker(cfg)
	defer closeLocker()

	m := metrics.Ledger()

	// Initialize repositories
	repos := repository.NewRepositories(db, repository.LedgerOptions{
		Receipts:        ledger.NewULIDReceiptGenerator(cfg.ReceiptPrefix),
		ReceiptAttempts: cfg.ReceiptMaxAttempts,
		Metrics:         m,
	})

	// Initialize background worker
	worker := jobs.NewWorker(cfg.WorkerCount)
	logger.Info("Started background worker", "goroutines", cfg.WorkerCount)

	// Initialize services
	svcs := services.NewServices(repos, worker, locker, cfg, db, m)

	// Schedule recurring jobs
	scheduleJobs(worker, svcs)

	// Initialize handlers
	h := handlers.NewHandlers(svcs, db)

	// Setup router
	router := setupRouter(h, cfg)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Drains pending audit writes before the database goes away
	worker.Shutdown()
	logger.Info("Background worker stopped")

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	if cfg.SentryDSN != "" {
		sentry.Flush(5 * time.Second)
	}

	logger.Info("Server exited gracefully")
}

func newLocker(cfg *config.Config) (locking.Locker, func()) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set, payment locks are local to this process")
		return locking.NewLocalLocker(), func() {}
	}

	rdb, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to redis")

	return locking.NewRedisLocker(rdb, cfg.LockTTL), func() { _ = rdb.Close() }
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Global middleware
	if cfg.SentryDSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Redirect root to swagger
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 routes
	h.RegisterRoutes(router.Group("/api/v1"), cfg.JWTSecret)

	return router
}

func scheduleJobs(worker *jobs.Worker, svcs *services.Services) {
	// Drop fee schedules nobody asked for since their TTL passed
	worker.ScheduleEvery(10*time.Minute, func(ctx context.Context) error {
		return svcs.FeeSchedule.PurgeExpired(ctx)
	})

	// Walk every (student, tranche) chain and publish broken links, once at boot then hourly
	worker.ScheduleEveryImmediate(1*time.Hour, func(ctx context.Context) error {
		logger.Info("[Job] Verifying ledger integrity...")
		return svcs.Payment.VerifyLedgerIntegrity(ctx)
	})

	logger.Info("Scheduled recurring jobs")
}
