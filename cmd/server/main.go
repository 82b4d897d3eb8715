package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/config"
	"github.com/tourbooking/booking-flow/internal/database"
	"github.com/tourbooking/booking-flow/internal/handlers"
	"github.com/tourbooking/booking-flow/internal/middleware"
	"github.com/tourbooking/booking-flow/internal/services"
	"github.com/tourbooking/booking-flow/pkg/jwt"
	"github.com/tourbooking/booking-flow/pkg/validator"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting Tour Booking Flow service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	// Database is optional: it backs the payment audit trail and the postgres fallback store
	var db *database.PostgresDB
	var auditLog services.AuditLog
	if cfg.Database.URL != "" {
		db, err = database.NewConnection(cfg.Database, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		logger.Info("Database connection established")

		auditRepo := database.NewPaymentAuditRepository(db, logger)
		if err := auditRepo.EnsureSchema(appCtx); err != nil {
			logger.Fatalf("Failed to prepare payment audit table: %v", err)
		}
		auditLog = auditRepo
	} else {
		logger.Warn("DATABASE_URL not set, payment audit trail disabled")
	}

	// Fallback snapshot storage
	var redisClient *redis.Client
	var storage database.SnapshotStorage
	switch cfg.Fallback.Store {
	case config.FallbackStoreRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(appCtx).Err(); err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		storage = database.NewRedisSnapshotStorage(redisClient)
	case config.FallbackStorePostgres:
		if db == nil {
			logger.Fatal("postgres fallback store requires DATABASE_URL")
		}
		pgStorage := database.NewPostgresSnapshotStorage(db)
		if err := pgStorage.EnsureSchema(appCtx); err != nil {
			logger.Fatalf("Failed to prepare snapshot table: %v", err)
		}
		storage = pgStorage
	default:
		storage = database.NewFileSnapshotStorage(cfg.Fallback.FilePath)
	}
	fallbackStore := database.NewFallbackStore(storage, cfg.Fallback.Capacity, logger)
	logger.WithField("store", cfg.Fallback.Store).Info("Fallback snapshot store initialized")

	// Initialize services
	logger.Info("Initializing services...")
	backend := services.NewBackendClient(cfg.Backend, logger)
	sessions := services.NewSessionRegistry()
	feed := services.NewNotificationFeed(services.DefaultFeedLimit)
	notifier := services.MultiNotifier{feed, services.NewLogNotifier(logger)}
	auditService := services.NewAuditService(auditLog, logger)
	shareTokens := jwt.NewService(cfg.Share.Secret, cfg.Share.Expiry)

	scriptLoader := services.NewScriptLoader(cfg.Checkout, logger)
	if err := scriptLoader.Load(appCtx); err != nil {
		logger.WithError(err).Warn("Checkout script unavailable, card payments disabled until restart")
	}
	defer scriptLoader.Close()
	checkout := services.NewSnapCheckout(scriptLoader, logger)

	reconciler := services.NewStatusReconciler(backend, fallbackStore, notifier, auditService, cfg.Polling, logger)
	reader := services.NewBookingReader(backend, fallbackStore, sessions, reconciler, logger)
	submitter := services.NewBookingSubmitter(backend, validator.NewBookingFormValidator(), fallbackStore, sessions, notifier, auditService, logger)
	payments := services.NewPaymentInitiator(backend, checkout, fallbackStore, notifier, auditService, cfg.IsDevelopment(), logger)
	actions := services.NewBookingActions(backend, reader, reconciler, fallbackStore, notifier, auditService, shareTokens, cfg.Server.PublicBaseURL, logger)
	logger.Info("Services initialized")

	// Background jobs
	var cronService *services.CronService
	if cfg.Reconcile.Enabled {
		cronService = services.NewCronService(cfg.Reconcile.Schedule, fallbackStore, sessions, reconciler, feed, logger)
		if err := cronService.Start(appCtx); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	}

	// Initialize handlers
	bookingHandler := handlers.NewBookingFlowHandler(appCtx, submitter, reader, payments, reconciler, actions, feed, logger)
	checkoutHandler := handlers.NewCheckoutHandler(scriptLoader, checkout, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.RequestMeta())

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check and metrics
	router.GET("/health", healthCheckHandler(db, redisClient, scriptLoader))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	bookingHandler.RegisterRoutes(v1)
	checkoutHandler.RegisterRoutes(v1)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if cronService != nil {
		cronService.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Stopping status pollers...")
	reconciler.StopAll()
	cancelApp()

	logger.Info("Server exited successfully")
}

// healthCheckHandler reports the state of the optional dependencies
func healthCheckHandler(db *database.PostgresDB, redisClient *redis.Client, loader *services.ScriptLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{
			"status":    "healthy",
			"checkout":  loader.Ready(),
			"version":   version,
			"timestamp": time.Now().Unix(),
		}

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["database"] = "unhealthy"
				body["error"] = err.Error()
			} else {
				body["database"] = "healthy"
			}
		}

		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = http.StatusServiceUnavailable
				body["redis"] = "unhealthy"
				body["error"] = err.Error()
			} else {
				body["redis"] = "healthy"
			}
		}

		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		c.JSON(status, body)
	}
}
