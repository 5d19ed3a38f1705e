package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalog-import-service/internal/cache"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/events"
	"catalog-import-service/internal/handlers"
	"catalog-import-service/internal/importer"
	"catalog-import-service/internal/jobs"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Catalog Import API
// @version 1.0.0
// @description Asynchronous bulk import of catalog products from CSV and XLSX files

// @host localhost:8087
// @BasePath /api/v1

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to access database handle:", err)
	}

	opts := jobs.Options{MaxErrors: cfg.ImportMaxErrors}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, import snapshots stay in memory only")
		} else {
			opts.Snapshots = cache.NewSnapshotStore(redisClient, cfg.ImportSnapshotTTL)
			logger.Info("✓ Redis connected, import snapshots mirrored")
		}
	} else {
		logger.Info("REDIS_URL not set, import snapshots stay in memory only")
	}

	var eventsPublisher *events.Publisher
	if cfg.NATSURL != "" {
		eventsPublisher, err = events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize events publisher (continuing without event publishing)")
		} else {
			opts.Events = eventsPublisher
			logger.Info("✓ Events publisher initialized (NATS connected)")
		}
	} else {
		logger.Info("NATS_URL not set, skipping event publishing initialization")
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		log.Fatal("Failed to create upload directory:", err)
	}

	catalogRepo := repository.NewCatalogRepository(db)
	controller := jobs.NewController(jobs.NewRegistry(), importer.NewFileDecoder(), catalogRepo, opts, logger)

	importHandler := handlers.NewImportHandler(controller, cfg.UploadDir, cfg.MaxUploadBytes(), logger)
	healthHandler := handlers.NewHealthHandler(sqlDB, redisClient)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)

	api := router.Group("/api/v1")
	api.Use(middleware.CallerIdentity())
	{
		imports := api.Group("/products/import")
		imports.POST("", importHandler.ImportProducts)
		imports.GET("/status", importHandler.GetImportStatus)
		imports.GET("/active", importHandler.GetActiveImport)
		imports.POST("/cancel", importHandler.CancelImport)
		imports.GET("/template", importHandler.GetImportTemplate)
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.WithField("port", cfg.Port).Info("Catalog import service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-quit
	logger.Info("Shutting down catalog-import-service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := controller.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Import worker did not stop in time")
	}
	if eventsPublisher != nil {
		eventsPublisher.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := sqlDB.Close(); err != nil {
		logger.WithError(err).Warn("Error closing database")
	}

	logger.Info("Catalog import service stopped")
}
