package main

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shank50/metriq/internal/handler"
	"github.com/shank50/metriq/internal/ingest"
	"github.com/shank50/metriq/internal/middleware"
	"github.com/shank50/metriq/internal/model"
	"github.com/shank50/metriq/internal/shopify"
	"github.com/shank50/metriq/pkg/config"
	"github.com/shank50/metriq/pkg/database"
	"github.com/shank50/metriq/pkg/jwtutil"
	"github.com/shank50/metriq/pkg/logger"
	"github.com/shank50/metriq/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting analytics service...", cfg.LogConfig()...)

	// Initialize JWT signing
	jwtutil.Initialize(&cfg.JWT)

	// Initialize Prometheus metrics
	prometheus.InitMetrics(cfg)
	log.Info("Prometheus metrics initialized")

	// Initialize database and run migrations
	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()
	if err := database.MigrateModels(
		&model.User{},
		&model.Tenant{},
		&model.Customer{},
		&model.Product{},
		&model.Order{},
		&model.AbandonedCheckout{},
	); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database connection established and migrations completed")

	// Wire the ingestion pipeline
	store := ingest.NewGormStore(db, &cfg.Sync)
	newFetcher := func(domain, accessToken string) ingest.Fetcher {
		client := shopify.NewClientForVersion(domain, accessToken, cfg.Shopify.APIVersion)
		client.PageSize = cfg.Shopify.PageSize
		client.HTTPClient.Timeout = cfg.Shopify.Timeout
		return client
	}
	syncer := ingest.NewSyncer(store, newFetcher, &cfg.Sync, log)
	syncHandler := handler.NewSyncHandler(syncer)

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(middleware.MetricsMiddleware)

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	auth := e.Group("/api/auth")
	auth.POST("/register", handler.Register)
	auth.POST("/login", handler.Login)

	// Protected routes
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware)

	stores := api.Group("/stores")
	stores.POST("", handler.AddStore)
	stores.GET("", handler.ListStores)
	stores.PUT("/:id", handler.UpdateStore)
	stores.DELETE("/:id", handler.DeleteStore)

	api.POST("/sync", syncHandler.SyncStore)
	api.POST("/sync/all", syncHandler.SyncAllStores)

	dashboard := api.Group("/dashboard")
	dashboard.GET("/stats", handler.GetStats)
	dashboard.GET("/sales-over-time", handler.GetSalesOverTime)
	dashboard.GET("/top-customers", handler.GetTopCustomers)
	dashboard.GET("/sales-by-product", handler.GetSalesByProduct)
	dashboard.GET("/recent-orders", handler.GetRecentOrders)
	dashboard.GET("/abandoned-stats", handler.GetAbandonedStats)

	api.GET("/inventory", handler.GetInventory)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
