package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/bus"
	"github.com/hmonster013/ecommerce-microservice-sub008/circuitbreaker"
	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/config"
	"github.com/hmonster013/ecommerce-microservice-sub008/discovery"
	"github.com/hmonster013/ecommerce-microservice-sub008/middleware"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/database"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/engine"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/handlers"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/kafka"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

const serviceName = "order-service"

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing(serviceName)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	} else {
		defer shutdown()
	}

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Kafka producer
	producer, err := bus.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()
	publisher := bus.NewPublisher(producer, serviceName, logger)

	// Initialize Redis for Idempotency-Key deduplication
	rdb := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	// Initialize the downstream call fabric
	cfg, err := config.Load(os.Getenv("SERVICES_CONFIG"))
	if err != nil {
		logger.Fatal("Failed to load service table", zap.Error(err))
	}
	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultSettings(), clock.System())
	resolver := discovery.NewStatic(cfg.ServiceTable())
	fabric := clients.NewFabric(registry, resolver, clients.Options{
		CallerName: serviceName,
		Timeout:    cfg.ClientTimeout(),
		MaxRetries: cfg.Client.MaxRetries,
	}, logger)

	// Initialize the order engine
	repo := database.NewRepository(db, clock.System())
	eng := engine.New(
		repo,
		publisher,
		engine.ProductInventory{Client: fabric.Product},
		fabric.Payment,
		fabric.Notification,
		engine.NewRedisIdempotencyStore(rdb),
		clock.System(),
		logger,
	)

	// Start queue consumers in background
	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()
	kafka.NewConsumers(eng, publisher, logger).Start(consumerCtx)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.CorrelationMiddleware())
	router.Use(middleware.PrincipalMiddleware())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(serviceName))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "healthy", "service": serviceName})
	})

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Order endpoints
	handlers.NewOrderHandler(eng, logger).Register(router)

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8084"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Order service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	stopConsumers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
