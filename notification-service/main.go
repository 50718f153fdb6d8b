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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/bus"
	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/middleware"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/database"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/engine"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/handlers"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/providers"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/scheduler"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

const serviceName = "notification-service"

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

	// Initialize Kafka producer for engagement events
	producer, err := bus.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()
	publisher := bus.NewPublisher(producer, serviceName, logger)

	// Initialize the notification engine with its channel drivers
	registry := providers.NewRegistry(
		providers.NewEmail(logger),
		providers.NewSMS(logger),
		providers.NewPush(logger),
		providers.NewInApp(logger),
		providers.NewWebhook(logger),
	)
	repo := database.NewRepository(db, clock.System())
	eng := engine.New(repo, registry, publisher, clock.System(), logger)

	// Queue sweeps
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()
	sched := scheduler.New(logger)
	sched.Add(scheduler.Job{Name: "delivery", Interval: engine.DeliverInterval, Run: eng.ProcessDeliveryQueue})
	sched.Add(scheduler.Job{Name: "retry", Interval: engine.RetryInterval, Run: eng.ProcessRetryQueue})
	sched.Add(scheduler.Job{Name: "reconcile", Interval: engine.ReconcileInterval, Run: eng.CheckDeliveryStatuses})
	sched.Start(sweepCtx)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.CorrelationMiddleware())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(serviceName))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "healthy", "service": serviceName})
	})

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Notification endpoints
	handlers.NewNotificationHandler(eng, logger).Register(router)

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8086"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Notification service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	stopSweeps()
	sched.Wait()

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
