package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/circuitbreaker"
	"github.com/hmonster013/ecommerce-microservice-sub008/clients"
	"github.com/hmonster013/ecommerce-microservice-sub008/clock"
	"github.com/hmonster013/ecommerce-microservice-sub008/config"
	"github.com/hmonster013/ecommerce-microservice-sub008/discovery"
	gwmiddleware "github.com/hmonster013/ecommerce-microservice-sub008/gateway/middleware"
	"github.com/hmonster013/ecommerce-microservice-sub008/gateway/router"
	"github.com/hmonster013/ecommerce-microservice-sub008/middleware"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

const serviceName = "api-gateway"

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Initialize configuration
	cfg, err := config.Load(os.Getenv("GATEWAY_CONFIG"))
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize tracing
	shutdownTracing, err := middleware.InitTracing(serviceName)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	} else {
		defer shutdownTracing()
	}

	// Initialize Redis for the token blacklist
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	auth, err := gwmiddleware.NewAuth(cfg.JWT, rdb, logger)
	if err != nil {
		logger.Fatal("Failed to configure token verification", zap.Error(err))
	}

	// Initialize the downstream call fabric
	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultSettings(), clock.System())
	resolver := discovery.NewStatic(cfg.ServiceTable())
	proxy := router.NewProxy(registry, resolver, clients.Options{
		CallerName: serviceName,
		Timeout:    cfg.ClientTimeout(),
		MaxRetries: cfg.Client.MaxRetries,
	}, logger)

	// Initialize Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.CorrelationMiddleware())
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.MetricsMiddleware(serviceName))
	r.Use(auth.Middleware())
	if cfg.RateLimit.Enabled {
		r.Use(gwmiddleware.NewRateLimiter(cfg.RateLimit).Middleware())
	}

	r.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "healthy", "service": serviceName})
	})
	r.GET("/metrics", middleware.PrometheusHandler())
	r.GET("/actuator/circuitbreakers", func(c *gin.Context) {
		states := make(map[string]string)
		for name, state := range registry.Snapshot() {
			states[name] = state.String()
		}
		response.OK(c, states)
	})

	proxy.Register(r)

	logger.Info("Starting API gateway", zap.String("addr", cfg.ListenAddr))
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}
