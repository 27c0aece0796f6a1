package app

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"orderpay/internal/config"
	"orderpay/internal/handler"
	"orderpay/internal/metrics"
	"orderpay/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	OrderHandler        *handler.OrderHandler
	PaymentHandler      *handler.PaymentHandler
	MockProviderHandler *handler.MockProviderHandler
	RedisClient         redis.Cmdable
	RateLimiter         middleware.Limiter
	ServerMetrics       *metrics.ServerMetrics
	Gatherer            prometheus.Gatherer
	NewRelicApp         *newrelic.Application
	HTTP                config.HTTPConfig
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(cors.New(corsConfig(deps.HTTP.CORSOrigins)))

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.NewRelicAttributes())
	}
	if deps.ServerMetrics != nil {
		router.Use(middleware.Metrics(deps.ServerMetrics))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	api := router.Group("/api")
	api.Use(middleware.RateLimit(deps.RateLimiter, "api", deps.HTTP.RateLimitPerMinute, time.Minute))
	if deps.RedisClient != nil {
		api.Use(middleware.Idempotency(deps.RedisClient))
	}
	{
		orders := api.Group("/orders")
		{
			orders.POST("", deps.OrderHandler.CreateOrder)
			orders.GET("", deps.OrderHandler.GetAll)
			orders.GET("/:id", deps.OrderHandler.GetOrder)
			orders.POST("/:id/pay", middleware.RequireBearer(), deps.PaymentHandler.Pay)
		}

		api.GET("/transactions/:id", deps.OrderHandler.GetTransaction)

		api.POST("/mock-stripe/charge",
			middleware.RequireBearer(),
			middleware.RateLimit(deps.RateLimiter, "mock-stripe", deps.HTTP.MockRateLimit, time.Minute),
			deps.MockProviderHandler.Charge,
		)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Idempotent-Replayed"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
