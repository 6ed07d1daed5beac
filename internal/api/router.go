package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/example/sourced-repo/internal/api/middleware"
	"github.com/example/sourced-repo/internal/domain/counter"
	"github.com/example/sourced-repo/internal/domain/product"
)

type RouterConfig struct {
	Counters *counter.Service
	Products *product.Service
	Health   HealthChecker
	Logger   *slog.Logger
}

// NewRouter builds the HTTP API. Routes for a nil service are not registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(logger))

	r.GET("/health", healthHandler(cfg.Health))

	if cfg.Counters != nil {
		h := NewCounterHandlers(cfg.Counters)
		counters := r.Group("/counters")
		counters.POST("", h.CreateCounter)
		counters.GET("", h.FindCounter)
		counters.GET("/:id", h.GetCounter)
		counters.POST("/:id/increment", h.IncrementCounter)
	}

	if cfg.Products != nil {
		h := NewProductHandlers(cfg.Products)
		products := r.Group("/products")
		products.POST("", h.CreateProduct)
		products.GET("", h.FindProduct)
		products.GET("/:id", h.GetProduct)
		products.PUT("/:id", h.UpdateProduct)
		products.POST("/:id/stock", h.AdjustStock)
		products.DELETE("/:id", h.DeleteProduct)
	}

	return r
}
